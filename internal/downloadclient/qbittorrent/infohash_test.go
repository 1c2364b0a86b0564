package qbittorrent

import (
	"crypto/sha1"
	"fmt"
	"testing"
)

func TestInfoHashFromMagnet(t *testing.T) {
	tests := []struct {
		name   string
		magnet string
		want   string
	}{
		{
			name:   "hex hash",
			magnet: "magnet:?xt=urn:btih:C12FE1C06BBA254A9DC9F519B335AA7C1367A88A&dn=file",
			want:   "c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
		},
		{
			name:   "hash after other params",
			magnet: "magnet:?dn=file&xt=urn:btih:abc123",
			want:   "abc123",
		},
		{
			name:   "no exact topic",
			magnet: "magnet:?dn=file",
			want:   "",
		},
		{
			name:   "not a magnet",
			magnet: "https://example.com/file.torrent",
			want:   "",
		},
		{
			name:   "no query",
			magnet: "magnet:",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InfoHashFromMagnet(tt.magnet); got != tt.want {
				t.Errorf("InfoHashFromMagnet(%q) = %q, want %q", tt.magnet, got, tt.want)
			}
		})
	}
}

func TestInfoHashFromTorrent(t *testing.T) {
	infoDict := "d6:lengthi100e4:name4:test12:piece lengthi16384e6:pieces20:aaaaaaaaaaaaaaaaaaaae"
	torrent := []byte("d8:announce9:localhost4:info" + infoDict + "e")

	hash, err := InfoHashFromTorrent(torrent)
	if err != nil {
		t.Fatalf("InfoHashFromTorrent() failed: %v", err)
	}

	want := fmt.Sprintf("%x", sha1.Sum([]byte(infoDict)))
	if hash != want {
		t.Errorf("expected %s, got %s", want, hash)
	}
}

func TestInfoHashFromTorrent_InfoNotFirst(t *testing.T) {
	infoDict := "d4:name4:teste"
	torrent := []byte("d8:announce9:localhost7:comment5:hello4:info" + infoDict + "13:creation datei1700000000ee")

	hash, err := InfoHashFromTorrent(torrent)
	if err != nil {
		t.Fatalf("InfoHashFromTorrent() failed: %v", err)
	}

	want := fmt.Sprintf("%x", sha1.Sum([]byte(infoDict)))
	if hash != want {
		t.Errorf("expected %s, got %s", want, hash)
	}
}

func TestInfoHashFromTorrent_Invalid(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("not bencode"),
		[]byte("d8:announce9:localhoste"), // no info dict
		[]byte("d4:info"),                 // truncated
	}

	for _, data := range cases {
		if _, err := InfoHashFromTorrent(data); err == nil {
			t.Errorf("expected error for %q", data)
		}
	}
}
