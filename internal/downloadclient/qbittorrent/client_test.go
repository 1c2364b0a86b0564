package qbittorrent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

// loginOK handles auth/login with the success body qBittorrent returns.
func loginOK(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Path == "/api/v2/auth/login" {
		w.Write([]byte("Ok."))
		return true
	}
	return false
}

func TestClient_Type(t *testing.T) {
	client := NewFromConfig(&types.ClientConfig{Host: "localhost", Port: 8080})

	if client.Type() != types.ClientTypeQBittorrent {
		t.Errorf("expected ClientTypeQBittorrent, got %s", client.Type())
	}
}

func TestClient_Protocol(t *testing.T) {
	client := NewFromConfig(&types.ClientConfig{Host: "localhost", Port: 8080})

	if client.Protocol() != types.ProtocolTorrent {
		t.Errorf("expected ProtocolTorrent, got %s", client.Protocol())
	}
}

func TestClient_Test_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginOK(w, r) {
			return
		}
		if r.URL.Path == "/api/v2/app/version" {
			w.Write([]byte("v5.0.1\n"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := createClientFromServer(t, server, &types.ClientConfig{})

	info, err := client.Test(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if info.Version != "v5.0.1" {
		t.Errorf("expected version v5.0.1, got %s", info.Version)
	}
}

func TestClient_Test_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/auth/login" {
			w.Write([]byte("Fails."))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := createClientFromServer(t, server, &types.ClientConfig{})

	_, err := client.Test(context.Background())
	if !errors.Is(err, types.ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestClient_Add_Magnet(t *testing.T) {
	magnet := "magnet:?xt=urn:btih:ABCDEF0123456789ABCDEF0123456789ABCDEF01&dn=test"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginOK(w, r) {
			return
		}
		if r.URL.Path == "/api/v2/torrents/add" {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("failed to parse multipart form: %v", err)
			}
			if got := r.FormValue("urls"); got != magnet {
				t.Errorf("unexpected urls field %q", got)
			}
			if got := r.FormValue("category"); got != "tv" {
				t.Errorf("expected category tv, got %q", got)
			}
			w.Write([]byte("Ok."))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := createClientFromServer(t, server, &types.ClientConfig{})

	id, err := client.Add(context.Background(), types.AddInput{MagnetURI: magnet}, types.AddOptions{Category: "tv"})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if id != "abcdef0123456789abcdef0123456789abcdef01" {
		t.Errorf("expected lowercased info hash, got %s", id)
	}
}

func TestClient_Add_TorrentFile(t *testing.T) {
	torrent := []byte("d8:announce9:localhost4:infod4:name4:test6:lengthi100eee")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginOK(w, r) {
			return
		}
		if r.URL.Path == "/api/v2/torrents/add" {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("failed to parse multipart form: %v", err)
			}
			if r.MultipartForm == nil || len(r.MultipartForm.File["torrents"]) != 1 {
				t.Error("expected a torrents file part")
			}
			w.Write([]byte("Ok."))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := createClientFromServer(t, server, &types.ClientConfig{})

	id, err := client.Add(context.Background(), types.AddInput{FileContent: torrent}, types.AddOptions{})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	want, err := InfoHashFromTorrent(torrent)
	if err != nil {
		t.Fatalf("InfoHashFromTorrent() failed: %v", err)
	}
	if id != want {
		t.Errorf("expected hash %s, got %s", want, id)
	}
}

func TestClient_Add_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginOK(w, r) {
			return
		}
		w.Write([]byte("Fails."))
	}))
	defer server.Close()

	client := createClientFromServer(t, server, &types.ClientConfig{})

	_, err := client.Add(context.Background(), types.AddInput{MagnetURI: "magnet:?xt=urn:btih:ff"}, types.AddOptions{})
	if err == nil {
		t.Error("expected error when qBittorrent rejects the torrent")
	}
}

func TestClient_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginOK(w, r) {
			return
		}
		if r.URL.Path == "/api/v2/torrents/info" {
			json.NewEncoder(w).Encode([]torrentInfo{
				{
					Hash:       "abc123",
					Name:       "Ubuntu 24.04",
					State:      "downloading",
					Progress:   0.75,
					Size:       4294967296,
					Downloaded: 3221225472,
					DLSpeed:    1048576,
					UPSpeed:    524288,
					ETA:        3600,
					Ratio:      0.5,
					SavePath:   "/downloads",
				},
				{
					Hash:         "def456",
					Name:         "Debian 12",
					State:        "pausedUP",
					Progress:     1.0,
					CompletionOn: 1700000000,
				},
				{
					Hash:  "ghi789",
					Name:  "Broken",
					State: "missingFiles",
				},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := createClientFromServer(t, server, &types.ClientConfig{})

	transfers, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(transfers) != 3 {
		t.Fatalf("expected 3 transfers, got %d", len(transfers))
	}

	if transfers[0].State != types.StateDownloading {
		t.Errorf("expected downloading, got %s", transfers[0].State)
	}
	if transfers[0].Progress != 75 {
		t.Errorf("expected progress 75, got %f", transfers[0].Progress)
	}
	if transfers[1].State != types.StateCompleted {
		t.Errorf("expected completed, got %s", transfers[1].State)
	}
	if transfers[1].CompletedAt.IsZero() {
		t.Error("expected completion time to be set")
	}
	if transfers[2].State != types.StateError {
		t.Errorf("expected error state, got %s", transfers[2].State)
	}
	if transfers[2].Error == "" {
		t.Error("expected error message for missingFiles torrent")
	}
}

func TestClient_List_FiltersByCategory(t *testing.T) {
	var gotCategory string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginOK(w, r) {
			return
		}
		if r.URL.Path == "/api/v2/torrents/info" {
			gotCategory = r.URL.Query().Get("category")
			w.Write([]byte("[]"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := createClientFromServer(t, server, &types.ClientConfig{Category: "medialoom"})

	if _, err := client.List(context.Background()); err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if gotCategory != "medialoom" {
		t.Errorf("expected category filter medialoom, got %q", gotCategory)
	}
}

func TestClient_Remove(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginOK(w, r) {
			return
		}
		if r.URL.Path == "/api/v2/torrents/delete" {
			r.ParseForm()
			if r.FormValue("hashes") != "abc123" {
				t.Errorf("unexpected hashes %q", r.FormValue("hashes"))
			}
			if r.FormValue("deleteFiles") != "true" {
				t.Errorf("expected deleteFiles true, got %q", r.FormValue("deleteFiles"))
			}
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := createClientFromServer(t, server, &types.ClientConfig{})

	if err := client.Remove(context.Background(), "abc123", true); err != nil {
		t.Errorf("Remove() failed: %v", err)
	}
}

func TestClient_Remove_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginOK(w, r) {
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := createClientFromServer(t, server, &types.ClientConfig{})

	err := client.Remove(context.Background(), "missing", false)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMapState(t *testing.T) {
	tests := []struct {
		state string
		want  types.TransferState
	}{
		{"downloading", types.StateDownloading},
		{"stalledDL", types.StateDownloading},
		{"metaDL", types.StateDownloading},
		{"uploading", types.StateSeeding},
		{"stalledUP", types.StateSeeding},
		{"pausedDL", types.StatePaused},
		{"stoppedDL", types.StatePaused},
		{"pausedUP", types.StateCompleted},
		{"checkingDL", types.StateChecking},
		{"queuedDL", types.StateQueued},
		{"error", types.StateError},
		{"missingFiles", types.StateError},
		{"somethingNew", types.StateUnknown},
	}

	for _, tt := range tests {
		if got := mapState(tt.state); got != tt.want {
			t.Errorf("mapState(%q) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func createClientFromServer(t *testing.T, server *httptest.Server, baseCfg *types.ClientConfig) *Client {
	t.Helper()

	parsedURL, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("failed to parse server URL: %v", err)
	}

	portInt := 0
	if _, err := fmt.Sscanf(parsedURL.Port(), "%d", &portInt); err != nil {
		t.Fatalf("failed to parse port: %v", err)
	}

	cfg := *baseCfg
	cfg.Host = parsedURL.Hostname()
	cfg.Port = portInt

	return NewFromConfig(&cfg)
}
