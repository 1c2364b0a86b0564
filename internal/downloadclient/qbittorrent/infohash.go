package qbittorrent

import (
	"crypto/sha1"
	"fmt"
	"strings"
)

// InfoHashFromMagnet extracts the btih info hash from a magnet URI.
// Returns "" when the URI carries no btih exact topic.
func InfoHashFromMagnet(magnetURI string) string {
	if !strings.HasPrefix(magnetURI, "magnet:") {
		return ""
	}

	parts := strings.SplitN(magnetURI, "?", 2)
	if len(parts) < 2 {
		return ""
	}

	for _, param := range strings.Split(parts[1], "&") {
		if strings.HasPrefix(param, "xt=urn:btih:") {
			return strings.ToLower(strings.TrimPrefix(param, "xt=urn:btih:"))
		}
	}

	return ""
}

// InfoHashFromTorrent computes the SHA-1 of the bencoded info dictionary.
// qBittorrent identifies torrents by this hash but does not return it from
// the add endpoint, so we derive it from the file before submitting.
func InfoHashFromTorrent(data []byte) (string, error) {
	if len(data) == 0 || data[0] != 'd' {
		return "", fmt.Errorf("not a bencoded dictionary")
	}

	pos := 1
	for pos < len(data) && data[pos] != 'e' {
		key, next, err := bencodeString(data, pos)
		if err != nil {
			return "", err
		}
		start := next
		end, err := bencodeSkip(data, start)
		if err != nil {
			return "", err
		}
		if key == "info" {
			sum := sha1.Sum(data[start:end])
			return fmt.Sprintf("%x", sum), nil
		}
		pos = end
	}

	return "", fmt.Errorf("torrent has no info dictionary")
}

// bencodeString reads a length-prefixed string at pos, returning its value
// and the offset just past it.
func bencodeString(data []byte, pos int) (string, int, error) {
	colon := -1
	for i := pos; i < len(data); i++ {
		if data[i] == ':' {
			colon = i
			break
		}
		if data[i] < '0' || data[i] > '9' {
			return "", 0, fmt.Errorf("invalid string length at offset %d", pos)
		}
	}
	if colon < 0 {
		return "", 0, fmt.Errorf("unterminated string length at offset %d", pos)
	}

	length := 0
	for i := pos; i < colon; i++ {
		length = length*10 + int(data[i]-'0')
	}
	end := colon + 1 + length
	if end > len(data) {
		return "", 0, fmt.Errorf("string overruns buffer at offset %d", pos)
	}
	return string(data[colon+1 : end]), end, nil
}

// bencodeSkip returns the offset just past the value starting at pos.
func bencodeSkip(data []byte, pos int) (int, error) {
	if pos >= len(data) {
		return 0, fmt.Errorf("unexpected end of data at offset %d", pos)
	}

	switch {
	case data[pos] == 'i':
		for i := pos + 1; i < len(data); i++ {
			if data[i] == 'e' {
				return i + 1, nil
			}
		}
		return 0, fmt.Errorf("unterminated integer at offset %d", pos)
	case data[pos] == 'l' || data[pos] == 'd':
		cur := pos + 1
		for cur < len(data) && data[cur] != 'e' {
			next, err := bencodeSkip(data, cur)
			if err != nil {
				return 0, err
			}
			cur = next
		}
		if cur >= len(data) {
			return 0, fmt.Errorf("unterminated container at offset %d", pos)
		}
		return cur + 1, nil
	case data[pos] >= '0' && data[pos] <= '9':
		_, next, err := bencodeString(data, pos)
		return next, err
	default:
		return 0, fmt.Errorf("invalid bencode token %q at offset %d", data[pos], pos)
	}
}
