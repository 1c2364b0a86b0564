package acquire

import (
	"bytes"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

// bencodeAnnouncePrefix is the start of a bencoded dictionary whose first
// key is "announce", which every tracker-based .torrent file begins with.
var bencodeAnnouncePrefix = []byte("d8:announce")

// DetectFileType sniffs a fetched body for a known download file format.
// It returns an empty FileType when the body is neither a torrent nor an
// NZB; callers then fall back to HTML magnet extraction.
func DetectFileType(body []byte) types.FileType {
	if isNZB(body) {
		return types.FileTypeNZB
	}
	if bytes.HasPrefix(body, bencodeAnnouncePrefix) {
		return types.FileTypeTorrent
	}
	return ""
}

// isNZB reports whether the body looks like a Usenet NZB index: an XML
// document that mentions nzb anywhere, matched case-insensitively.
func isNZB(body []byte) bool {
	lower := bytes.ToLower(body)
	return bytes.Contains(lower, []byte("<?xml")) && bytes.Contains(lower, []byte("nzb"))
}
