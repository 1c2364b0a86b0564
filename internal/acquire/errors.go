package acquire

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrTooManyRedirects     = errors.New("too many redirects")
	ErrMissingLocation      = errors.New("redirect response missing Location header")
	ErrNoMagnetFound        = errors.New("no magnet link found in response")
	ErrEmptyAntiBotResponse = errors.New("empty response from anti-bot fetcher")
)

// bodyPreviewLimit caps how much response body is carried in errors.
const bodyPreviewLimit = 256

// UnexpectedStatusError reports a non-2xx, non-redirect response, with a
// truncated body excerpt for diagnostics.
type UnexpectedStatusError struct {
	StatusCode  int
	BodyPreview string
}

func (e *UnexpectedStatusError) Error() string {
	if e.BodyPreview == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.BodyPreview)
}

func newUnexpectedStatusError(statusCode int, body []byte) *UnexpectedStatusError {
	preview := strings.TrimSpace(string(body))
	if len(preview) > bodyPreviewLimit {
		preview = preview[:bodyPreviewLimit]
		// Do not cut a multi-byte rune in half.
		for !utf8.ValidString(preview) && preview != "" {
			preview = preview[:len(preview)-1]
		}
	}
	return &UnexpectedStatusError{StatusCode: statusCode, BodyPreview: preview}
}
