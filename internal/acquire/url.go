package acquire

import "strings"

// normalizeURL percent-encodes the path segment of an HTTP(S) URL so that
// filenames containing spaces or brackets survive the request. Sequences
// that are already percent-encoded are left untouched, so the function is
// safe to apply to URLs an indexer has partially encoded.
func normalizeURL(raw string) string {
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd < 0 {
		return raw
	}

	rest := raw[schemeEnd+3:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return raw
	}
	pathStart := schemeEnd + 3 + slash

	pathEnd := len(raw)
	if i := strings.IndexAny(raw[pathStart:], "?#"); i >= 0 {
		pathEnd = pathStart + i
	}

	return raw[:pathStart] + encodePath(raw[pathStart:pathEnd]) + raw[pathEnd:]
}

func encodePath(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '%' && i+2 < len(path) && isHex(path[i+1]) && isHex(path[i+2]) {
			b.WriteString(path[i : i+3])
			i += 2
			continue
		}
		if pathByteAllowed(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0F])
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

func isHex(c byte) bool {
	switch {
	case '0' <= c && c <= '9':
		return true
	case 'a' <= c && c <= 'f':
		return true
	case 'A' <= c && c <= 'F':
		return true
	}
	return false
}

// pathByteAllowed reports whether a byte may appear unescaped in a URL
// path per RFC 3986's pchar set, plus the path separator itself.
func pathByteAllowed(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '_', '~', // unreserved
		'!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=', // sub-delims
		':', '@', '/':
		return true
	}
	return false
}
