package acquire

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// magnetPattern matches a magnet URI embedded anywhere in raw markup.
var magnetPattern = regexp.MustCompile(`magnet:\?[^"'<>\s\\]+`)

// ExtractMagnet pulls the first magnet URI out of an HTML document. Three
// strategies are tried in order: anchor href attributes, data-href/data-url
// attributes, and finally a raw regex scan over the markup. HTML-escaped
// ampersands are unescaped in the result.
func ExtractMagnet(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		if magnet := magnetFromAnchors(doc); magnet != "" {
			return unescapeMagnet(magnet), nil
		}
		if magnet := magnetFromDataAttrs(doc); magnet != "" {
			return unescapeMagnet(magnet), nil
		}
	}

	if match := magnetPattern.Find(body); match != nil {
		return unescapeMagnet(string(match)), nil
	}

	return "", ErrNoMagnetFound
}

func magnetFromAnchors(doc *goquery.Document) string {
	var magnet string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "magnet:") {
			magnet = href
			return false
		}
		return true
	})
	return magnet
}

func magnetFromDataAttrs(doc *goquery.Document) string {
	var magnet string
	doc.Find("[data-href], [data-url]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"data-href", "data-url"} {
			if val, ok := s.Attr(attr); ok && strings.HasPrefix(val, "magnet:") {
				magnet = val
				return false
			}
		}
		return true
	})
	return magnet
}

func unescapeMagnet(magnet string) string {
	return strings.ReplaceAll(magnet, "&amp;", "&")
}
