package fetcher

import (
	"bytes"

	"golang.org/x/net/html"
)

var shellMarkers = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte("<noscript>you need to enable javascript"),
	[]byte("<noscript>enable javascript"),
}

// IsSufficient reports whether a document carries enough visible text to
// be used without running its scripts. Pages under 256 bytes, with less
// than 200 text characters or under 10% text, and known client-rendered
// shells are insufficient.
func IsSufficient(doc []byte) bool {
	if len(doc) < 256 {
		return false
	}
	lower := bytes.ToLower(doc)
	for _, m := range shellMarkers {
		if bytes.Contains(lower, m) {
			return false
		}
	}

	text, markup := textMarkup(doc)
	total := text + markup
	if total == 0 || text < 200 {
		return false
	}
	return float64(text)/float64(total) >= 0.10
}

// textMarkup counts visible non-space text bytes against everything else.
// Script and style bodies count as markup.
func textMarkup(doc []byte) (text, markup int) {
	z := html.NewTokenizer(bytes.NewReader(doc))
	raw := 0
	skip := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		b := z.Raw()
		raw += len(b)
		switch tt {
		case html.StartTagToken:
			if name, _ := z.TagName(); isOpaque(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isOpaque(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			for _, c := range b {
				if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
					text++
				}
			}
		}
	}
	return text, raw - text
}

func isOpaque(tag []byte) bool {
	return bytes.Equal(tag, []byte("script")) || bytes.Equal(tag, []byte("style"))
}
