package sources

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// skipped elements contribute no text.
var skipped = map[string]bool{"script": true, "style": true, "noscript": true, "head": true}

// CleanText reduces agent-captured markup to plain text and collapses
// whitespace. Plain text passes through unchanged apart from whitespace.
func CleanText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapse(s)
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	depth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return collapse(b.String())
			}
			return collapse(s)
		case html.StartTagToken:
			name, _ := z.TagName()
			if skipped[string(name)] {
				depth++
			} else if isBlock(string(name)) {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skipped[string(name)] && depth > 0 {
				depth--
			} else if isBlock(string(name)) {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if depth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "td", "section", "article":
		return true
	}
	return false
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }
