package extract

import (
	"context"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// HTMLExtractor keeps the visible text of an HTML page.
type HTMLExtractor struct{}

func NewHTMLExtractor() *HTMLExtractor { return &HTMLExtractor{} }

func (e *HTMLExtractor) Extract(ctx context.Context, r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var sb strings.Builder
	extractHTMLText(doc, &sb, 0)
	return cleanText(sb.String()), nil
}

func extractHTMLText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 256 {
		return
	}
	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "head", "template", "svg", "iframe":
			return
		case "br":
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractHTMLText(c, sb, depth+1)
	}
	if n.Type == html.ElementNode && isHTMLBlock(n.Data) {
		sb.WriteString("\n")
	}
}

func isHTMLBlock(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "li", "tr", "table", "ul", "ol", "blockquote", "pre",
		"h1", "h2", "h3", "h4", "h5", "h6", "title", "header", "footer", "main", "aside", "dt", "dd":
		return true
	}
	return false
}

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]+`)
)

// cleanText collapses runs of blanks, trims every line and limits blank lines to one.
func cleanText(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
