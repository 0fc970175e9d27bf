package browser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// VisibleText extracts the human-readable text of an HTML document, dropping
// scripts, styles and other non-rendered elements. Block elements become line
// breaks and runs of whitespace collapse to one space. When maxLength is
// positive the result is cut to at most that many bytes, on a rune boundary,
// and truncated is true.
func VisibleText(rawHTML string, maxLength int) (text string, truncated bool, err error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", false, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var lines []string
	var line strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode:
			return
		case html.TextNode:
			line.WriteString(n.Data)
			line.WriteByte(' ')
			return
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			if isSkippedElement(tag) || tag == "head" {
				return
			}
			if isBlockElement(tag) || tag == "br" {
				flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlockElement(strings.ToLower(n.Data)) {
			flush()
		}
	}
	walk(doc)
	flush()

	text = strings.Join(lines, "\n")
	if maxLength > 0 && len(text) > maxLength {
		return Truncate(text, maxLength), true, nil
	}
	return text, false, nil
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ExtractTitle returns the contents of the document's <title> element.
func ExtractTitle(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	var title string
	var traverse func(*html.Node) bool
	traverse = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if traverse(c) {
				return true
			}
		}
		return false
	}
	traverse(doc)
	return title
}

// isSkippedElement returns true for elements that are never rendered as text
func isSkippedElement(tagName string) bool {
	switch tagName {
	case "script", "style", "noscript", "iframe", "embed", "object", "svg", "template":
		return true
	}
	return false
}

// isBlockElement returns true for block-level elements
func isBlockElement(tagName string) bool {
	switch tagName {
	case "div", "p", "section", "article", "header", "footer", "nav", "main", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "table", "tr", "td", "th",
		"form", "fieldset", "blockquote", "pre", "body":
		return true
	}
	return false
}
