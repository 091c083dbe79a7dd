// Package markup reduces HTML-like markup to plain text.
package markup

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	blockTag     = regexp.MustCompile(`(?i)</?(?:p|div)(?:\s[^>]*)?>`)
	lineBreakTag = regexp.MustCompile(`(?i)<br(?:\s[^>]*)?/?>`)
	newlineRun   = regexp.MustCompile(`\n{2,}`)
)

// Normalize turns paragraph, div and line-break tags into newlines, strips the
// remaining markup, collapses newline runs and trims the result.
// Malformed markup is reduced on a best-effort basis and never fails.
func Normalize(s string) string {
	s = blockTag.ReplaceAllString(s, "\n")
	s = lineBreakTag.ReplaceAllString(s, "\n")
	s = Text(s)
	s = newlineRun.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// Text returns the text content of s with entities decoded. Script and style
// bodies are dropped.
func Text(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return html.UnescapeString(s)
	}
	var sb strings.Builder
	collectText(doc, &sb)
	return sb.String()
}

func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Template:
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
