// Package extract turns fetched HTML into readable text: a plain text walker
// with a regex fallback, and a pruned main-content rendering to Markdown.
package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is the extracted form of a page.
type Document struct {
	Title string
	Text  string
	// Fallback is set when the parser failed and tags were stripped by regex.
	Fallback bool
}

var skipTags = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"header":   true,
	"footer":   true,
	"nav":      true,
	"aside":    true,
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Text extracts the title and visible text, dropping chrome such as
// navigation, headers, footers, and scripts. Text nodes are joined by newlines.
func Text(body []byte) Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Document{Text: RegexText(string(body)), Fallback: true}
	}
	return fromDocument(doc)
}

func fromDocument(doc *goquery.Document) Document {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	var parts []string
	for _, node := range doc.Nodes {
		collectText(node, &parts)
	}
	return Document{Title: title, Text: strings.Join(parts, "\n")}
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.ElementNode && skipTags[n.Data] {
		return
	}
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*parts = append(*parts, s)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// RegexText strips tags and collapses whitespace. It never fails.
func RegexText(markup string) string {
	text := tagPattern.ReplaceAllString(markup, " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}
