package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	readability "github.com/go-shiori/go-readability"
)

// ErrNoMainContent is returned when pruning leaves nothing behind.
var ErrNoMainContent = errors.New("no main content")

// Markdown prunes boilerplate with a density-based readability pass and
// renders the surviving main content as Markdown.
func Markdown(documentHTML, pageURL string) (title, markdown string, err error) {
	documentHTML = strings.TrimSpace(documentHTML)
	if documentHTML == "" {
		return "", "", ErrNoMainContent
	}
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("parse page url: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(documentHTML), parsedURL)
	if err != nil {
		return "", "", fmt.Errorf("readability: %w", err)
	}
	content := strings.TrimSpace(article.Content)
	if content == "" {
		return strings.TrimSpace(article.Title), "", ErrNoMainContent
	}

	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	md, err := conv.ConvertString(content)
	if err != nil {
		return "", "", fmt.Errorf("convert markdown: %w", err)
	}
	md = strings.TrimSpace(md)
	if md == "" {
		return strings.TrimSpace(article.Title), "", ErrNoMainContent
	}
	return strings.TrimSpace(article.Title), md, nil
}

// Main returns pruned Markdown when available and falls back to the cleaned
// raw text of the whole page otherwise.
func Main(documentHTML, pageURL string) Document {
	raw := Text([]byte(documentHTML))
	title, md, err := Markdown(documentHTML, pageURL)
	if err != nil || md == "" {
		return raw
	}
	if raw.Title != "" {
		title = raw.Title
	}
	return Document{Title: title, Text: md}
}
