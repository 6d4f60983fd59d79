// Package extract turns fetched HTML into plain text for chunking.
package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// DefaultMaxTextBytes caps the extracted text of one document.
const DefaultMaxTextBytes = 200_000

// boilerplate is removed before text is collected.
const boilerplate = "script, style, noscript, iframe, nav, header, footer, aside, form, svg, template"

// contentRoots are tried in order; the first one with text wins.
var contentRoots = []string{"article", "main", "[role=main]", "body"}

// Document is the cleaned form of one page.
type Document struct {
	Title string
	Text  string
}

// Extractor converts raw page bytes to whitespace-collapsed text.
// It holds no state between calls and is safe for concurrent use.
type Extractor struct {
	MaxTextBytes int
}

// New creates an Extractor. maxTextBytes <= 0 uses DefaultMaxTextBytes.
func New(maxTextBytes int) *Extractor {
	if maxTextBytes <= 0 {
		maxTextBytes = DefaultMaxTextBytes
	}
	return &Extractor{MaxTextBytes: maxTextBytes}
}

// Extract returns the readable text of raw.
func (e *Extractor) Extract(raw []byte) (string, error) {
	doc, err := e.ExtractDocument(raw)
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

// ExtractDocument returns the title and readable text of raw. Empty text
// is ERR_601_EXTRACTION_EMPTY; input that is not a text document is
// ERR_602_EXTRACTION_FAILED.
func (e *Extractor) ExtractDocument(raw []byte) (Document, error) {
	if bytes.IndexByte(raw, 0) >= 0 || !utf8.Valid(raw) {
		return Document{}, serrors.New(serrors.ErrCodeExtractionFailed, "content is not a text document", nil)
	}

	gq, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return Document{}, serrors.New(serrors.ErrCodeExtractionFailed, "failed to parse HTML", err)
	}

	title := collapse(gq.Find("title").First().Text())
	gq.Find(boilerplate).Remove()

	var text string
	for _, sel := range contentRoots {
		root := gq.Find(sel)
		if root.Length() == 0 {
			continue
		}
		if text = collapse(nodeText(root.Nodes)); text != "" {
			break
		}
	}

	if text == "" {
		return Document{Title: title}, serrors.New(serrors.ErrCodeExtractionEmpty, "no readable text in document", nil)
	}

	return Document{Title: title, Text: truncate(text, e.maxBytes())}, nil
}

func (e *Extractor) maxBytes() int {
	if e.MaxTextBytes <= 0 {
		return DefaultMaxTextBytes
	}
	return e.MaxTextBytes
}

// nodeText concatenates text nodes with a separator so adjacent block
// elements do not run their words together.
func nodeText(nodes []*html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}
