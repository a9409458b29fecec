// Package cleaner turns fetched HTML into structured reference documents.
package cleaner

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/docutag/writer/metrics"
	"github.com/docutag/writer/models"
)

// Cleaning thresholds. MinRawWords rejects a page outright; the quality
// gate applied to the whole batch is models.Document.Validate.
const (
	MinRawWords          = 100
	MinParagraphChars    = 20
	MinStructuralBlocks  = 3
	fallbackMinBlockRune = 40
)

// skippedElements are dropped before extraction
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"footer":   true,
	"aside":    true,
	"header":   true,
	"form":     true,
	"iframe":   true,
	"svg":      true,
}

// blockElements delimit text blocks in the generic extraction fallback
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"li": true, "td": true, "th": true, "blockquote": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"br": true, "tr": true, "dd": true, "dt": true, "figcaption": true,
}

// Cleaner extracts documents from raw HTML
type Cleaner struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Cleaner
func New(logger *slog.Logger, m *metrics.Metrics) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{logger: logger, metrics: m}
}

// Clean parses raw HTML from sourceURL. It returns false when the page
// cannot be parsed or holds fewer than MinRawWords words of paragraph text.
func (c *Cleaner) Clean(raw, sourceURL string) (models.Document, bool) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		c.logger.Warn("failed to parse html", "url", sourceURL, "error", err)
		c.metrics.RecordCleanerReject("parse")
		return models.Document{}, false
	}

	prune(doc)

	title := extractTitle(doc)
	description := extractDescription(doc)
	headings := extractHeadings(doc)
	paragraphs := extractParagraphs(doc)

	if len(paragraphs) < MinStructuralBlocks {
		if blocks := extractTextBlocks(doc); len(blocks) > 0 {
			paragraphs = blocks
		}
	}

	wordCount := 0
	for _, p := range paragraphs {
		wordCount += len(strings.Fields(p))
	}

	if wordCount < MinRawWords {
		c.logger.Info("document rejected: too little text", "url", sourceURL, "word_count", wordCount)
		c.metrics.RecordCleanerReject("raw_words")
		return models.Document{}, false
	}

	return models.Document{
		URL:             sourceURL,
		Title:           title,
		MetaDescription: description,
		Headings:        headings,
		Paragraphs:      paragraphs,
		WordCount:       wordCount,
	}, true
}

// CleanAll cleans every fetched page and applies the reference quality gate.
// Output order follows urls; pages missing from raw are skipped.
func (c *Cleaner) CleanAll(urls []string, raw map[string]string) []models.Document {
	docs := make([]models.Document, 0, len(raw))
	for _, u := range urls {
		body, ok := raw[u]
		if !ok {
			continue
		}
		doc, ok := c.Clean(body, u)
		if !ok {
			continue
		}
		if err := doc.Validate(); err != nil {
			c.logger.Info("document failed quality gate", "url", u, "reason", err.Error())
			c.metrics.RecordCleanerReject("quality_gate")
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// prune removes boilerplate elements from the tree
func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && skippedElements[c.Data] {
			n.RemoveChild(c)
		} else if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

// extractTitle returns the page title.
// Priority: title tag > og:title > twitter:title > h1
func extractTitle(n *html.Node) string {
	var ogTitle, twitterTitle, h1Title, htmlTitle string

	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				property := strings.ToLower(attr(n, "property"))
				name := strings.ToLower(attr(n, "name"))
				content := attr(n, "content")
				if property == "og:title" && ogTitle == "" {
					ogTitle = content
				} else if name == "twitter:title" && twitterTitle == "" {
					twitterTitle = content
				}
			case "h1":
				if h1Title == "" {
					h1Title = textOf(n)
				}
			case "title":
				if htmlTitle == "" {
					htmlTitle = textOf(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)

	for _, t := range []string{htmlTitle, ogTitle, twitterTitle, h1Title} {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

// extractDescription returns the meta description, falling back to og:description
func extractDescription(n *html.Node) string {
	var description, ogDescription string

	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			content := strings.TrimSpace(attr(n, "content"))
			switch {
			case strings.EqualFold(attr(n, "name"), "description"):
				if description == "" {
					description = content
				}
			case strings.EqualFold(attr(n, "property"), "og:description"):
				if ogDescription == "" {
					ogDescription = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)

	if description != "" {
		return description
	}
	return ogDescription
}

// extractHeadings returns h1-h6 texts in document order
func extractHeadings(n *html.Node) []string {
	var headings []string

	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1", "h2", "h3", "h4", "h5", "h6":
				if text := textOf(n); text != "" {
					headings = append(headings, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return headings
}

// extractParagraphs returns the text of p elements longer than MinParagraphChars
func extractParagraphs(n *html.Node) []string {
	var paragraphs []string

	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			if text := textOf(n); utf8.RuneCountInString(text) > MinParagraphChars {
				paragraphs = append(paragraphs, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return paragraphs
}

// extractTextBlocks is the generic fallback for pages without usable p
// markup. Inline text is accumulated until a block element boundary and
// blocks that read like prose are kept.
func extractTextBlocks(n *html.Node) []string {
	var blocks []string
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		block := strings.Join(current, " ")
		current = current[:0]
		if utf8.RuneCountInString(block) >= fallbackMinBlockRune && strings.Count(block, " ") >= 5 {
			blocks = append(blocks, block)
		}
	}

	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "head" || n.Data == "title") {
			return
		}
		isBlock := n.Type == html.ElementNode && blockElements[n.Data]
		if isBlock {
			flush()
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				current = append(current, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
		if isBlock {
			flush()
		}
	}
	f(n)
	flush()
	return blocks
}

// textOf returns the whitespace-normalized text of a node and its children
func textOf(n *html.Node) string {
	var parts []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				parts = append(parts, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.Join(parts, " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
