package cleaner

import (
	"fmt"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

// articlePage builds a page with n paragraphs of wordsPer words each
func articlePage(title string, n, wordsPer int) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head>")
	if title != "" {
		fmt.Fprintf(&b, "<title>%s</title>", title)
	}
	b.WriteString(`<meta name="description" content="A page about testing">`)
	b.WriteString("</head><body>")
	b.WriteString("<nav><p>Home About Contact Blog Careers Pricing Support Login</p></nav>")
	b.WriteString("<h1>Main Heading</h1><h2>Section One</h2>")
	for i := 0; i < n; i++ {
		b.WriteString("<p>")
		for w := 0; w < wordsPer; w++ {
			if w > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "word%d", w)
		}
		b.WriteString("</p>")
	}
	b.WriteString("<script>var tracking = 'this text must never be extracted by the cleaner at all';</script>")
	b.WriteString("<footer><p>Copyright footer text that should be removed from output</p></footer>")
	b.WriteString("</body></html>")
	return b.String()
}

func TestClean(t *testing.T) {
	c := New(nil, nil)

	doc, ok := c.Clean(articlePage("Testing Guide", 5, 70), "https://example.com/a")
	if !ok {
		t.Fatal("Expected page to be accepted")
	}

	if doc.URL != "https://example.com/a" {
		t.Errorf("Expected URL to be preserved, got %q", doc.URL)
	}
	if doc.Title != "Testing Guide" {
		t.Errorf("Expected title 'Testing Guide', got %q", doc.Title)
	}
	if doc.MetaDescription != "A page about testing" {
		t.Errorf("Expected meta description, got %q", doc.MetaDescription)
	}
	if len(doc.Paragraphs) != 5 {
		t.Errorf("Expected 5 paragraphs, got %d", len(doc.Paragraphs))
	}
	if doc.WordCount != 350 {
		t.Errorf("Expected 350 words, got %d", doc.WordCount)
	}
	if len(doc.Headings) != 2 || doc.Headings[0] != "Main Heading" {
		t.Errorf("Expected headings [Main Heading Section One], got %v", doc.Headings)
	}
	for _, p := range doc.Paragraphs {
		if strings.Contains(p, "Copyright") || strings.Contains(p, "tracking") || strings.Contains(p, "Careers") {
			t.Errorf("Expected boilerplate to be removed, found %q", p)
		}
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("Expected document to pass quality gate, got %v", err)
	}
}

func TestCleanRejectsThinPages(t *testing.T) {
	c := New(nil, nil)

	// 4 paragraphs of 24 words is 96 words, under the raw minimum
	if _, ok := c.Clean(articlePage("Thin", 4, 24), "https://example.com/thin"); ok {
		t.Error("Expected page under 100 words to be rejected")
	}

	if _, ok := c.Clean("", "https://example.com/empty"); ok {
		t.Error("Expected empty page to be rejected")
	}
}

func TestCleanDropsShortParagraphs(t *testing.T) {
	c := New(nil, nil)

	page := articlePage("Guide", 4, 40)
	page = strings.Replace(page, "<h1>", "<p>Too short.</p><p>Also tiny</p><h1>", 1)

	doc, ok := c.Clean(page, "https://example.com/g")
	if !ok {
		t.Fatal("Expected page to be accepted")
	}
	for _, p := range doc.Paragraphs {
		if len([]rune(p)) <= MinParagraphChars {
			t.Errorf("Expected paragraphs longer than %d runes, got %q", MinParagraphChars, p)
		}
	}
	if len(doc.Paragraphs) != 4 {
		t.Errorf("Expected 4 paragraphs, got %d", len(doc.Paragraphs))
	}
}

func TestCleanFallsBackToTextBlocks(t *testing.T) {
	c := New(nil, nil)

	var b strings.Builder
	b.WriteString("<html><head><title>Div Soup</title></head><body>")
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "<div>Block %d has a reasonable amount of prose text inside it so that the generic extractor keeps it around as content for later use.</div>", i)
	}
	b.WriteString("</body></html>")

	doc, ok := c.Clean(b.String(), "https://example.com/divs")
	if !ok {
		t.Fatal("Expected div-only page to be accepted via fallback")
	}
	if len(doc.Paragraphs) != 6 {
		t.Errorf("Expected 6 text blocks, got %d", len(doc.Paragraphs))
	}
	if doc.Title != "Div Soup" {
		t.Errorf("Expected title 'Div Soup', got %q", doc.Title)
	}
}

func TestCleanAll(t *testing.T) {
	c := New(nil, nil)

	urls := []string{
		"https://example.com/good",
		"https://example.com/missing",
		"https://example.com/short",
		"https://example.com/untitled",
		"https://example.com/good2",
	}
	raw := map[string]string{
		"https://example.com/good":     articlePage("Good", 5, 70),
		"https://example.com/short":    articlePage("Short", 3, 50), // 150 words, under the gate
		"https://example.com/untitled": strings.Replace(articlePage("", 5, 70), "<h1>Main Heading</h1>", "", 1),
		"https://example.com/good2":    articlePage("Good Two", 4, 80),
	}

	docs := c.CleanAll(urls, raw)
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(docs))
	}
	if docs[0].URL != "https://example.com/good" || docs[1].URL != "https://example.com/good2" {
		t.Errorf("Expected documents in url order, got %s, %s", docs[0].URL, docs[1].URL)
	}
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			t.Errorf("Expected every document to pass the gate, %s: %v", d.URL, err)
		}
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name     string
		htmlDoc  string
		expected string
	}{
		{
			name: "title tag takes precedence over og:title",
			htmlDoc: `<html><head>
	<meta property="og:title" content="OG Title" />
	<title>Page Title</title>
</head><body><h1>Heading</h1></body></html>`,
			expected: "Page Title",
		},
		{
			name: "og:title when no title tag",
			htmlDoc: `<html><head>
	<meta property="og:title" content="OG Title" />
	<meta name="twitter:title" content="Twitter Title" />
</head><body><h1>Heading</h1></body></html>`,
			expected: "OG Title",
		},
		{
			name: "twitter:title over h1",
			htmlDoc: `<html><head>
	<meta name="twitter:title" content="Twitter Title" />
</head><body><h1>Heading</h1></body></html>`,
			expected: "Twitter Title",
		},
		{
			name:     "h1 fallback",
			htmlDoc:  `<html><head></head><body><h1>Article <em>Heading</em></h1></body></html>`,
			expected: "Article Heading",
		},
		{
			name:     "blank title tag falls through",
			htmlDoc:  `<html><head><title>   </title></head><body><h1>Real Heading</h1></body></html>`,
			expected: "Real Heading",
		},
		{
			name:     "no title at all",
			htmlDoc:  `<html><head></head><body><p>Content</p></body></html>`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := html.Parse(strings.NewReader(tt.htmlDoc))
			if err != nil {
				t.Fatalf("Failed to parse HTML: %v", err)
			}

			result := extractTitle(doc)
			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name     string
		htmlDoc  string
		expected string
	}{
		{
			name:     "meta description",
			htmlDoc:  `<html><head><meta name="Description" content=" Plain description "></head></html>`,
			expected: "Plain description",
		},
		{
			name:     "og:description fallback",
			htmlDoc:  `<html><head><meta property="og:description" content="OG description"></head></html>`,
			expected: "OG description",
		},
		{
			name:     "missing",
			htmlDoc:  `<html><head></head></html>`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := html.Parse(strings.NewReader(tt.htmlDoc))
			if err != nil {
				t.Fatalf("Failed to parse HTML: %v", err)
			}
			if got := extractDescription(doc); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}
