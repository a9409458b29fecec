// Package synth produces article drafts from reference documents.
package synth

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/docutag/writer/llm"
	"github.com/docutag/writer/models"
)

// Draft generation defaults
const (
	DefaultTargetWords     = 1500
	DefaultMaxOutputTokens = 4000
	DefaultTemperature     = 0.7
	DefaultMaxReferences   = 8

	// MinDraftChars is the shortest generated draft accepted before
	// falling back to MinimalDocument
	MinDraftChars = 500

	summaryParagraphs = 3
	summaryMaxChars   = 800
	summaryHeadings   = 5
	maxMetaChars      = 160
)

var (
	htmlMarkupPattern = regexp.MustCompile(`(?i)<(html|body|title|h[1-6]|p|div|article|section)[\s>]`)
	mdTitlePattern    = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// Config tunes draft generation
type Config struct {
	TargetWords     int
	MaxOutputTokens int
	Temperature     float64
	MaxReferences   int
}

// DefaultConfig returns the default synthesis settings
func DefaultConfig() Config {
	return Config{
		TargetWords:     DefaultTargetWords,
		MaxOutputTokens: DefaultMaxOutputTokens,
		Temperature:     DefaultTemperature,
		MaxReferences:   DefaultMaxReferences,
	}
}

// Synthesizer writes drafts through a generation capability
type Synthesizer struct {
	generator llm.Generator
	config    Config
	markdown  goldmark.Markdown
	logger    *slog.Logger
}

// New creates a Synthesizer. Zero config fields take their defaults.
func New(generator llm.Generator, cfg Config, logger *slog.Logger) *Synthesizer {
	def := DefaultConfig()
	if cfg.TargetWords <= 0 {
		cfg.TargetWords = def.TargetWords
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxReferences <= 0 {
		cfg.MaxReferences = def.MaxReferences
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		generator: generator,
		config:    cfg,
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:    logger,
	}
}

// Synthesize returns a draft for keyword. It never fails: generation
// errors and drafts shorter than MinDraftChars yield MinimalDocument.
func (s *Synthesizer) Synthesize(ctx context.Context, keyword string, refs []models.Document, attempt int) string {
	var prompt string
	if len(refs) > 0 {
		prompt = s.referencePrompt(keyword, refs)
	} else {
		prompt = s.keywordPrompt(keyword)
	}
	if attempt > 1 {
		prompt += revisionGuidance(attempt)
	}

	if s.generator == nil {
		return MinimalDocument(keyword)
	}

	out, err := s.generator.Generate(ctx, prompt, llm.Options{
		Temperature:     s.config.Temperature,
		MaxOutputTokens: s.config.MaxOutputTokens,
	})
	if err != nil {
		s.logger.Warn("draft generation failed, using template",
			"keyword", keyword,
			"attempt", attempt,
			"error", err,
		)
		return MinimalDocument(keyword)
	}

	draft := llm.StripCodeFence(out)
	if n := utf8.RuneCountInString(draft); n < MinDraftChars {
		s.logger.Warn("generated draft too short, using template",
			"keyword", keyword,
			"attempt", attempt,
			"chars", n,
		)
		return MinimalDocument(keyword)
	}

	if !htmlMarkupPattern.MatchString(draft) {
		converted, err := s.markdownToHTML(draft, keyword)
		if err != nil {
			s.logger.Warn("markdown conversion failed, keeping raw draft", "keyword", keyword, "error", err)
			return draft
		}
		draft = converted
	}

	s.logger.Info("draft generated",
		"keyword", keyword,
		"attempt", attempt,
		"references", min(len(refs), s.config.MaxReferences),
		"chars", utf8.RuneCountInString(draft),
	)
	return draft
}

// markdownToHTML renders a markdown draft and adds the title and meta
// description tags the scorer looks for
func (s *Synthesizer) markdownToHTML(md, keyword string) (string, error) {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}

	title := ""
	if m := mdTitlePattern.FindStringSubmatch(md); m != nil {
		title = strings.TrimSpace(strings.Trim(m[1], "*_ "))
	}
	if title == "" {
		title = TitleCase(keyword) + " - Complete Guide"
	}

	description := truncateAtWord(firstParagraph(md), maxMetaChars)

	var b strings.Builder
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "<meta name=\"description\" content=\"%s\">\n\n", html.EscapeString(description))
	b.Write(buf.Bytes())
	return b.String(), nil
}

// firstParagraph returns the first non-heading line of a markdown document
func firstParagraph(md string) string {
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.Trim(line, "*_> ")
	}
	return ""
}

func truncateAtWord(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	cut := string(r[:limit])
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}

// ReferenceSummary formats one reference document for the prompt
func ReferenceSummary(index int, doc models.Document) string {
	title := doc.Title
	if title == "" {
		title = "Untitled"
	}

	paragraphs := doc.Paragraphs
	if len(paragraphs) > summaryParagraphs {
		paragraphs = paragraphs[:summaryParagraphs]
	}
	summary := strings.Join(paragraphs, " ")
	if r := []rune(summary); len(r) > summaryMaxChars {
		summary = string(r[:summaryMaxChars]) + "..."
	}

	headings := doc.Headings
	if len(headings) > summaryHeadings {
		headings = headings[:summaryHeadings]
	}

	return fmt.Sprintf("POST %d: %s\nURL: %s\nWord Count: %d\nKey Headings: %s\nSummary: %s\n---\n",
		index, title, doc.URL, doc.WordCount, strings.Join(headings, ", "), summary)
}

func (s *Synthesizer) referencePrompt(keyword string, refs []models.Document) string {
	if len(refs) > s.config.MaxReferences {
		refs = refs[:s.config.MaxReferences]
	}

	var posts strings.Builder
	for i, doc := range refs {
		posts.WriteString(ReferenceSummary(i+1, doc))
		posts.WriteString("\n")
	}

	return fmt.Sprintf(`You are an expert content writer. Write an original, comprehensive blog post about "%[1]s" of about %[2]d words.

Use the following top-ranking posts as reference material. Synthesize their key ideas; do not copy sentences.

%[3]s
Requirements:
- A <title> tag of 30-60 characters that contains "%[1]s"
- A <meta name="description" content="..."> tag of 120-160 characters that contains "%[1]s"
- Exactly one <h1> heading
- At least three <h2> sections and at least two <h3> subsections
- Short paragraphs in <p> tags, averaging 15-20 words per sentence
- Use "%[1]s" naturally, around 1-2%% of the words
- Finish with an FAQ section

Format the whole post as HTML. Return only the HTML.`, keyword, s.config.TargetWords, posts.String())
}

func (s *Synthesizer) keywordPrompt(keyword string) string {
	return fmt.Sprintf(`Write a comprehensive %[2]d-word blog post about: %[1]s

Since no source material is available, create original content that covers:
- Introduction to the topic
- Key concepts and principles
- Practical applications
- Best practices
- Common challenges and solutions
- Future trends
- Conclusion with actionable takeaways

Make it SEO-optimized with:
- Compelling title with the keyword (30-60 characters, in a <title> tag)
- Meta description (120-160 characters, in a <meta name="description"> tag)
- Clear heading structure (H1, H2, H3)
- Natural keyword integration
- FAQ section

Format as HTML with proper tags.`, keyword, s.config.TargetWords)
}

func revisionGuidance(attempt int) string {
	return fmt.Sprintf(`

This is revision attempt %d. The previous draft did not reach the SEO quality bar.
Pay particular attention to the title and meta description lengths, keyword density,
heading structure and total length.`, attempt)
}
