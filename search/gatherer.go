package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docutag/writer/llm"
	"github.com/docutag/writer/metrics"
	"github.com/docutag/writer/models"
)

// Gatherer defaults
const (
	DefaultMinLLMSources = 5
	DefaultSearchLimit   = MaxResults
	MaxSources           = 10
)

// GathererConfig tunes source gathering
type GathererConfig struct {
	// MinLLMSources is the number of usable LLM-proposed sources needed
	// to skip keyword search
	MinLLMSources int
	SearchLimit   int
}

// Gatherer finds candidate reference sources. It first asks the generator
// for a JSON list of sources and falls back to keyword search when too few
// usable entries come back.
type Gatherer struct {
	generator llm.Generator
	searcher  Searcher
	config    GathererConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewGatherer creates a Gatherer. Either capability may be nil, in which
// case that strategy is skipped.
func NewGatherer(generator llm.Generator, searcher Searcher, cfg GathererConfig, logger *slog.Logger, m *metrics.Metrics) *Gatherer {
	if cfg.MinLLMSources <= 0 {
		cfg.MinLLMSources = DefaultMinLLMSources
	}
	if cfg.SearchLimit <= 0 || cfg.SearchLimit > MaxResults {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatherer{
		generator: generator,
		searcher:  searcher,
		config:    cfg,
		logger:    logger,
		metrics:   m,
	}
}

// Gather returns up to MaxSources candidate sources for keyword. It never
// fails. A generator list shorter than MinLLMSources is only a trigger for
// keyword search; when search also comes back empty, Gather returns no
// sources and searchFailed is true.
func (g *Gatherer) Gather(ctx context.Context, keyword string) (sources []models.SourceRef, searchFailed bool) {
	proposed := g.fromGenerator(ctx, keyword)
	if len(proposed) >= g.config.MinLLMSources {
		g.logger.Info("sources gathered from generator", "keyword", keyword, "count", len(proposed))
		return capSources(proposed), false
	}

	found := g.fromSearch(ctx, keyword)
	if len(found) > 0 {
		g.logger.Info("sources gathered from keyword search", "keyword", keyword, "count", len(found))
		return capSources(found), false
	}

	g.logger.Warn("no sources found", "keyword", keyword, "generator_sources", len(proposed))
	return nil, true
}

func (g *Gatherer) fromGenerator(ctx context.Context, keyword string) []models.SourceRef {
	if g.generator == nil {
		return nil
	}

	resp, err := g.generator.Generate(ctx, sourceListPrompt(keyword), llm.Options{
		Temperature:     0.3,
		MaxOutputTokens: 2048,
	})
	if err != nil {
		g.logger.Warn("generator source lookup failed", "keyword", keyword, "error", err)
		g.metrics.RecordSearch("llm", "error")
		return nil
	}

	sources, dropped := FilterSources(ParseSourceList(resp))
	if dropped > 0 {
		g.logger.Debug("filtered generator sources", "keyword", keyword, "dropped", dropped)
	}

	switch {
	case len(sources) == 0:
		g.metrics.RecordSearch("llm", "empty")
	case len(sources) < g.config.MinLLMSources:
		g.metrics.RecordSearch("llm", "insufficient")
	default:
		g.metrics.RecordSearch("llm", "ok")
	}
	return sources
}

func (g *Gatherer) fromSearch(ctx context.Context, keyword string) []models.SourceRef {
	if g.searcher == nil {
		return nil
	}

	results, err := g.searcher.Search(ctx, keyword, g.config.SearchLimit)
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			result = "quota"
		case errors.Is(err, ErrUnauthorized):
			result = "unauthorized"
		}
		g.logger.Warn("keyword search failed", "keyword", keyword, "error", err)
		g.metrics.RecordSearch("keyword", result)
		return nil
	}

	sources, _ := FilterSources(results)
	if len(sources) == 0 {
		g.metrics.RecordSearch("keyword", "empty")
		return nil
	}
	g.metrics.RecordSearch("keyword", "ok")
	return sources
}

func capSources(sources []models.SourceRef) []models.SourceRef {
	if len(sources) > MaxSources {
		return sources[:MaxSources]
	}
	return sources
}

func sourceListPrompt(keyword string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Find the top %d most comprehensive and authoritative blog posts, tutorials, and guides about %q.\n\n", MaxSources, keyword)
	b.WriteString(`Focus on:
- High-quality, well-structured content
- Recent publications (last 2 years)
- Authoritative sources and established blogs
- Practical value and actionable insights
- Good SEO and readability

Output a JSON array of objects, each with:
  - "url": string
  - "title": string
  - "snippet": string

Return only valid JSON.`)
	return b.String()
}
