// Package llm provides the text generation capability used by source
// gathering, synthesis and optional SEO scoring.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docutag/writer/metrics"
)

var (
	// ErrEmptyResponse is returned when the provider answers without any text
	ErrEmptyResponse = errors.New("llm: empty response")

	// ErrMissingCredentials is returned by constructors when required settings are absent
	ErrMissingCredentials = errors.New("llm: missing credentials")
)

// Provider names accepted by New
const (
	ProviderOpenAI = "openai"
	ProviderVertex = "vertex"
)

// Options controls a single generation call
type Options struct {
	Temperature     float64
	MaxOutputTokens int
}

// Generator produces text from a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Client is a Generator that holds provider resources
type Client interface {
	Generator
	Close() error
}

// Config selects and configures a provider
type Config struct {
	Provider string
	Model    string

	// OpenAI compatible endpoints
	APIKey  string
	BaseURL string

	// Vertex AI
	Project  string
	Location string
}

// New constructs the client for cfg.Provider
func New(ctx context.Context, cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAIClient(cfg)
	case ProviderVertex:
		return NewVertexClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// WithTimeout bounds every call made through g
func WithTimeout(g Generator, timeout time.Duration) Generator {
	if timeout <= 0 {
		return g
	}
	return &timeoutGenerator{next: g, timeout: timeout}
}

type timeoutGenerator struct {
	next    Generator
	timeout time.Duration
}

func (t *timeoutGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Generate(ctx, prompt, opts)
}

// Instrument records call counts and latency for g under provider
func Instrument(g Generator, provider string, m *metrics.Metrics) Generator {
	if m == nil {
		return g
	}
	return &instrumentedGenerator{next: g, provider: provider, metrics: m}
}

type instrumentedGenerator struct {
	next     Generator
	provider string
	metrics  *metrics.Metrics
}

func (i *instrumentedGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	start := time.Now()
	text, err := i.next.Generate(ctx, prompt, opts)

	status := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	i.metrics.ObserveGeneration(i.provider, status, time.Since(start))
	return text, err
}

// StripCodeFence removes a surrounding markdown code fence from model output
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string (```html, ```json, ...)
	if idx := strings.IndexByte(s, '\n'); idx != -1 && !strings.Contains(s[:idx], "<") {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
