// Package fetcher retrieves raw reference pages over HTTP.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/docutag/writer/metrics"
)

// Defaults for DocumentFetcher
const (
	DefaultConcurrency = 5
	DefaultTimeout     = 12 * time.Second
	DefaultMaxBodySize = 5 * 1024 * 1024
	DefaultUserAgent   = "Mozilla/5.0 (compatible; Writer/1.0)"
)

// ErrInvalidURL is returned for URLs that can never be fetched
var ErrInvalidURL = errors.New("invalid fetch url")

// Fetcher retrieves a single page. Ordinary HTTP failures report ok=false
// with a nil error; err is reserved for invalid input.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, timeout time.Duration) (body string, ok bool, err error)
}

// HTTPFetcher implements Fetcher with an instrumented http.Client
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	logger      *slog.Logger
}

// NewHTTPFetcher creates an HTTPFetcher. The transport is wrapped with
// otelhttp so trace context reaches the fetched hosts.
func NewHTTPFetcher(logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent:   DefaultUserAgent,
		maxBodySize: DefaultMaxBodySize,
		logger:      logger,
	}
}

// Fetch downloads rawURL with its own timeout. No retries are made.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (string, bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || rawURL == "" {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false, fmt.Errorf("%w: URL must be http or https: %q", ErrInvalidURL, rawURL)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("fetch failed", "url", rawURL, "error", err)
		return "", false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("fetch returned non-200 status", "url", rawURL, "status", resp.StatusCode)
		return "", false, nil
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		f.logger.Info("skipping non-html response", "url", rawURL, "content_type", ct)
		return "", false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		f.logger.Warn("failed to read response body", "url", rawURL, "error", err)
		return "", false, nil
	}
	return string(body), true, nil
}

// DocumentFetcher fetches batches of URLs concurrently
type DocumentFetcher struct {
	fetcher     Fetcher
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewDocumentFetcher creates a DocumentFetcher. Non-positive concurrency
// or timeout select the defaults.
func NewDocumentFetcher(f Fetcher, concurrency int, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *DocumentFetcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentFetcher{
		fetcher:     f,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
		metrics:     m,
	}
}

// FetchAll fetches every URL with at most concurrency requests in flight.
// Failed URLs are omitted from the result; one failure never aborts the
// batch. Duplicate URLs are fetched once.
func (d *DocumentFetcher) FetchAll(ctx context.Context, urls []string) map[string]string {
	var (
		mu      sync.Mutex
		results = make(map[string]string, len(urls))
		seen    = make(map[string]bool, len(urls))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true

		g.Go(func() error {
			body, ok, err := d.fetcher.Fetch(gctx, u, d.timeout)
			switch {
			case err != nil:
				d.logger.Warn("skipping unfetchable url", "url", u, "error", err)
				d.metrics.RecordFetch("invalid")
			case !ok:
				d.metrics.RecordFetch("absent")
			default:
				d.metrics.RecordFetch("ok")
				mu.Lock()
				results[u] = body
				mu.Unlock()
			}
			// Failures stay per URL
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("fetch batch completed",
		"requested", len(seen),
		"fetched", len(results),
	)
	return results
}
