// Package search gathers candidate reference sources for a keyword.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/docutag/writer/models"
)

// MaxResults is the largest page the Custom Search API returns
const MaxResults = 10

var (
	// ErrQuotaExceeded is returned when the search API rejects a call for quota or rate limits
	ErrQuotaExceeded = errors.New("search quota exceeded")

	// ErrUnauthorized is returned when the search API rejects the credentials
	ErrUnauthorized = errors.New("search unauthorized")
)

// Searcher runs a keyword search. No results is (nil, nil); quota and
// credential failures wrap ErrQuotaExceeded and ErrUnauthorized.
type Searcher interface {
	Search(ctx context.Context, keyword string, limit int) ([]models.SourceRef, error)
}

// quotaReasons are googleapi error reasons that indicate exhausted quota
var quotaReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"dailyLimitExceeded":    true,
	"quotaExceeded":         true,
}

// GoogleConfig configures GoogleSearch
type GoogleConfig struct {
	APIKey   string
	EngineID string

	// Endpoint overrides the API base URL
	Endpoint string
}

// GoogleSearch implements Searcher with the Custom Search JSON API
type GoogleSearch struct {
	service  *customsearch.Service
	engineID string
}

// NewGoogleSearch creates a Custom Search client
func NewGoogleSearch(ctx context.Context, cfg GoogleConfig) (*GoogleSearch, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.EngineID) == "" {
		return nil, fmt.Errorf("%w: api key and engine id are required", ErrUnauthorized)
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search service: %w", err)
	}
	return &GoogleSearch{service: service, engineID: cfg.EngineID}, nil
}

// Search returns up to limit results for keyword
func (g *GoogleSearch) Search(ctx context.Context, keyword string, limit int) ([]models.SourceRef, error) {
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}

	resp, err := g.service.Cse.List().
		Q(keyword).
		Cx(g.engineID).
		Num(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyError(err)
	}

	if len(resp.Items) == 0 {
		return nil, nil
	}

	sources := make([]models.SourceRef, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || item.Link == "" {
			continue
		}
		sources = append(sources, models.SourceRef{
			URL:     item.Link,
			Title:   item.Title,
			Snippet: item.Snippet,
		})
	}
	if len(sources) == 0 {
		return nil, nil
	}
	return sources, nil
}

// classifyError maps API failures onto the search sentinel errors
func classifyError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("custom search request failed: %w", err)
	}

	switch gerr.Code {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, gerr.Message)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, gerr.Message)
	case http.StatusForbidden:
		for _, item := range gerr.Errors {
			if quotaReasons[item.Reason] {
				return fmt.Errorf("%w: %s", ErrQuotaExceeded, gerr.Message)
			}
		}
		return fmt.Errorf("%w: %s", ErrUnauthorized, gerr.Message)
	default:
		return fmt.Errorf("custom search returned %d: %w", gerr.Code, err)
	}
}
