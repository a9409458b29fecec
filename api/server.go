package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/writer"
	"github.com/docutag/writer/checkpoint"
	"github.com/docutag/writer/db"
	"github.com/docutag/writer/metrics"
	"github.com/docutag/writer/models"
	"github.com/docutag/writer/slug"
	"github.com/docutag/writer/storage"
)

// Request bounds for POST /api/generate
const (
	MaxKeywordLength       = 200
	MaxRequestAttempts     = 10
	DefaultRequestAttempts = 3
	DefaultSEOThreshold    = 75.0
)

// Pagination bounds for GET /api/articles
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Runner executes generation runs
type Runner interface {
	RunGeneration(ctx context.Context, req writer.RunRequest) models.RunResult
}

// Scorer evaluates arbitrary content
type Scorer interface {
	Score(ctx context.Context, draft, keyword string) models.ScoreBreakdown
}

// ArticleIndex stores article metadata. Lookups return (nil, nil) when
// nothing matches; DeleteArticle wraps db.ErrNotFound.
type ArticleIndex interface {
	SaveArticle(ctx context.Context, article *models.Article) error
	GetArticle(ctx context.Context, id string) (*models.Article, error)
	GetArticleByRunID(ctx context.Context, runID string) (*models.Article, error)
	ListArticles(ctx context.Context, limit, offset int) ([]*models.Article, error)
	CountArticles(ctx context.Context) (int, error)
	DeleteArticle(ctx context.Context, id string) error
}

// Config contains server configuration
type Config struct {
	Addr        string
	CORSEnabled bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		CORSEnabled: true,
	}
}

// Dependencies are the components served by the API
type Dependencies struct {
	Runner   Runner
	Scorer   Scorer
	Runs     checkpoint.Store
	Articles ArticleIndex     // Defaults to an in-memory index
	Storage  storage.Backend  // Optional; articles are not persisted without it
	Metrics  *metrics.Metrics // Optional
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server represents the API server
type Server struct {
	runner      Runner
	scorer      Scorer
	runs        checkpoint.Store
	articles    ArticleIndex
	storage     storage.Backend
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool

	persistLocks checkpoint.KeyedMutex
}

// NewServer creates a new API server
func NewServer(config Config, deps Dependencies) (*Server, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("a generation runner is required")
	}
	if deps.Scorer == nil {
		return nil, fmt.Errorf("a content scorer is required")
	}
	if deps.Runs == nil {
		return nil, fmt.Errorf("a checkpoint store is required")
	}

	articles := deps.Articles
	if articles == nil {
		articles = NewMemoryIndex()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		runner:      deps.Runner,
		scorer:      deps.Scorer,
		runs:        deps.Runs,
		articles:    articles,
		storage:     deps.Storage,
		metrics:     deps.Metrics,
		gatherer:    gatherer,
		logger:      logger,
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // Generation runs make many LLM calls
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/api/generate", s.handleGenerate)
	s.mux.HandleFunc("/api/score", s.handleScore)
	s.mux.HandleFunc("/api/runs/", s.handleRun)         // Handles /api/runs/{id}
	s.mux.HandleFunc("/api/articles/", s.handleArticle) // Handles /api/articles/{id} and /api/articles/{id}/content
	s.mux.HandleFunc("/api/articles", s.handleListArticles)
}

// Handler returns the instrumented root handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.middleware(s.mux), "writer-api",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	)
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Skip health and metrics checks to reduce noise
		quiet := r.URL.Path == "/health" || r.URL.Path == "/metrics"
		start := time.Now()

		next.ServeHTTP(w, r)

		if !quiet {
			s.logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count, err := s.articles.CountArticles(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get count")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"articles": count,
		"time":     time.Now(),
	})
}

// validateGenerateRequest applies defaults and bounds to a generate request
func validateGenerateRequest(req models.GenerateRequest) (writer.RunRequest, error) {
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		return writer.RunRequest{}, fmt.Errorf("keyword is required")
	}
	if utf8.RuneCountInString(keyword) > MaxKeywordLength {
		return writer.RunRequest{}, fmt.Errorf("keyword must be at most %d characters", MaxKeywordLength)
	}

	attempts := DefaultRequestAttempts
	if req.MaxAttempts != nil {
		attempts = *req.MaxAttempts
		if attempts < 1 || attempts > MaxRequestAttempts {
			return writer.RunRequest{}, fmt.Errorf("max_attempts must be between 1 and %d", MaxRequestAttempts)
		}
	}

	threshold := DefaultSEOThreshold
	if req.SEOThreshold != nil {
		threshold = *req.SEOThreshold
		if threshold < 0 || threshold > 100 {
			return writer.RunRequest{}, fmt.Errorf("seo_threshold must be between 0 and 100")
		}
	}

	return writer.RunRequest{
		Keyword:        keyword,
		MaxAttempts:    attempts,
		ScoreThreshold: &threshold,
		RunID:          strings.TrimSpace(req.RunID),
	}, nil
}

// handleGenerate runs a generation and persists the resulting article
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	runReq, err := validateGenerateRequest(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.runner.RunGeneration(r.Context(), runReq)
	resp := models.GenerateResponse{RunResult: result}

	if result.Error == "" {
		article, err := s.persistArticle(r.Context(), result)
		if err != nil {
			s.logger.Warn("failed to persist generated article",
				"run_id", result.RunID,
				"keyword", result.Keyword,
				"error", err,
			)
		} else if article != nil {
			resp.ArticleID = article.ID
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// persistArticle stores the final text and indexes it. A run is persisted
// at most once; repeated requests for the same run return the existing article.
func (s *Server) persistArticle(ctx context.Context, result models.RunResult) (*models.Article, error) {
	if s.storage == nil {
		return nil, nil
	}

	unlock := s.persistLocks.Lock(result.RunID)
	defer unlock()

	existing, err := s.articles.GetArticleByRunID(ctx, result.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up article for run: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	title := ArticleTitle(result.FinalText)
	articleSlug := slug.ForArticle(title, result.Keyword)

	key, err := s.storage.SaveArticle(ctx, result.FinalText, articleSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to store article body: %w", err)
	}

	article := &models.Article{
		ID:           uuid.New().String(),
		RunID:        result.RunID,
		Keyword:      result.Keyword,
		Title:        title,
		Slug:         articleSlug,
		StoragePath:  key,
		Success:      result.Success,
		FinalScore:   result.FinalScore,
		Scores:       result.Scores,
		AttemptsUsed: result.AttemptsUsed,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.articles.SaveArticle(ctx, article); err != nil {
		if delErr := s.storage.DeleteArticle(ctx, key); delErr != nil {
			s.logger.Warn("failed to remove orphaned article body", "key", key, "error", delErr)
		}
		return nil, fmt.Errorf("failed to index article: %w", err)
	}
	if article.StoragePath != key {
		// Another writer indexed this run first
		if err := s.storage.DeleteArticle(ctx, key); err != nil {
			s.logger.Warn("failed to remove duplicate article body", "key", key, "error", err)
		}
		return article, nil
	}

	s.updateArticleCount(ctx)
	s.logger.Info("article persisted",
		"article_id", article.ID,
		"run_id", article.RunID,
		"storage_path", key,
	)
	return article, nil
}

func (s *Server) updateArticleCount(ctx context.Context) {
	if count, err := s.articles.CountArticles(ctx); err == nil {
		s.metrics.SetArticleCount(count)
	}
}

// handleScore scores arbitrary content against a keyword
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	if strings.TrimSpace(req.Keyword) == "" {
		respondError(w, http.StatusBadRequest, "keyword is required")
		return
	}

	respondJSON(w, http.StatusOK, s.scorer.Score(r.Context(), req.Content, strings.TrimSpace(req.Keyword)))
}

// handleRun returns the checkpointed state of a run
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if id == "" || strings.Contains(id, "/") {
		respondError(w, http.StatusBadRequest, "run id is required")
		return
	}

	state, err := s.runs.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "checkpoint store error")
		return
	}
	if state == nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// handleArticle handles GET and DELETE for a single article and serves its content
func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/articles/")

	if strings.HasSuffix(path, "/content") {
		id := strings.TrimSuffix(path, "/content")
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleServeContent(w, r, id)
		return
	}

	if path == "" || strings.Contains(path, "/") {
		respondError(w, http.StatusBadRequest, "article id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetArticle(w, r, path)
	case http.MethodDelete:
		s.handleDeleteArticle(w, r, path)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleGetArticle retrieves article metadata by ID
func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request, id string) {
	article, err := s.articles.GetArticle(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if article == nil {
		respondError(w, http.StatusNotFound, "article not found")
		return
	}

	respondJSON(w, http.StatusOK, article)
}

// handleDeleteArticle removes an article from the index and storage
func (s *Server) handleDeleteArticle(w http.ResponseWriter, r *http.Request, id string) {
	article, err := s.articles.GetArticle(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if article == nil {
		respondError(w, http.StatusNotFound, "article not found")
		return
	}

	if err := s.articles.DeleteArticle(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "article not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete")
		return
	}

	if s.storage != nil && article.StoragePath != "" {
		if err := s.storage.DeleteArticle(r.Context(), article.StoragePath); err != nil {
			s.logger.Warn("failed to delete article body",
				"article_id", id,
				"storage_path", article.StoragePath,
				"error", err,
			)
		}
	}
	s.updateArticleCount(r.Context())

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "deleted successfully",
	})
}

// handleServeContent serves the stored article body
func (s *Server) handleServeContent(w http.ResponseWriter, r *http.Request, id string) {
	article, err := s.articles.GetArticle(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if article == nil {
		respondError(w, http.StatusNotFound, "article not found")
		return
	}
	if s.storage == nil || article.StoragePath == "" {
		respondError(w, http.StatusNotFound, "content file not available")
		return
	}

	content, err := s.storage.ReadArticle(r.Context(), article.StoragePath)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "content file not available")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read content")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}

// handleListArticles lists articles with pagination
func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := defaultPageSize
	offset := 0

	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		offset = v
	}

	// Enforce reasonable limits
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	articles, err := s.articles.ListArticles(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	total, err := s.articles.CountArticles(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if articles == nil {
		articles = []*models.Article{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"articles": articles,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
