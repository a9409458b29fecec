package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"

	"github.com/docutag/writer"
	"github.com/docutag/writer/api"
	"github.com/docutag/writer/checkpoint"
	"github.com/docutag/writer/cleaner"
	"github.com/docutag/writer/db"
	"github.com/docutag/writer/fetcher"
	"github.com/docutag/writer/llm"
	"github.com/docutag/writer/metrics"
	"github.com/docutag/writer/search"
	"github.com/docutag/writer/seo"
	"github.com/docutag/writer/storage"
	"github.com/docutag/writer/synth"
	"github.com/docutag/writer/tracing"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable, logging and falling back on bad input
func getEnvInt(logger *slog.Logger, key string, defaultValue int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		logger.Warn("invalid "+key+" value, using default",
			"provided", raw,
			"default", defaultValue,
			"error", err,
		)
		return defaultValue
	}
	return v
}

// getEnvFloat parses a float environment variable, logging and falling back on bad input
func getEnvFloat(logger *slog.Logger, key string, defaultValue float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default",
			"provided", raw,
			"default", defaultValue,
			"error", err,
		)
		return defaultValue
	}
	return v
}

// getEnvDuration parses a duration environment variable such as "12s"
func getEnvDuration(logger *slog.Logger, key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		logger.Warn("invalid "+key+" value, using default",
			"provided", raw,
			"default", defaultValue.String(),
			"error", err,
		)
		return defaultValue
	}
	return v
}

func main() {
	// Setup structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("writer service initializing", "version", "1.0.0")

	ctx := context.Background()

	tp, err := tracing.InitTracer(ctx, "docutag-writer")
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		logger.Info("tracing initialized successfully")
	}

	defaults := writer.DefaultConfig()

	// Default values
	defaultPort := getEnv("PORT", "8080")
	defaultProvider := getEnv("LLM_PROVIDER", llm.ProviderOpenAI)
	defaultStorageBackend := getEnv("STORAGE_BACKEND", "filesystem")
	defaultCheckpointBackend := getEnv("CHECKPOINT_BACKEND", "")
	defaultMaxAttempts := getEnvInt(logger, "MAX_ATTEMPTS", defaults.MaxAttempts)
	defaultThreshold := getEnvFloat(logger, "SEO_THRESHOLD", defaults.ScoreThreshold)
	defaultConcurrency := getEnvInt(logger, "FETCH_CONCURRENCY", fetcher.DefaultConcurrency)
	fetchTimeout := getEnvDuration(logger, "FETCH_TIMEOUT", fetcher.DefaultTimeout)
	generationTimeout := getEnvDuration(logger, "GENERATION_TIMEOUT", defaults.GenerationTimeout)
	minLLMSources := getEnvInt(logger, "MIN_LLM_SOURCES", search.DefaultMinLLMSources)

	// Command-line flags (override environment variables)
	port := flag.String("port", defaultPort, "Server port")
	provider := flag.String("llm-provider", defaultProvider, "Generation provider: openai, vertex or none")
	storageBackend := flag.String("storage", defaultStorageBackend, "Article storage backend: filesystem, s3, gcs or none")
	checkpointBackend := flag.String("checkpoint", defaultCheckpointBackend, "Checkpoint backend: memory, postgres or firestore (default postgres when DB_HOST is set)")
	maxAttempts := flag.Int("max-attempts", defaultMaxAttempts, "Default synthesis attempts per run (1-5)")
	threshold := flag.Float64("seo-threshold", defaultThreshold, "Default SEO score threshold (0-100)")
	concurrency := flag.Int("fetch-concurrency", defaultConcurrency, "Concurrent reference fetches per run")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	migrateDown := flag.Bool("migrate-down", false, "Roll back the latest database migration and exit (requires DB_HOST)")
	enableAIScoring := flag.Bool("ai-scoring", getEnv("ENABLE_AI_SCORING", "false") == "true", "Blend LLM evaluation into SEO scores")
	flag.Parse()

	if *threshold < 0 || *threshold > 100 {
		logger.Error("seo threshold must be between 0 and 100", "provided", *threshold)
		os.Exit(1)
	}

	reg := prometheus.DefaultRegisterer
	m := metrics.New("writer", reg)

	// PostgreSQL database configuration (optional)
	var database *db.DB
	dbHost := getEnv("DB_HOST", "")
	if dbHost != "" {
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "docutag")
		dbPassword := getEnv("DB_PASSWORD", "docutag_dev_pass")
		dbName := getEnv("DB_NAME", "docutag")

		database, err = db.New(db.Config{
			DSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", dbHost, dbPort, dbUser, dbPassword, dbName),
		})
		if err != nil {
			logger.Error("failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		logger.Info("using PostgreSQL database", "host", dbHost, "port", dbPort, "database", dbName)

		if *migrateDown {
			if err := db.Rollback(database.DB()); err != nil {
				logger.Error("failed to roll back migration", "error", err)
				os.Exit(1)
			}
			logger.Info("rolled back latest migration")
			return
		}

		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				m.UpdateDBStats(database.DB())
			}
		}()
		logger.Info("database metrics initialized")
	} else {
		if *migrateDown {
			logger.Error("-migrate-down requires DB_HOST")
			os.Exit(1)
		}
		logger.Info("DB_HOST not set, article index and checkpoints kept in memory")
	}

	// Generation capability
	var generator llm.Generator
	if *provider != "none" {
		model := getEnv("OPENAI_MODEL", "")
		if *provider == llm.ProviderVertex {
			model = getEnv("VERTEX_MODEL", "")
		}
		client, err := llm.New(ctx, llm.Config{
			Provider: *provider,
			Model:    model,
			APIKey:   getEnv("OPENAI_API_KEY", ""),
			BaseURL:  getEnv("OPENAI_BASE_URL", ""),
			Project:  getEnv("VERTEX_PROJECT", getEnv("GOOGLE_CLOUD_PROJECT", "")),
			Location: getEnv("VERTEX_LOCATION", "us-central1"),
		})
		if err != nil {
			logger.Error("failed to initialize generation provider", "provider", *provider, "error", err)
			os.Exit(1)
		}
		defer client.Close()
		generator = llm.Instrument(llm.WithTimeout(client, generationTimeout), *provider, m)
	} else {
		logger.Warn("generation disabled, drafts will use the minimal template")
	}

	// Search capability
	var searcher search.Searcher
	if apiKey := getEnv("GOOGLE_SEARCH_API_KEY", ""); apiKey != "" {
		google, err := search.NewGoogleSearch(ctx, search.GoogleConfig{
			APIKey:   apiKey,
			EngineID: getEnv("GOOGLE_SEARCH_ENGINE_ID", ""),
		})
		if err != nil {
			logger.Error("failed to initialize keyword search", "error", err)
			os.Exit(1)
		}
		searcher = google
	} else {
		logger.Warn("GOOGLE_SEARCH_API_KEY not set, keyword search disabled")
	}

	// Checkpoint store
	runStore, err := newCheckpointStore(ctx, *checkpointBackend, database)
	if err != nil {
		logger.Error("failed to initialize checkpoint store", "backend", *checkpointBackend, "error", err)
		os.Exit(1)
	}

	// Article storage
	articleStorage, err := newArticleStorage(ctx, *storageBackend)
	if err != nil {
		logger.Error("failed to initialize article storage", "backend", *storageBackend, "error", err)
		os.Exit(1)
	}
	if closer, ok := articleStorage.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var scoringGenerator llm.Generator
	if *enableAIScoring {
		scoringGenerator = generator
	}
	scorer := seo.NewScorer(scoringGenerator, logger)

	w, err := writer.New(writer.Config{
		MaxAttempts:       *maxAttempts,
		ScoreThreshold:    *threshold,
		GenerationTimeout: generationTimeout,
	}, writer.Dependencies{
		Gatherer: search.NewGatherer(generator, searcher, search.GathererConfig{
			MinLLMSources: minLLMSources,
			SearchLimit:   search.DefaultSearchLimit,
		}, logger, m),
		Fetcher:     fetcher.NewDocumentFetcher(fetcher.NewHTTPFetcher(logger), *concurrency, fetchTimeout, logger, m),
		Cleaner:     cleaner.New(logger, m),
		Synthesizer: synth.New(generator, synth.DefaultConfig(), logger),
		Scorer:      scorer,
		Store:       runStore,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		logger.Error("failed to create writer", "error", err)
		os.Exit(1)
	}

	deps := api.Dependencies{
		Runner:   w,
		Scorer:   scorer,
		Runs:     runStore,
		Storage:  articleStorage,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logger,
	}
	if database != nil {
		deps.Articles = database
	}

	server, err := api.NewServer(api.Config{
		Addr:        ":" + *port,
		CORSEnabled: !*disableCORS,
	}, deps)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Start server in a goroutine
	go func() {
		logger.Info("writer service starting",
			"port", *port,
			"llm_provider", *provider,
			"keyword_search", searcher != nil,
			"storage_backend", *storageBackend,
			"checkpoint_backend", *checkpointBackend,
			"max_attempts", *maxAttempts,
			"seo_threshold", *threshold,
			"fetch_concurrency", *concurrency,
			"fetch_timeout", fetchTimeout.String(),
			"ai_scoring", *enableAIScoring,
		)

		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully", "active_runs", w.ActiveRuns())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// newCheckpointStore selects the run checkpoint backend. An empty backend
// uses Postgres when a database is configured and memory otherwise.
func newCheckpointStore(ctx context.Context, backend string, database *db.DB) (checkpoint.Store, error) {
	if backend == "" {
		backend = "memory"
		if database != nil {
			backend = "postgres"
		}
	}

	switch strings.ToLower(backend) {
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	case "postgres":
		if database == nil {
			return nil, fmt.Errorf("postgres checkpoints require DB_HOST")
		}
		return checkpoint.NewSQLStore(database), nil
	case "firestore":
		client, err := checkpoint.NewFirestoreClient(ctx, getEnv("FIRESTORE_PROJECT", getEnv("GOOGLE_CLOUD_PROJECT", "")))
		if err != nil {
			return nil, err
		}
		return checkpoint.NewFirestoreStore(client, getEnv("FIRESTORE_COLLECTION", checkpoint.DefaultCollection)), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}

// newArticleStorage selects the article body backend
func newArticleStorage(ctx context.Context, backend string) (storage.Backend, error) {
	switch strings.ToLower(backend) {
	case "filesystem", "fs":
		return storage.New(storage.Config{BasePath: getEnv("STORAGE_BASE_PATH", storage.DefaultConfig().BasePath)})
	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", ""),
			Bucket:          getEnv("S3_BUCKET", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnv("S3_USE_PATH_STYLE", "false") == "true",
		})
	case "gcs":
		return storage.NewGCSStorage(ctx, getEnv("GCS_BUCKET", ""))
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
