// Package metrics holds the Prometheus collectors for the writer service.
// All methods are safe to call on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors recorded by the pipeline
type Metrics struct {
	runsTotal          *prometheus.CounterVec
	attemptsUsed       prometheus.Histogram
	finalScore         prometheus.Histogram
	stageDuration      *prometheus.HistogramVec
	fetchTotal         *prometheus.CounterVec
	searchTotal        *prometheus.CounterVec
	generationTotal    *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	cleanerRejects     *prometheus.CounterVec
	dbOpenConnections  prometheus.Gauge
	dbInUseConnections prometheus.Gauge
	articlesTotal      prometheus.Gauge
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Generation runs by outcome and termination reason",
		}, []string{"outcome", "reason"}),
		attemptsUsed: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_attempts",
			Help:      "Synthesis attempts used per run",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		finalScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_final_score",
			Help:      "Final SEO score per run",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		fetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Document fetches by result",
		}, []string{"result"}),
		searchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_search_total",
			Help:      "Source gathering attempts by strategy and result",
		}, []string{"strategy", "result"}),
		generationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Generation capability calls by provider and status",
		}, []string{"provider", "status"}),
		generationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation capability latency",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider"}),
		cleanerRejects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleaner_rejects_total",
			Help:      "Documents rejected during cleaning by gate",
		}, []string{"gate"}),
		dbOpenConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_open_connections",
			Help:      "Open database connections",
		}),
		dbInUseConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_in_use_connections",
			Help:      "Database connections in use",
		}),
		articlesTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "articles_stored",
			Help:      "Generated articles in the index",
		}),
	}
}

// RecordRun records the outcome of a finished run
func (m *Metrics) RecordRun(success bool, reason string, attempts int, finalScore float64) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.runsTotal.WithLabelValues(outcome, reason).Inc()
	m.attemptsUsed.Observe(float64(attempts))
	m.finalScore.Observe(finalScore)
}

// ObserveStage records the time spent in a stage
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordFetch counts a single document fetch outcome
func (m *Metrics) RecordFetch(result string) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(result).Inc()
}

// RecordSearch counts a source gathering strategy outcome
func (m *Metrics) RecordSearch(strategy, result string) {
	if m == nil {
		return
	}
	m.searchTotal.WithLabelValues(strategy, result).Inc()
}

// ObserveGeneration records a generation capability call
func (m *Metrics) ObserveGeneration(provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.generationTotal.WithLabelValues(provider, status).Inc()
	m.generationDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordCleanerReject counts a document rejected at the given gate
func (m *Metrics) RecordCleanerReject(gate string) {
	if m == nil {
		return
	}
	m.cleanerRejects.WithLabelValues(gate).Inc()
}

// UpdateDBStats copies connection pool statistics into gauges
func (m *Metrics) UpdateDBStats(db *sql.DB) {
	if m == nil || db == nil {
		return
	}
	stats := db.Stats()
	m.dbOpenConnections.Set(float64(stats.OpenConnections))
	m.dbInUseConnections.Set(float64(stats.InUse))
}

// SetArticleCount records the number of indexed articles
func (m *Metrics) SetArticleCount(n int) {
	if m == nil {
		return
	}
	m.articlesTotal.Set(float64(n))
}
