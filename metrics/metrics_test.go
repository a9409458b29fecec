package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	m := New("writer_test", prometheus.NewRegistry())

	m.RecordRun(true, "threshold_met", 1, 82)
	m.RecordRun(true, "threshold_met", 2, 90)
	m.RecordRun(false, "max_attempts", 5, 40)

	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("success", "threshold_met")); got != 2 {
		t.Errorf("Expected 2 successful runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("failure", "max_attempts")); got != 1 {
		t.Errorf("Expected 1 failed run, got %v", got)
	}
}

func TestCountersByLabel(t *testing.T) {
	m := New("writer_test", prometheus.NewRegistry())

	m.RecordFetch("ok")
	m.RecordFetch("ok")
	m.RecordFetch("error")
	m.RecordSearch("llm", "ok")
	m.RecordCleanerReject("min_words")
	m.SetArticleCount(7)

	tests := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"fetch ok", m.fetchTotal.WithLabelValues("ok"), 2},
		{"fetch error", m.fetchTotal.WithLabelValues("error"), 1},
		{"search", m.searchTotal.WithLabelValues("llm", "ok"), 1},
		{"cleaner reject", m.cleanerRejects.WithLabelValues("min_words"), 1},
		{"articles", m.articlesTotal, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.collector); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestObserveStage(t *testing.T) {
	m := New("writer_test", prometheus.NewRegistry())
	m.ObserveStage("GATHERING", 20*time.Millisecond)
	m.ObserveGeneration("openai", "ok", time.Second)

	if n := testutil.CollectAndCount(m.stageDuration); n != 1 {
		t.Errorf("Expected 1 stage series, got %d", n)
	}
	if n := testutil.CollectAndCount(m.generationDuration); n != 1 {
		t.Errorf("Expected 1 generation series, got %d", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRun(true, "threshold_met", 1, 80)
	m.ObserveStage("FETCHING", time.Second)
	m.RecordFetch("ok")
	m.RecordSearch("google", "error")
	m.ObserveGeneration("vertex", "error", time.Second)
	m.RecordCleanerReject("boilerplate")
	m.UpdateDBStats(nil)
	m.SetArticleCount(1)
}
