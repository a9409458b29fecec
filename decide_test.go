package writer

import (
	"strings"
	"testing"

	"github.com/docutag/writer/models"
)

func TestDecide(t *testing.T) {
	long := strings.Repeat("x", 501)
	exactly500 := strings.Repeat("x", 500)
	docs := []models.Document{validDocument(0)}

	tests := []struct {
		name          string
		attempts      int
		maxAttempts   int
		docs          []models.Document
		draft         string
		score         float64
		searchFailed  bool
		wantTerminate bool
		wantReason    string
		wantFinal     string
	}{
		{
			name:          "max attempts with draft",
			attempts:      3,
			maxAttempts:   3,
			docs:          docs,
			draft:         "short",
			score:         10,
			wantTerminate: true,
			wantReason:    models.ReasonMaxAttempts,
			wantFinal:     "short",
		},
		{
			name:          "max attempts with blank draft",
			attempts:      1,
			maxAttempts:   1,
			docs:          docs,
			draft:         "   ",
			wantTerminate: true,
			wantReason:    models.ReasonMaxAttempts,
			wantFinal:     "",
		},
		{
			name:          "max attempts wins over threshold",
			attempts:      2,
			maxAttempts:   2,
			docs:          docs,
			draft:         long,
			score:         99,
			wantTerminate: true,
			wantReason:    models.ReasonMaxAttempts,
			wantFinal:     long,
		},
		{
			name:          "no documents and blank draft",
			attempts:      1,
			maxAttempts:   3,
			draft:         "",
			wantTerminate: true,
			wantReason:    models.ReasonNoMaterial,
		},
		{
			name:          "threshold met",
			attempts:      1,
			maxAttempts:   3,
			docs:          docs,
			draft:         "good draft",
			score:         75,
			wantTerminate: true,
			wantReason:    models.ReasonThresholdMet,
			wantFinal:     "good draft",
		},
		{
			name:        "threshold met but blank draft",
			attempts:    1,
			maxAttempts: 3,
			docs:        docs,
			draft:       "  ",
			score:       90,
		},
		{
			name:          "reasonable content after two attempts",
			attempts:      2,
			maxAttempts:   5,
			docs:          docs,
			draft:         long,
			score:         40,
			wantTerminate: true,
			wantReason:    models.ReasonReasonableContent,
			wantFinal:     long,
		},
		{
			name:        "exactly 500 chars is not reasonable",
			attempts:    2,
			maxAttempts: 5,
			docs:        docs,
			draft:       exactly500,
			score:       40,
		},
		{
			name:        "long draft on first attempt revises",
			attempts:    1,
			maxAttempts: 5,
			docs:        docs,
			draft:       long,
			score:       40,
		},
		{
			name:          "search failed terminates",
			attempts:      1,
			maxAttempts:   3,
			draft:         "template",
			score:         30,
			searchFailed:  true,
			wantTerminate: true,
			wantReason:    models.ReasonSearchFailed,
			wantFinal:     "template",
		},
		{
			name:          "search failed still honours threshold",
			attempts:      1,
			maxAttempts:   3,
			draft:         "template",
			score:         80,
			searchFailed:  true,
			wantTerminate: true,
			wantReason:    models.ReasonThresholdMet,
			wantFinal:     "template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := models.NewPipelineState("run", "kw", tt.maxAttempts, 75)
			state.CleanedDocuments = tt.docs
			state.DraftText = tt.draft
			state.AttemptCount = tt.attempts
			state.Scores.Final = tt.score
			state.SearchFailed = tt.searchFailed

			d := Decide(state)
			if d.Terminate != tt.wantTerminate {
				t.Fatalf("Expected terminate=%v, got %v (reason %q)", tt.wantTerminate, d.Terminate, d.Reason)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Expected reason %q, got %q", tt.wantReason, d.Reason)
			}
			if d.FinalText != tt.wantFinal {
				t.Errorf("Expected final text %q, got %q", tt.wantFinal, d.FinalText)
			}
		})
	}
}

func TestSucceeded(t *testing.T) {
	tests := []struct {
		name      string
		final     string
		score     float64
		attempts  int
		requested int
		want      bool
	}{
		{"threshold met", "text", 80, 1, 3, true},
		{"below threshold, budget exhausted", "text", 50, 3, 3, true},
		{"below threshold, budget left", "text", 50, 2, 3, false},
		{"clamped request exhausted", "text", 50, 5, 10, false},
		{"request below minimum", "text", 50, 1, 0, true},
		{"no content", "", 90, 1, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := models.NewPipelineState("run", "kw", tt.requested, 75)
			state.FinalText = tt.final
			state.Scores.Final = tt.score
			state.AttemptCount = tt.attempts

			if got := Succeeded(state); got != tt.want {
				t.Errorf("Expected Succeeded()=%v, got %v", tt.want, got)
			}
		})
	}
}
