package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage identifies the position of a run in the generation state machine
type Stage string

const (
	StageGathering    Stage = "GATHERING"
	StageFetching     Stage = "FETCHING"
	StageCleaning     Stage = "CLEANING"
	StageSynthesizing Stage = "SYNTHESIZING"
	StageScoring      Stage = "SCORING"
	StageDeciding     Stage = "DECIDING"
	StageTerminated   Stage = "TERMINATED"
)

// Attempt budget bounds applied at run creation
const (
	MinAttempts = 1
	MaxAttempts = 5
)

// Reference document quality bar
const (
	MinReferenceWords      = 300
	MinReferenceParagraphs = 3
)

// Termination reasons recorded on the final state
const (
	ReasonMaxAttempts       = "max_attempts_reached"
	ReasonNoMaterial        = "no_material"
	ReasonThresholdMet      = "threshold_met"
	ReasonReasonableContent = "reasonable_content"
	ReasonSearchFailed      = "search_failed"
)

var (
	// ErrInvalidDocument is returned when a document does not meet the reference quality bar
	ErrInvalidDocument = errors.New("document does not meet reference quality bar")

	// ErrAlreadyTerminated is returned when a terminated state is asked to terminate again
	ErrAlreadyTerminated = errors.New("pipeline state already terminated")
)

// SourceRef is a candidate reference URL returned by source gathering
type SourceRef struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Document is a cleaned, structured reference article
type Document struct {
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	Headings        []string `json:"headings"`
	Paragraphs      []string `json:"paragraphs"`
	WordCount       int      `json:"word_count"`
}

// Validate checks the document against the reference quality bar
func (d Document) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: blank title", ErrInvalidDocument)
	}
	if d.WordCount < MinReferenceWords {
		return fmt.Errorf("%w: %d words (min %d)", ErrInvalidDocument, d.WordCount, MinReferenceWords)
	}
	if len(d.Paragraphs) < MinReferenceParagraphs {
		return fmt.Errorf("%w: %d paragraphs (min %d)", ErrInvalidDocument, len(d.Paragraphs), MinReferenceParagraphs)
	}
	return nil
}

// ScoreBreakdown holds the seven SEO sub-scores and their weighted combination
type ScoreBreakdown struct {
	Title               float64 `json:"title_score"`
	MetaDescription     float64 `json:"meta_description_score"`
	KeywordOptimization float64 `json:"keyword_optimization_score"`
	ContentStructure    float64 `json:"content_structure_score"`
	Readability         float64 `json:"readability_score"`
	ContentQuality      float64 `json:"content_quality_score"`
	TechnicalSEO        float64 `json:"technical_seo_score"`
	Final               float64 `json:"final_score"`
	Method              string  `json:"method,omitempty"` // "rule_based" or "combined"
}

// Map returns the breakdown keyed by dimension name
func (b ScoreBreakdown) Map() map[string]float64 {
	return map[string]float64{
		"title_score":                b.Title,
		"meta_description_score":     b.MetaDescription,
		"keyword_optimization_score": b.KeywordOptimization,
		"content_structure_score":    b.ContentStructure,
		"readability_score":          b.Readability,
		"content_quality_score":      b.ContentQuality,
		"technical_seo_score":        b.TechnicalSEO,
		"final_score":                b.Final,
	}
}

// PipelineState is the record threaded through a single generation run.
// Components never write to it directly; the controller applies their
// results through the methods below.
type PipelineState struct {
	RunID             string            `json:"run_id"`
	Keyword           string            `json:"keyword"`
	Stage             Stage             `json:"stage"`
	CandidateSources  []SourceRef       `json:"candidate_sources"`
	SearchFailed      bool              `json:"search_failed"`
	RawContent        map[string]string `json:"raw_content,omitempty"`
	CleanedDocuments  []Document        `json:"cleaned_documents"`
	DraftText         string            `json:"draft_text"`
	Scores            ScoreBreakdown    `json:"scores"`
	AttemptCount      int               `json:"attempt_count"`
	MaxAttempts       int               `json:"max_attempts"`
	RequestedAttempts int               `json:"requested_attempts"`
	ScoreThreshold    float64           `json:"score_threshold"`
	FinalText         string            `json:"final_text"`
	TerminationReason string            `json:"termination_reason,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ClampAttempts bounds a requested attempt budget to [MinAttempts, MaxAttempts]
func ClampAttempts(n int) int {
	if n < MinAttempts {
		return MinAttempts
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// NewPipelineState creates the initial state for a run
func NewPipelineState(runID, keyword string, maxAttempts int, scoreThreshold float64) *PipelineState {
	if scoreThreshold < 0 {
		scoreThreshold = 0
	}
	if scoreThreshold > 100 {
		scoreThreshold = 100
	}

	now := time.Now().UTC()
	return &PipelineState{
		RunID:             runID,
		Keyword:           keyword,
		Stage:             StageGathering,
		MaxAttempts:       ClampAttempts(maxAttempts),
		RequestedAttempts: maxAttempts,
		ScoreThreshold:    scoreThreshold,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// SetSources records the gathered candidate sources
func (s *PipelineState) SetSources(sources []SourceRef, searchFailed bool) {
	s.CandidateSources = append([]SourceRef(nil), sources...)
	s.SearchFailed = searchFailed
	s.touch()
}

// SetRawContent records fetched page bodies keyed by URL
func (s *PipelineState) SetRawContent(raw map[string]string) {
	s.RawContent = make(map[string]string, len(raw))
	for k, v := range raw {
		s.RawContent[k] = v
	}
	s.touch()
}

// SetCleanedDocuments records the reference documents and releases the raw
// page bodies. Every document must pass Validate.
func (s *PipelineState) SetCleanedDocuments(docs []Document) error {
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("document %s: %w", d.URL, err)
		}
	}
	s.CleanedDocuments = append([]Document(nil), docs...)
	s.RawContent = nil
	s.touch()
	return nil
}

// RecordDraft stores the latest draft and advances the attempt counter
func (s *PipelineState) RecordDraft(draft string) {
	s.DraftText = draft
	s.AttemptCount++
	s.touch()
}

// RecordScores replaces the score breakdown for the current draft
func (s *PipelineState) RecordScores(scores ScoreBreakdown) {
	s.Scores = scores
	s.touch()
}

// Advance moves the state to the next non-terminal stage.
// Use Terminate to finish a run.
func (s *PipelineState) Advance(next Stage) {
	if s.Stage == StageTerminated || next == StageTerminated {
		return
	}
	s.Stage = next
	s.touch()
}

// Terminate sets the final text and moves the state to TERMINATED
func (s *PipelineState) Terminate(finalText, reason string) error {
	if s.Stage == StageTerminated {
		return ErrAlreadyTerminated
	}
	s.FinalText = finalText
	s.TerminationReason = reason
	s.Stage = StageTerminated
	s.touch()
	return nil
}

// Terminated reports whether the run has finished
func (s *PipelineState) Terminated() bool {
	return s.Stage == StageTerminated
}

// HasContent reports whether the run produced any non-blank text
func (s *PipelineState) HasContent() bool {
	return strings.TrimSpace(s.FinalText) != "" || strings.TrimSpace(s.DraftText) != ""
}

// Clone returns a deep copy of the state
func (s *PipelineState) Clone() *PipelineState {
	if s == nil {
		return nil
	}
	c := *s
	c.CandidateSources = append([]SourceRef(nil), s.CandidateSources...)
	if s.RawContent != nil {
		c.RawContent = make(map[string]string, len(s.RawContent))
		for k, v := range s.RawContent {
			c.RawContent[k] = v
		}
	}
	c.CleanedDocuments = make([]Document, len(s.CleanedDocuments))
	for i, d := range s.CleanedDocuments {
		d.Headings = append([]string(nil), d.Headings...)
		d.Paragraphs = append([]string(nil), d.Paragraphs...)
		c.CleanedDocuments[i] = d
	}
	return &c
}

func (s *PipelineState) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// RunResult is the structured outcome returned to the caller of a run
type RunResult struct {
	RunID             string         `json:"run_id"`
	Keyword           string         `json:"keyword"`
	Success           bool           `json:"success"`
	FinalText         string         `json:"final_blog"`
	Scores            ScoreBreakdown `json:"seo_scores"`
	FinalScore        float64        `json:"final_score"`
	AttemptsUsed      int            `json:"attempts"`
	TerminationReason string         `json:"termination_reason,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// Article is a persisted, generated document
type Article struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	Keyword      string         `json:"keyword"`
	Title        string         `json:"title"`
	Slug         string         `json:"slug"`
	StoragePath  string         `json:"storage_path,omitempty"`
	Success      bool           `json:"success"`
	FinalScore   float64        `json:"final_score"`
	Scores       ScoreBreakdown `json:"seo_scores"`
	AttemptsUsed int            `json:"attempts"`
	CreatedAt    time.Time      `json:"created_at"`
}

// GenerateRequest represents a request to generate an article
type GenerateRequest struct {
	Keyword      string   `json:"keyword"`
	MaxAttempts  *int     `json:"max_attempts,omitempty"`
	SEOThreshold *float64 `json:"seo_threshold,omitempty"`
	RunID        string   `json:"run_id,omitempty"`
}

// GenerateResponse represents the response to a generate request
type GenerateResponse struct {
	RunResult
	ArticleID string `json:"article_id,omitempty"`
}

// ScoreRequest represents a request to score arbitrary content
type ScoreRequest struct {
	Content string `json:"content"`
	Keyword string `json:"keyword"`
}
