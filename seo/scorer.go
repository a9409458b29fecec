package seo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/docutag/writer/llm"
	"github.com/docutag/writer/models"
)

// Blend weights applied when an LLM evaluation is available
const (
	aiWeight   = 0.3
	ruleWeight = 0.7
)

// maxEvaluationChars bounds how much of the draft is sent for LLM evaluation
const maxEvaluationChars = 2000

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	bareJSONPattern   = regexp.MustCompile(`(?s)\{[^}]*"final_score"[^}]*\}`)
)

// Scorer evaluates drafts. The rule rubric is always applied; when a
// generator is configured its evaluation is blended in at 30%.
type Scorer struct {
	generator llm.Generator
	logger    *slog.Logger
}

// NewScorer creates a Scorer. generator may be nil for rule-only scoring.
func NewScorer(generator llm.Generator, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{generator: generator, logger: logger}
}

// Score evaluates draft against keyword. It never fails: any problem with
// the optional LLM evaluation falls back to the rule-based breakdown.
func (s *Scorer) Score(ctx context.Context, draft, keyword string) models.ScoreBreakdown {
	rules := EvaluateRules(draft, keyword)
	if s.generator == nil || strings.TrimSpace(draft) == "" {
		return rules
	}

	ai, err := s.evaluateWithLLM(ctx, draft, keyword)
	if err != nil {
		s.logger.Warn("llm seo evaluation failed, using rule-based score",
			"keyword", keyword,
			"error", err,
		)
		return rules
	}

	combined := Combine(ai, rules)
	s.logger.Info("seo evaluation completed",
		"keyword", keyword,
		"final_score", combined.Final,
		"rule_score", rules.Final,
		"method", combined.Method,
	)
	return combined
}

// Combine blends an LLM evaluation with the rule-based breakdown per dimension
func Combine(ai, rules models.ScoreBreakdown) models.ScoreBreakdown {
	blend := func(a, r float64) float64 {
		return round1(a*aiWeight + r*ruleWeight)
	}

	b := models.ScoreBreakdown{
		Title:               blend(ai.Title, rules.Title),
		MetaDescription:     blend(ai.MetaDescription, rules.MetaDescription),
		KeywordOptimization: blend(ai.KeywordOptimization, rules.KeywordOptimization),
		ContentStructure:    blend(ai.ContentStructure, rules.ContentStructure),
		Readability:         blend(ai.Readability, rules.Readability),
		ContentQuality:      blend(ai.ContentQuality, rules.ContentQuality),
		TechnicalSEO:        blend(ai.TechnicalSEO, rules.TechnicalSEO),
		Method:              MethodCombined,
	}
	b.Final = weightedFinal(b)
	return b
}

func (s *Scorer) evaluateWithLLM(ctx context.Context, draft, keyword string) (models.ScoreBreakdown, error) {
	resp, err := s.generator.Generate(ctx, evaluationPrompt(draft, keyword), llm.Options{
		Temperature:     0.1,
		MaxOutputTokens: 512,
	})
	if err != nil {
		return models.ScoreBreakdown{}, err
	}
	return ParseEvaluation(resp)
}

func evaluationPrompt(draft, keyword string) string {
	if r := []rune(draft); len(r) > maxEvaluationChars {
		draft = string(r[:maxEvaluationChars])
	}

	return fmt.Sprintf(`Evaluate this blog content for SEO quality. Return ONLY a JSON object with these exact fields:
{
  "title_score": <number 0-100>,
  "meta_description_score": <number 0-100>,
  "keyword_optimization_score": <number 0-100>,
  "content_structure_score": <number 0-100>,
  "readability_score": <number 0-100>,
  "content_quality_score": <number 0-100>,
  "technical_seo_score": <number 0-100>,
  "final_score": <number 0-100>
}

Blog content to evaluate:
%s...

Target keyword: %s

Respond with ONLY the JSON object, no additional text.`, draft, keyword)
}

// ParseEvaluation extracts the score object from an LLM reply. The object
// may be fenced, embedded in prose, or the whole reply. Missing or
// non-numeric fields score 0 and every value is clamped to [0,100].
func ParseEvaluation(resp string) (models.ScoreBreakdown, error) {
	resp = strings.TrimSpace(resp)

	payload := resp
	if m := fencedJSONPattern.FindStringSubmatch(resp); m != nil {
		payload = m[1]
	} else if m := bareJSONPattern.FindString(resp); m != "" {
		payload = m
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return models.ScoreBreakdown{}, fmt.Errorf("failed to parse seo evaluation: %w", err)
	}

	field := func(name string) float64 {
		v, ok := raw[name]
		if !ok {
			return 0
		}
		var f float64
		switch n := v.(type) {
		case float64:
			f = n
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return 0
			}
			f = parsed
		default:
			return 0
		}
		return max(0, min(100, f))
	}

	return models.ScoreBreakdown{
		Title:               field("title_score"),
		MetaDescription:     field("meta_description_score"),
		KeywordOptimization: field("keyword_optimization_score"),
		ContentStructure:    field("content_structure_score"),
		Readability:         field("readability_score"),
		ContentQuality:      field("content_quality_score"),
		TechnicalSEO:        field("technical_seo_score"),
		Final:               field("final_score"),
	}, nil
}
