// Package seo scores generated documents against a fixed SEO rubric.
package seo

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/docutag/writer/models"
)

// Dimension weights. They sum to 1.
const (
	WeightTitle               = 0.15
	WeightMetaDescription     = 0.10
	WeightKeywordOptimization = 0.20
	WeightContentStructure    = 0.15
	WeightReadability         = 0.15
	WeightContentQuality      = 0.15
	WeightTechnicalSEO        = 0.10
)

// Scoring methods reported in ScoreBreakdown.Method
const (
	MethodRuleBased = "rule_based"
	MethodCombined  = "combined"
)

var (
	titlePattern    = regexp.MustCompile(`(?i)<title>(.*?)</title>`)
	metaPattern     = regexp.MustCompile(`(?i)<meta name="description" content="(.*?)"`)
	tagPattern      = regexp.MustCompile(`<[^>]+>`)
	h1Pattern       = regexp.MustCompile(`(?i)<h1[^>]*>`)
	h2Pattern       = regexp.MustCompile(`(?i)<h2[^>]*>`)
	h3Pattern       = regexp.MustCompile(`(?i)<h3[^>]*>`)
	pPattern        = regexp.MustCompile(`(?i)<p[^>]*>`)
	sentencePattern = regexp.MustCompile(`[.!?]+`)
)

// EvaluateRules scores content with the deterministic rubric.
// A blank document scores zero on every dimension.
func EvaluateRules(content, keyword string) models.ScoreBreakdown {
	if strings.TrimSpace(content) == "" {
		return models.ScoreBreakdown{Method: MethodRuleBased}
	}

	kw := strings.ToLower(strings.TrimSpace(keyword))
	text := tagPattern.ReplaceAllString(content, "")
	wordCount := len(strings.Fields(text))

	b := models.ScoreBreakdown{
		Title:               titleScore(content, kw),
		MetaDescription:     metaDescriptionScore(content, kw),
		KeywordOptimization: keywordScore(text, kw, wordCount),
		ContentStructure:    structureScore(content),
		Readability:         readabilityScore(text, wordCount),
		ContentQuality:      lengthScore(wordCount),
		TechnicalSEO:        technicalScore(content, wordCount),
		Method:              MethodRuleBased,
	}
	b.Final = weightedFinal(b)
	return b
}

func titleScore(content, kw string) float64 {
	m := titlePattern.FindStringSubmatch(content)
	if m == nil {
		return 0
	}
	title := m[1]
	n := utf8.RuneCountInString(title)

	score := 0.0
	if kw != "" && strings.Contains(strings.ToLower(title), kw) {
		score += 40
	}
	if n >= 30 && n <= 60 {
		score += 30
	}
	if n > 0 {
		score += 30
	}
	return min(score, 100)
}

func metaDescriptionScore(content, kw string) float64 {
	m := metaPattern.FindStringSubmatch(content)
	if m == nil {
		return 0
	}
	desc := m[1]
	n := utf8.RuneCountInString(desc)

	score := 0.0
	if kw != "" && strings.Contains(strings.ToLower(desc), kw) {
		score += 40
	}
	if n >= 120 && n <= 160 {
		score += 40
	}
	if n > 0 {
		score += 20
	}
	return min(score, 100)
}

// KeywordDensity returns keyword occurrences per hundred words of stripped text
func KeywordDensity(content, keyword string) float64 {
	text := tagPattern.ReplaceAllString(content, "")
	wordCount := len(strings.Fields(text))
	if wordCount == 0 {
		return 0
	}
	kw := strings.ToLower(strings.TrimSpace(keyword))
	return float64(countKeyword(text, kw)) / float64(wordCount) * 100
}

func countKeyword(text, kw string) int {
	if kw == "" {
		return 0
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	return len(re.FindAllStringIndex(strings.ToLower(text), -1))
}

func keywordScore(text, kw string, wordCount int) float64 {
	if wordCount == 0 {
		return 0
	}
	density := float64(countKeyword(text, kw)) / float64(wordCount) * 100

	switch {
	case density >= 1.0 && density <= 2.5:
		return 100
	case (density >= 0.5 && density < 1.0) || (density > 2.5 && density <= 3.5):
		return 80
	case density > 0:
		return 60
	default:
		return 0
	}
}

func structureScore(content string) float64 {
	score := 0.0
	if len(h1Pattern.FindAllStringIndex(content, -1)) == 1 {
		score += 25
	}
	if len(h2Pattern.FindAllStringIndex(content, -1)) >= 3 {
		score += 25
	}
	if len(h3Pattern.FindAllStringIndex(content, -1)) >= 2 {
		score += 25
	}
	if len(pPattern.FindAllStringIndex(content, -1)) >= 5 {
		score += 25
	}
	return score
}

func lengthScore(wordCount int) float64 {
	switch {
	case wordCount >= 1200:
		return 100
	case wordCount >= 800:
		return 80
	case wordCount >= 500:
		return 60
	default:
		return 40
	}
}

func readabilityScore(text string, wordCount int) float64 {
	sentences := 0
	for _, s := range sentencePattern.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	if sentences <= 1 {
		return 60
	}

	avg := float64(wordCount) / float64(sentences)
	switch {
	case avg >= 15 && avg <= 20:
		return 100
	case (avg >= 10 && avg < 15) || (avg > 20 && avg <= 25):
		return 80
	default:
		return 60
	}
}

func technicalScore(content string, wordCount int) float64 {
	score := 0.0
	// Case-sensitive on purpose: these checks look for the canonical markup
	if strings.Contains(content, "<title>") && strings.Contains(content, "</title>") {
		score += 20
	}
	if strings.Contains(content, `meta name="description"`) {
		score += 20
	}
	if strings.Contains(content, "<h1") {
		score += 20
	}
	if strings.Contains(content, "<h2") {
		score += 20
	}
	if wordCount >= 1000 {
		score += 20
	}
	return score
}

// weightedFinal combines the dimensions in a fixed order so the float sum is reproducible
func weightedFinal(b models.ScoreBreakdown) float64 {
	sum := 0.0
	sum += b.Title * WeightTitle
	sum += b.MetaDescription * WeightMetaDescription
	sum += b.KeywordOptimization * WeightKeywordOptimization
	sum += b.ContentStructure * WeightContentStructure
	sum += b.Readability * WeightReadability
	sum += b.ContentQuality * WeightContentQuality
	sum += b.TechnicalSEO * WeightTechnicalSEO
	return round1(sum)
}

// round1 rounds to one decimal using the exact binary value with ties to even
func round1(x float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', 1, 64), 64)
	if err != nil {
		return x
	}
	return r
}
