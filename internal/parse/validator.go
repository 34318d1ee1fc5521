package parse

import (
	"errors"
	"regexp"
	"strings"
)

// ErrLowConfidence marks prompts that fail intent validation. The pipeline
// reports these as input errors rather than proceeding to execution.
var ErrLowConfidence = errors.New("prompt failed intent validation")

// validThreshold is the minimum weighted score for an actionable prompt.
const validThreshold = 0.3

type scoredCategory struct {
	name     string
	weight   float64
	keywords []string
}

// Categories and weights for the intent classifier. Keyword hits within a
// category normalize to at most 1 before weighting.
var validationCategories = []scoredCategory{
	{"visualization", 0.35, []string{
		"show", "display", "chart", "graph", "plot", "visualize",
		"create", "generate", "make", "build", "draw", "render", "report",
	}},
	{"data_references", 0.25, []string{
		"sales", "revenue", "profit", "income", "count", "total", "average",
		"performance", "metrics",
		"customer", "product", "region", "category", "type",
	}},
	{"temporal", 0.20, []string{
		"month", "year", "quarter", "week", "day",
		"monthly", "yearly", "quarterly", "weekly", "daily",
		"over time", "timeline", "trend", "history",
	}},
	{"chart_types", 0.10, []string{
		"bar chart", "line chart", "pie chart", "scatter plot",
		"breakdown", "distribution", "comparison", "trend",
	}},
	{"actions", 0.10, []string{
		"compare", "analyze", "breakdown", "summarize",
		"filter", "where", "only", "exclude",
	}},
}

// Each matched negative pattern costs 0.05.
var negativePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(hello|hi|help|how|what|why|when|where)\b`),
	regexp.MustCompile(`\b(can you|could you|please|thank you)\b`),
	regexp.MustCompile(`\b(random|test|example|sample)\b`),
}

// ValidationResult is the classifier verdict for one cleaned prompt.
type ValidationResult struct {
	Valid              bool     `json:"valid"`
	Confidence         float64  `json:"confidence"`
	DataElements       []string `json:"data_elements,omitempty"`
	ChartHints         []string `json:"chart_hints,omitempty"`
	TemporalIndicators []string `json:"temporal_indicators,omitempty"`
	AggregationHints   []string `json:"aggregation_hints,omitempty"`
}

// Validate scores a cleaned prompt with the default threshold.
func Validate(cleaned string) ValidationResult {
	return ValidateAt(cleaned, validThreshold)
}

// ValidateAt scores a cleaned prompt against the weighted keyword categories
// and subtracts the negative-pattern penalty. Valid means the final score
// clears the given threshold.
func ValidateAt(cleaned string, threshold float64) ValidationResult {
	if threshold <= 0 {
		threshold = validThreshold
	}
	lower := strings.ToLower(cleaned)
	var res ValidationResult

	total := 0.0
	for _, cat := range validationCategories {
		hits := 0
		for _, kw := range cat.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			hits++
			switch cat.name {
			case "data_references":
				res.DataElements = append(res.DataElements, kw)
			case "temporal":
				res.TemporalIndicators = append(res.TemporalIndicators, kw)
			case "chart_types":
				res.ChartHints = append(res.ChartHints, kw)
			case "actions":
				res.AggregationHints = append(res.AggregationHints, kw)
			}
		}
		if hits > 0 {
			total += cat.weight
		}
	}

	for _, pat := range negativePatterns {
		if pat.MatchString(lower) {
			total -= 0.05
		}
	}
	if total < 0 {
		total = 0
	}

	res.Confidence = total
	res.Valid = total >= threshold
	return res
}
