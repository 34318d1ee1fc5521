// Package parse turns raw user prompts into resolved intents: cleaning,
// validation, schema retrieval, field mapping, and enrichment run as ordered
// stages with deterministic output for identical input.
package parse

import (
	"regexp"
	"strings"
)

// Fixed vocabularies. Words in these sets survive cleaning even when short.
var intentKeywords = newSet(
	"show", "display", "chart", "graph", "plot", "visualization", "viz",
	"analyze", "analysis", "compare", "comparison", "trend", "trends",
	"breakdown", "break", "view", "see", "present", "examine",
)

var businessVocabulary = newSet(
	"sales", "revenue", "income", "profit", "margin", "earnings",
	"customer", "client", "user", "buyer", "purchaser",
	"product", "item", "goods", "merchandise",
	"order", "purchase", "transaction", "buy",
	"performance", "metrics", "kpi", "results", "data",
)

var timeVocabulary = newSet(
	"year", "yearly", "annual", "month", "monthly", "quarter", "quarterly",
	"day", "daily", "week", "weekly", "time", "period", "date",
	"q1", "q2", "q3", "q4", "jan", "feb", "mar", "apr", "may", "jun",
	"jul", "aug", "sep", "oct", "nov", "dec",
)

var aggregateVocabulary = newSet(
	"total", "sum", "count", "average", "avg", "max", "min", "median",
	"top", "bottom", "best", "worst", "highest", "lowest",
)

var groupingWords = newSet("by", "per", "over", "during", "from", "to", "vs", "versus")

var typoCorrections = map[string]string{
	"reveue": "revenue", "revenu": "revenue", "revinue": "revenue",
	"salse": "sales", "sale": "sales", "seles": "sales",
	"custmer": "customer", "costumer": "customer", "cutomer": "customer",
	"mnoth": "month", "mont": "month", "monht": "month",
	"quater": "quarter", "quartly": "quarterly",
	"margens": "margins", "margns": "margins",
	"custmers": "customers", "costumers": "customers",
}

var noiseWords = newSet(
	"can", "you", "please", "maybe", "could", "would", "should",
	"want", "need", "like", "i", "me", "we", "us", "my", "our",
	"give", "get", "find", "help", "make", "create", "generate",
	"a", "an", "the", "and", "or", "but", "in", "on", "at", "for", "of", "with",
	"some", "any", "all", "each", "every", "this", "that", "these", "those",
)

var (
	punctRe = regexp.MustCompile(`[^\w\s\-/]`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// CleanResult is the outcome of prompt normalization.
type CleanResult struct {
	Original      string   `json:"original"`
	Cleaned       string   `json:"cleaned"`
	Confidence    float64  `json:"confidence"`
	PrimaryIntent string   `json:"primary_intent"`
	Entities      []string `json:"entities"`
	TimeRefs      []string `json:"time_refs"`
	TyposFixed    []string `json:"typos_fixed"`
	NoiseRemoved  []string `json:"noise_removed"`
}

// Clean normalizes a prompt: lowercase, punctuation collapse, typo repair
// from the fixed dictionary, noise-word removal with word order preserved.
// The confidence blends intent, entity, and time signal at 0.4/0.4/0.2.
func Clean(raw string) CleanResult {
	res := CleanResult{Original: raw}

	text := strings.ToLower(strings.TrimSpace(raw))
	text = punctRe.ReplaceAllString(text, " ")
	text = spaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	var kept []string
	var intentWords []string
	for _, word := range strings.Fields(text) {
		if fixed, ok := typoCorrections[word]; ok {
			res.TyposFixed = append(res.TyposFixed, word+"->"+fixed)
			word = fixed
		}

		switch {
		case intentKeywords[word]:
			intentWords = append(intentWords, word)
			kept = append(kept, word)
		case businessVocabulary[word]:
			res.Entities = append(res.Entities, word)
			kept = append(kept, word)
		case timeVocabulary[word]:
			res.TimeRefs = append(res.TimeRefs, word)
			kept = append(kept, word)
		case aggregateVocabulary[word], groupingWords[word]:
			kept = append(kept, word)
		case noiseWords[word]:
			res.NoiseRemoved = append(res.NoiseRemoved, word)
		case len(word) > 2:
			kept = append(kept, word)
		}
	}
	res.Cleaned = strings.Join(kept, " ")

	intentScore := capAt1(float64(len(intentWords)) / 2)
	entityScore := capAt1(float64(len(res.Entities)) / 2)
	timeScore := capAt1(float64(len(res.TimeRefs)))
	res.Confidence = intentScore*0.4 + entityScore*0.4 + timeScore*0.2

	res.PrimaryIntent = detectPrimaryIntent(intentWords)
	return res
}

// intentPriorities maps a primary intent tag to its trigger keywords.
// Iteration order is fixed so ties resolve identically every run.
var intentPriorities = []struct {
	name     string
	keywords map[string]bool
}{
	{"chart", newSet("chart", "graph", "plot", "visualization", "viz")},
	{"show", newSet("show", "display", "present", "view", "see")},
	{"analyze", newSet("analyze", "analysis", "examine")},
	{"compare", newSet("compare", "comparison", "vs", "versus")},
	{"trend", newSet("trend", "trends")},
	{"breakdown", newSet("breakdown", "break")},
}

func detectPrimaryIntent(intentWords []string) string {
	best := "unknown"
	bestScore := 0
	for _, p := range intentPriorities {
		score := 0
		for _, w := range intentWords {
			if p.keywords[w] {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = p.name
		}
	}
	return best
}

func newSet(words ...string) map[string]bool {
	s := make(map[string]bool, len(words))
	for _, w := range words {
		s[w] = true
	}
	return s
}

func capAt1(f float64) float64 {
	if f > 1 {
		return 1
	}
	return f
}
