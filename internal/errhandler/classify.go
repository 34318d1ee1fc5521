package errhandler

import "strings"

// errorPatterns drive classification when the payload does not name a known
// kind. A pattern hit in the message scores 0.6, in the code 0.4.
var errorPatterns = map[Kind][]string{
	KindInput: {
		"ambiguous", "unclear", "missing parameter", "invalid input", "unspecified",
	},
	KindSchema: {
		"field not found", "column missing", "schema mismatch", "unknown field",
		"attribute error", "no such column", "no such table",
	},
	KindQuery: {
		"timeout", "query failed", "database error", "aggregation error",
		"execution failed",
	},
	KindChart: {
		"incompatible chart", "visualization error", "chart type mismatch",
		"rendering failed",
	},
	KindSystem: {
		"service unavailable", "connection failed", "system outage", "network error",
	},
	KindValidation: {
		"validation failed", "constraint violation", "invalid format", "type mismatch",
	},
}

// classifyOrder fixes iteration so identical payloads classify identically.
// A tie at the best score falls to validation.
var classifyOrder = []Kind{
	KindInput, KindSchema, KindQuery, KindChart, KindSystem, KindValidation,
}

const (
	explicitConfidence = 0.95
	messageHitScore    = 0.6
	codeHitScore       = 0.4
	defaultConfidence  = 0.5
)

// Classify determines the error kind and a confidence in [0, 0.95]. An
// explicit known error_type is accepted at 0.95; otherwise the pattern
// dictionary scores message and code, and an unmatched payload defaults to
// validation at 0.5.
func Classify(p Payload) (Kind, float64) {
	if knownKind(p.Data.ErrorType) {
		return Kind(p.Data.ErrorType), explicitConfidence
	}

	msg := strings.ToLower(p.Data.Message)
	code := strings.ToLower(p.Data.ErrorCode)

	best := KindValidation
	bestScore := 0.0
	tied := false
	for _, kind := range classifyOrder {
		score := 0.0
		for _, pattern := range errorPatterns[kind] {
			if strings.Contains(msg, pattern) {
				score += messageHitScore
			}
			if strings.Contains(code, pattern) {
				score += codeHitScore
			}
		}
		switch {
		case score > bestScore:
			best = kind
			bestScore = score
			tied = false
		case score == bestScore && score > 0:
			tied = true
		}
	}

	if bestScore == 0 {
		return KindValidation, defaultConfidence
	}
	if tied {
		best = KindValidation
	}
	if bestScore > explicitConfidence {
		bestScore = explicitConfidence
	}
	return best, bestScore
}
