package parse

import (
	"regexp"
	"sort"
	"strings"

	"querysight/internal/catalog"
)

const (
	tableHitScore  = 0.8
	columnHitScore = 0.5
	maxRelevant    = 5
)

// stopWords are excluded from term extraction before mapping and retrieval.
var stopWords = newSet(
	"show", "me", "get", "find", "the", "by", "of", "and", "or",
	"in", "on", "at", "to", "for",
)

var wordRe = regexp.MustCompile(`\b\w+\b`)

// ExtractTerms pulls candidate mapping terms from a cleaned prompt: words
// longer than two characters that are not stop words, in prompt order.
func ExtractTerms(cleaned string) []string {
	var terms []string
	for _, w := range wordRe.FindAllString(strings.ToLower(cleaned), -1) {
		if len(w) > 2 && !stopWords[w] {
			terms = append(terms, w)
		}
	}
	return terms
}

// TableScore is one catalog table's keyword relevance to a prompt.
type TableScore struct {
	Table string  `json:"table"`
	Score float64 `json:"score"`
}

// ScoreTables ranks catalog tables by keyword hits: a term matching the
// table name scores 0.8, a term matching a column name 0.5. The top five
// tables with positive score are returned, ordered by score then name.
func ScoreTables(snap *catalog.Snapshot, terms []string) []TableScore {
	var scored []TableScore
	for name, schema := range snap.Tables {
		score := 0.0
		lowerName := strings.ToLower(name)
		for _, term := range terms {
			if strings.Contains(lowerName, term) || strings.Contains(term, lowerName) {
				score += tableHitScore
			}
			for _, col := range schema.Columns {
				if strings.Contains(strings.ToLower(col.Name), term) {
					score += columnHitScore
				}
			}
		}
		if score > 0 {
			scored = append(scored, TableScore{Table: name, Score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Table < scored[j].Table
	})
	if len(scored) > maxRelevant {
		scored = scored[:maxRelevant]
	}
	return scored
}
