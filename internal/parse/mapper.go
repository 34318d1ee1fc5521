package parse

import (
	"sort"
	"strings"

	"querysight/internal/catalog"
)

// Mapping kinds, in decreasing strength.
const (
	MatchExact        = "exact"
	MatchFuzzy        = "fuzzy"
	MatchSemantic     = "semantic"
	MatchRelationship = "relationship"
)

const (
	fuzzyMinConfidence = 0.6
	fuzzyTopPerTerm    = 3
	semanticConfidence = 0.8
)

// synonyms resolve user vocabulary to canonical column vocabulary.
var synonyms = map[string][]string{
	"revenue":  {"sales", "income", "earnings", "money", "amount"},
	"customer": {"client", "user", "buyer", "purchaser"},
	"product":  {"item", "goods", "merchandise"},
	"date":     {"time", "when", "period"},
	"quantity": {"amount", "count", "number", "qty"},
	"price":    {"cost", "value", "rate"},
	"country":  {"region", "location", "area", "territory"},
	"name":     {"title", "label", "identifier"},
	"email":    {"contact", "address"},
	"category": {"type", "kind", "group", "class"},
}

// Mapping links one user term to one catalog field.
type Mapping struct {
	Term       string  `json:"term"`
	Table      string  `json:"table"`
	Column     string  `json:"column"` // "*" maps the whole table
	Confidence float64 `json:"confidence"`
	Kind       string  `json:"kind"`
	FullPath   string  `json:"full_path"`
}

// MappingResult is the combined outcome of all mapping strategies.
type MappingResult struct {
	Mappings        []Mapping `json:"mappings"`
	Confidence      float64   `json:"confidence"`
	SuggestedTables []string  `json:"suggested_tables"`
	UnmappedTerms   []string  `json:"unmapped_terms,omitempty"`
}

// MapFields resolves user terms against the catalog with three strategies
// (exact, fuzzy, semantic), keeps the best mapping per (term, path), and
// infers related tables over foreign keys. Output order is deterministic:
// confidence descending, then term, then path.
func MapFields(snap *catalog.Snapshot, terms []string) MappingResult {
	var all []Mapping
	all = append(all, exactMatches(snap, terms)...)

	exactTerms := make(map[string]bool)
	for _, m := range all {
		exactTerms[m.Term] = true
	}
	var remaining []string
	for _, t := range terms {
		if !exactTerms[t] {
			remaining = append(remaining, t)
		}
	}
	all = append(all, fuzzyMatches(snap, remaining)...)
	all = append(all, semanticMatches(snap, terms)...)

	best := make(map[string]Mapping)
	for _, m := range all {
		key := m.Term + ":" + m.FullPath
		if prev, ok := best[key]; !ok || m.Confidence > prev.Confidence {
			best[key] = m
		}
	}
	final := make([]Mapping, 0, len(best))
	for _, m := range best {
		final = append(final, m)
	}
	sort.Slice(final, func(i, j int) bool {
		if final[i].Confidence != final[j].Confidence {
			return final[i].Confidence > final[j].Confidence
		}
		if final[i].Term != final[j].Term {
			return final[i].Term < final[j].Term
		}
		return final[i].FullPath < final[j].FullPath
	})

	res := MappingResult{Mappings: final}
	if len(final) > 0 {
		sum := 0.0
		for _, m := range final {
			sum += m.Confidence
		}
		res.Confidence = sum / float64(len(final))
	}
	res.SuggestedTables = suggestTables(snap, final)

	mapped := make(map[string]bool)
	for _, m := range final {
		mapped[m.Term] = true
	}
	for _, t := range terms {
		if !mapped[t] {
			res.UnmappedTerms = append(res.UnmappedTerms, t)
		}
	}
	return res
}

func exactMatches(snap *catalog.Snapshot, terms []string) []Mapping {
	var out []Mapping
	for _, term := range terms {
		lower := strings.ToLower(term)
		for _, table := range sortedTables(snap) {
			tl := strings.ToLower(table)
			if lower == tl || lower == strings.TrimSuffix(tl, "s") {
				out = append(out, Mapping{
					Term: term, Table: table, Column: "*",
					Confidence: 1.0, Kind: MatchExact, FullPath: table,
				})
			}
			for _, col := range snap.Tables[table].Columns {
				cl := strings.ToLower(col.Name)
				if lower == cl || lower == strings.ReplaceAll(cl, "_", " ") {
					out = append(out, Mapping{
						Term: term, Table: table, Column: col.Name,
						Confidence: 1.0, Kind: MatchExact,
						FullPath: table + "." + col.Name,
					})
				}
			}
		}
	}
	return out
}

func fuzzyMatches(snap *catalog.Snapshot, terms []string) []Mapping {
	var out []Mapping
	for _, term := range terms {
		var candidates []Mapping
		for _, table := range sortedTables(snap) {
			if s := Similarity(term, table); s >= fuzzyMinConfidence {
				candidates = append(candidates, Mapping{
					Term: term, Table: table, Column: "*",
					Confidence: s, Kind: MatchFuzzy, FullPath: table,
				})
			}
			for _, col := range snap.Tables[table].Columns {
				if s := Similarity(term, col.Name); s >= fuzzyMinConfidence {
					candidates = append(candidates, Mapping{
						Term: term, Table: table, Column: col.Name,
						Confidence: s, Kind: MatchFuzzy,
						FullPath: table + "." + col.Name,
					})
				}
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Confidence > candidates[j].Confidence
		})
		if len(candidates) > fuzzyTopPerTerm {
			candidates = candidates[:fuzzyTopPerTerm]
		}
		out = append(out, candidates...)
	}
	return out
}

func semanticMatches(snap *catalog.Snapshot, terms []string) []Mapping {
	var out []Mapping
	for _, term := range terms {
		lower := strings.ToLower(term)
		for _, canonical := range sortedKeys(synonyms) {
			if lower != canonical && !containsString(synonyms[canonical], lower) {
				continue
			}
			for _, table := range sortedTables(snap) {
				for _, col := range snap.Tables[table].Columns {
					if strings.Contains(strings.ToLower(col.Name), canonical) {
						out = append(out, Mapping{
							Term: term, Table: table, Column: col.Name,
							Confidence: semanticConfidence, Kind: MatchSemantic,
							FullPath: table + "." + col.Name,
						})
					}
				}
			}
		}
	}
	return out
}

// suggestTables collects mapped tables plus their depth-1 foreign-key
// neighbors, sorted.
func suggestTables(snap *catalog.Snapshot, mappings []Mapping) []string {
	seen := make(map[string]bool)
	for _, m := range mappings {
		seen[m.Table] = true
		for _, fk := range snap.Tables[m.Table].ForeignKeys {
			seen[fk.RefTable] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func sortedTables(snap *catalog.Snapshot) []string {
	names := make([]string, 0, len(snap.Tables))
	for name := range snap.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
