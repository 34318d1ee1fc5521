package errhandler

import (
	"fmt"
	"sort"
	"strings"

	"querysight/internal/engine"
)

const maxRetries = 3

// retryDelays are the backoff seconds per retry attempt.
var retryDelays = [maxRetries]int{1, 3, 5}

// fieldSynonyms back the schema remap: a missing field resolves through its
// canonical group against the available columns.
var fieldSynonyms = map[string][]string{
	"revenue":  {"sales", "income", "earnings", "total_sales", "net_revenue", "total_amount"},
	"customer": {"client", "user", "account", "customer_id", "client_id", "user_id"},
	"product":  {"item", "sku", "merchandise", "product_id", "product_code"},
	"date":     {"time", "timestamp", "period", "created_at", "order_date", "sale_date"},
	"region":   {"area", "location", "zone", "territory", "geography"},
	"quantity": {"qty", "amount", "count", "units", "volume"},
	"price":    {"cost", "amount", "value", "unit_price", "price_per_unit"},
	"category": {"cat", "type", "kind", "group", "class"},
}

// chartCompatibility maps (requested chart, data shape) to workable
// alternatives. Unlisted combinations fall to the default set.
var chartCompatibility = map[[2]string][]string{
	{"pie", "date"}:      {"line", "bar", "area"},
	{"pie", "time"}:      {"line", "bar", "area"},
	{"line", "category"}: {"bar", "pie", "column"},
	{"scatter", "single"}: {"bar", "line"},
}

var defaultChartAlternatives = []string{"bar", "line", "table"}

// ChartCompat reports the workable chart alternatives for a requested chart
// over a given data shape. ok is false when the combination is not in the
// matrix, meaning the requested chart stands.
func ChartCompat(chart, shape string) ([]string, bool) {
	alts, ok := chartCompatibility[[2]string{strings.ToLower(chart), strings.ToLower(shape)}]
	return alts, ok
}

// CacheFunc resolves a cached dataset for a failing query, keyed however
// the caller tracks results.
type CacheFunc func(queryID string, ctx map[string]any) (*engine.NormalizedDataset, bool)

// FindFieldMapping resolves a missing field against the available columns:
// direct case-insensitive match, then the synonym groups, then containment.
func FindFieldMapping(missing string, available []string) (string, bool) {
	if missing == "" || len(available) == 0 {
		return "", false
	}
	lower := strings.ToLower(missing)

	byLower := make(map[string]string, len(available))
	for _, f := range available {
		byLower[strings.ToLower(f)] = f
	}
	if f, ok := byLower[lower]; ok {
		return f, true
	}

	for _, base := range synonymBases() {
		group := append([]string{base}, fieldSynonyms[base]...)
		inGroup := false
		for _, term := range group {
			if term == lower {
				inGroup = true
				break
			}
		}
		if !inGroup {
			continue
		}
		for _, candidate := range group {
			if f, ok := byLower[candidate]; ok {
				return f, true
			}
		}
	}

	for _, f := range available {
		fl := strings.ToLower(f)
		if strings.Contains(fl, lower) || strings.Contains(lower, fl) {
			return f, true
		}
	}
	return "", false
}

// synonymBases returns the group keys sorted, so remap resolution is
// deterministic when a term belongs to more than one group.
func synonymBases() []string {
	bases := make([]string, 0, len(fieldSynonyms))
	for base := range fieldSynonyms {
		bases = append(bases, base)
	}
	sort.Strings(bases)
	return bases
}

// decideRecovery picks the per-kind strategy. It is deterministic for a
// given payload, analysis, and cache state.
func decideRecovery(kind Kind, p Payload, analysis Analysis, cache CacheFunc) Recovery {
	switch kind {
	case KindInput:
		return inputRecovery(p)
	case KindSchema:
		return schemaRecovery(p, analysis)
	case KindQuery:
		return queryRecovery(p, analysis, cache)
	case KindChart:
		return chartRecovery(p)
	case KindSystem:
		return systemRecovery(p, cache)
	default:
		return Recovery{
			Strategy:         "provide_validation_help",
			AutomatedActions: []string{"show_format_examples", "list_constraints"},
			Suggestions: []string{
				"Check data format requirements",
				"Example: dates should be YYYY-MM-DD",
				"Ensure all required fields are provided",
			},
			NextAction: ActionAwaitUser,
		}
	}
}

func inputRecovery(p Payload) Recovery {
	missing := contextStrings(p.Data.Context, "missing_params")
	if len(missing) == 0 {
		missing = []string{"time range", "metric"}
	}
	suggestions := make([]string, 0, 3)
	for _, param := range firstN(missing, 2) {
		suggestions = append(suggestions, "Please specify the "+param)
	}
	suggestions = append(suggestions, "Try: 'show revenue by month for last quarter'")

	return Recovery{
		Strategy:         "clarify",
		AutomatedActions: []string{"generate_clarifying_prompts"},
		Suggestions:      suggestions,
		NextAction:       ActionAwaitUser,
	}
}

func schemaRecovery(p Payload, analysis Analysis) Recovery {
	missing := contextString(p.Data.Context, "field", "")
	available := analysis.AvailableFields

	if target, ok := FindFieldMapping(missing, available); ok {
		return Recovery{
			Strategy: "auto_remap_field",
			AutomatedActions: []string{
				"apply_field_mapping",
				fmt.Sprintf("map:%s->%s", missing, target),
			},
			FieldMapping: map[string]string{missing: target},
			Suggestions:  []string{fmt.Sprintf("Using '%s' instead of '%s'", target, missing)},
			NextAction:   ActionResume,
		}
	}

	if len(available) == 0 {
		return Recovery{
			Strategy:         "suggest_alternatives",
			AutomatedActions: []string{"list_available_fields"},
			Suggestions:      []string{"Schema information unavailable"},
			NextAction:       ActionEscalate,
		}
	}
	return Recovery{
		Strategy:         "suggest_alternatives",
		AutomatedActions: []string{"list_available_fields"},
		Suggestions: []string{
			"Available fields: " + strings.Join(firstN(available, 5), ", "),
			"Check field names for typos",
			"Use 'show schema' to see all fields",
		},
		NextAction: ActionAwaitUser,
	}
}

func queryRecovery(p Payload, analysis Analysis, cache CacheFunc) Recovery {
	if cache != nil {
		if cached, ok := cache(p.Data.QueryID, p.Data.Context); ok {
			return Recovery{
				Strategy:         "use_cached_data",
				AutomatedActions: []string{"use_cache:true"},
				CachedData:       cached,
				Suggestions: []string{
					"Using recent cached results",
					"Fresh data temporarily unavailable",
				},
				NextAction: ActionResume,
			}
		}
	}

	retryCount := contextInt(p.Data.Context, "retry_count")
	if analysis.CanRetry && retryCount < maxRetries {
		return Recovery{
			Strategy: "retry_with_backoff",
			AutomatedActions: []string{
				fmt.Sprintf("retry:%d", retryCount+1),
				fmt.Sprintf("backoff:%ds", retryDelays[retryCount]),
				"reduce_scope",
			},
			Suggestions: []string{
				"Retrying with optimized query",
				"Consider reducing date range",
				fmt.Sprintf("Attempt %d of %d", retryCount+1, maxRetries),
			},
			NextAction: ActionResume,
			RetryCount: retryCount + 1,
		}
	}

	return Recovery{
		Strategy:         "escalate_query_issue",
		AutomatedActions: []string{"escalate:ops", "log_query_failure"},
		Suggestions: []string{
			"Query cannot be completed at this time",
			"Try a simpler query or smaller date range",
			"Technical team has been notified",
		},
		NextAction: ActionEscalate,
	}
}

func chartRecovery(p Payload) Recovery {
	chart := strings.ToLower(contextString(p.Data.Context, "chart", "unknown"))
	dimension := strings.ToLower(contextString(p.Data.Context, "dimension", ""))

	alternatives, ok := chartCompatibility[[2]string{chart, dimension}]
	if !ok {
		alternatives = defaultChartAlternatives
	}

	return Recovery{
		Strategy:         "suggest_chart_alternatives",
		AutomatedActions: []string{"suggest_chart:" + alternatives[0]},
		Suggestions: []string{
			fmt.Sprintf("'%s' doesn't work with %s data", chart, dimension),
			"Try: " + strings.Join(alternatives, ", ") + " chart instead",
			"Or change the grouping dimension",
		},
		NextAction: ActionAwaitUser,
	}
}

func systemRecovery(p Payload, cache CacheFunc) Recovery {
	actions := []string{"escalate:critical", "notify_ops"}
	suggestions := []string{"System temporarily unavailable"}

	var cached *engine.NormalizedDataset
	if cache != nil {
		if ds, ok := cache(p.Data.QueryID, p.Data.Context); ok {
			cached = ds
			actions = append(actions, "provide_cached_fallback")
			suggestions = append(suggestions, "Showing last known results")
		}
	}
	suggestions = append(suggestions, "Please try again in 15 minutes")

	return Recovery{
		Strategy:         "system_failure_handling",
		AutomatedActions: actions,
		CachedData:       cached,
		Suggestions:      suggestions,
		NextAction:       ActionEscalate,
	}
}
