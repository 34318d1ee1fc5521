package errhandler

import (
	"fmt"
	"strings"
)

// Analysis is the root cause verdict for one classified error.
type Analysis struct {
	RootCause string
	Details   string
	Severity  Severity

	NeedsClarification bool
	NeedsSynonymCheck  bool
	NeedsCacheCheck    bool
	NeedsAlternative   bool
	NeedsEscalation    bool
	CanRetry           bool
	AvailableFields    []string
}

// Analyze produces the per-kind root cause analysis from the payload data.
func Analyze(kind Kind, data PayloadData) Analysis {
	switch kind {
	case KindInput:
		missing := contextStrings(data.Context, "missing_params")
		detail := "unknown"
		if len(missing) > 0 {
			detail = strings.Join(missing, ", ")
		}
		return Analysis{
			RootCause:          "User input lacks required specificity",
			Details:            "Missing parameters: " + detail,
			Severity:           SeverityLow,
			NeedsClarification: true,
		}

	case KindSchema:
		field := contextString(data.Context, "field", "unknown")
		available := contextStrings(data.Context, "available_fields")
		detail := "none"
		if len(available) > 0 {
			detail = strings.Join(firstN(available, 5), ", ")
		}
		return Analysis{
			RootCause:         fmt.Sprintf("Field '%s' not found in schema", field),
			Details:           "Available fields: " + detail,
			Severity:          SeverityMedium,
			NeedsSynonymCheck: true,
			AvailableFields:   available,
		}

	case KindQuery:
		msg := strings.ToLower(data.Message)
		switch {
		case strings.Contains(msg, "timeout"):
			return Analysis{
				RootCause:       "Query execution timeout, dataset too large",
				Details:         fmt.Sprintf("Query ran for %s seconds", contextString(data.Context, "query_time", "unknown")),
				Severity:        SeverityMedium,
				NeedsCacheCheck: true,
				CanRetry:        true,
			}
		case strings.Contains(msg, "connection"):
			return Analysis{
				RootCause: "Database connection lost",
				Details:   "Transient network issue",
				Severity:  SeverityHigh,
				CanRetry:  true,
			}
		default:
			return Analysis{
				RootCause: "Query execution failed",
				Details:   data.Message,
				Severity:  SeverityHigh,
			}
		}

	case KindChart:
		chart := contextString(data.Context, "chart", "unknown")
		dimension := contextString(data.Context, "dimension", "unknown")
		return Analysis{
			RootCause:        fmt.Sprintf("Chart type '%s' incompatible with '%s' dimension", chart, dimension),
			Details:          fmt.Sprintf("Chart: %s, Data dimension: %s", chart, dimension),
			Severity:         SeverityLow,
			NeedsAlternative: true,
		}

	case KindSystem:
		return Analysis{
			RootCause:       "System or service unavailable",
			Details:         data.Message,
			Severity:        SeverityCritical,
			NeedsEscalation: true,
		}

	default:
		return Analysis{
			RootCause: "Data validation failed",
			Details:   data.Message,
			Severity:  SeverityMedium,
		}
	}
}

func contextString(ctx map[string]any, key, fallback string) string {
	if v, ok := ctx[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func contextStrings(ctx map[string]any, key string) []string {
	switch v := ctx[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func contextInt(ctx map[string]any, key string) int {
	switch v := ctx[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func firstN(ss []string, n int) []string {
	if len(ss) > n {
		return ss[:n]
	}
	return ss
}
