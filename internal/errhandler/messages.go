package errhandler

import (
	"fmt"
	"strings"
)

var messageTemplates = map[Kind]string{
	KindInput:      "I need more details. %s. %s",
	KindSchema:     "Field not found. %s. %s",
	KindQuery:      "Query issue: %s. %s",
	KindChart:      "%s. %s",
	KindSystem:     "Technical issue: %s. %s",
	KindValidation: "Invalid data: %s. %s",
}

const defaultTemplate = "Error: %s. %s"

// buildMessage renders the user-facing line from the kind template. Auto
// remaps and cache substitutions get their own phrasing since the error was
// absorbed rather than surfaced.
func buildMessage(kind Kind, rootCause string, recovery Recovery) string {
	first := "Please try again"
	if len(recovery.Suggestions) > 0 {
		first = recovery.Suggestions[0]
	}

	if len(recovery.FieldMapping) > 0 {
		return "I found a matching field. " + first
	}
	if recovery.Strategy == "use_cached_data" && recovery.CachedData != nil {
		return "Using cached results. " + first
	}

	tmpl, ok := messageTemplates[kind]
	if !ok {
		tmpl = defaultTemplate
	}
	return fmt.Sprintf(tmpl, strings.TrimSuffix(rootCause, "."), first)
}
