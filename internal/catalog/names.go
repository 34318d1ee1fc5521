package catalog

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9_]`)
var multiUnderscore = regexp.MustCompile(`_+`)

// CleanTableName derives a valid SQL table name from a file stem.
// Non-alphanumerics become underscores and the result is lowercased.
// Names that do not start with a letter or underscore get a table_ prefix.
func CleanTableName(stem string) string {
	name := nonAlnum.ReplaceAllString(stem, "_")
	name = strings.ToLower(name)
	if name == "" {
		return "table_unnamed"
	}
	first := name[0]
	if !(first == '_' || (first >= 'a' && first <= 'z')) {
		name = "table_" + name
	}
	return name
}

// CleanColumnName derives a valid SQL column name from a CSV header cell.
// Consecutive underscores collapse, leading/trailing underscores are trimmed,
// and names with a leading digit get a col_ prefix.
func CleanColumnName(header string) string {
	name := nonAlnum.ReplaceAllString(header, "_")
	name = multiUnderscore.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	name = strings.ToLower(name)
	if name == "" {
		return "unnamed_column"
	}
	first := name[0]
	if !(first == '_' || (first >= 'a' && first <= 'z')) {
		name = "col_" + name
	}
	return name
}

// quoteIdent wraps an identifier in double quotes for use in generated DDL
// and introspection statements. Embedded quotes are doubled.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
