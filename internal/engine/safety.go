package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeSQL marks statements rejected by the read-only gate. Callers
// treat it as a validation error: no repair attempt is made.
var ErrUnsafeSQL = errors.New("unsafe SQL")

var dangerousWords = regexp.MustCompile(
	`(?i)\b(DROP|DELETE|TRUNCATE|ALTER|INSERT|UPDATE|CREATE|EXEC)\b`)

// ValidateSelect enforces the read-only policy on every statement, whether
// builder-emitted or LLM-repaired: it must be a SELECT, reference a FROM,
// contain no data-modifying keyword as a whole word, and balance its
// parentheses.
func ValidateSelect(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return fmt.Errorf("%w: empty statement", ErrUnsafeSQL)
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return fmt.Errorf("%w: statement must begin with SELECT", ErrUnsafeSQL)
	}
	if !strings.Contains(upper, "FROM") {
		return fmt.Errorf("%w: statement must contain FROM", ErrUnsafeSQL)
	}
	if m := dangerousWords.FindString(trimmed); m != "" {
		return fmt.Errorf("%w: dangerous keyword %s", ErrUnsafeSQL, strings.ToUpper(m))
	}

	depth := 0
	for _, r := range trimmed {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced parentheses", ErrUnsafeSQL)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced parentheses", ErrUnsafeSQL)
	}
	return nil
}
