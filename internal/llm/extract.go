package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports that no JSON object could be recovered from a
// completion. The raw text is carried for diagnostics.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse JSON from completion: %s", e.Reason)
}

// CleanResponse strips markdown code fences the model tends to wrap JSON in.
func CleanResponse(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ExtractJSON returns the first balanced JSON object embedded in text, or ""
// when none exists. Falls back to the first-'{' to last-'}' slice when the
// scanner finds nothing balanced.
func ExtractJSON(text string) string {
	text = CleanResponse(text)

	if candidates := scanObjects(text); len(candidates) > 0 {
		return candidates[0]
	}

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first >= 0 && last > first {
		return text[first : last+1]
	}
	return ""
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// normalizeStringWhitespace rewrites quoted string values so embedded
// newlines and tabs become spaces. Models frequently emit SQL inside JSON
// values with literal line breaks, which strict JSON rejects.
func normalizeStringWhitespace(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if escaped {
			b.WriteByte(ch)
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			b.WriteByte(ch)
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			b.WriteByte(ch)
			continue
		}
		if inString && (ch == '\n' || ch == '\r' || ch == '\t') {
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// ParseObject recovers a JSON object from a noisy completion. Three passes:
// strict parse of the extracted candidate, whitespace-normalized parse, and
// an aggressive pass that also drops trailing commas. Required keys that are
// absent fall to their defaults; a required key with no default is an error.
func ParseObject(text string, required []string, defaults map[string]any) (map[string]any, error) {
	candidate := ExtractJSON(text)
	if candidate == "" {
		return nil, &ParseError{Raw: text, Reason: "no JSON object found"}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		normalized := normalizeStringWhitespace(candidate)
		if err := json.Unmarshal([]byte(normalized), &obj); err != nil {
			aggressive := trailingComma.ReplaceAllString(normalized, "$1")
			if !strings.HasSuffix(strings.TrimSpace(aggressive), "}") {
				aggressive = strings.TrimRight(strings.TrimSpace(aggressive), ",") + "}"
			}
			if err := json.Unmarshal([]byte(aggressive), &obj); err != nil {
				return nil, &ParseError{Raw: text, Reason: err.Error()}
			}
		}
	}

	var missing []string
	for _, key := range required {
		if _, ok := obj[key]; ok {
			continue
		}
		if def, ok := defaults[key]; ok {
			obj[key] = def
			continue
		}
		missing = append(missing, key)
	}
	if len(missing) > 0 {
		return nil, &ParseError{Raw: text,
			Reason: fmt.Sprintf("missing required keys: %s", strings.Join(missing, ", "))}
	}

	return obj, nil
}

// StringField reads a string value from a parsed object, tolerating absent
// or non-string values by returning the fallback.
func StringField(obj map[string]any, key, fallback string) string {
	if v, ok := obj[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
