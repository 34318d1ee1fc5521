package llm

// scanObjects walks the text byte-by-byte and returns every balanced
// top-level {...} span, outermost first. The walk is string- and
// escape-aware, so braces inside quoted values (including SQL text with
// embedded quotes) do not confuse the depth count.
func scanObjects(text string) []string {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, text[start:i+1])
					start = -1
				}
			}
		}
	}

	// Unterminated object: a truncated completion still yields the prefix so
	// the aggressive repair pass can have a go at it.
	if depth > 0 && start >= 0 {
		candidates = append(candidates, text[start:])
	}

	return candidates
}
