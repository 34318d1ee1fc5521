package synth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidArtifact marks code that failed the acceptance checks.
var ErrInvalidArtifact = errors.New("artifact failed validation")

const minArtifactLen = 50

var (
	pascalCaseRe = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
	renderRe     = regexp.MustCompile(`React\.createElement\s*\(|<[A-Za-z][A-Za-z0-9]*[\s>/]`)

	dangerousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\beval\s*\(`),
		regexp.MustCompile(`(?i)\bnew\s+Function\s*\(`),
		regexp.MustCompile(`(?i)\binnerHTML\s*=`),
		regexp.MustCompile(`(?i)dangerouslySetInnerHTML`),
	}
)

// Validate checks generated artifact code before acceptance: minimum length,
// a parameterless top-level declaration matching the PascalCase name, a
// render expression with a terminating brace, and no dynamic-code or raw-HTML
// constructs.
func Validate(code, name string) error {
	if len(code) < minArtifactLen {
		return fmt.Errorf("%w: code too short (%d chars)", ErrInvalidArtifact, len(code))
	}

	if !pascalCaseRe.MatchString(name) {
		return fmt.Errorf("%w: artifact name %q is not PascalCase", ErrInvalidArtifact, name)
	}
	declRe := regexp.MustCompile(
		`(?m)^\s*(?:const\s+` + regexp.QuoteMeta(name) + `\s*=\s*(?:function\s*)?\(\s*\)|function\s+` + regexp.QuoteMeta(name) + `\s*\(\s*\))`)
	if !declRe.MatchString(code) {
		return fmt.Errorf("%w: no parameterless declaration of %q", ErrInvalidArtifact, name)
	}

	if !renderRe.MatchString(code) {
		return fmt.Errorf("%w: no render expression", ErrInvalidArtifact)
	}
	trimmed := strings.TrimRight(strings.TrimSpace(code), ";")
	if !strings.HasSuffix(trimmed, "}") && !strings.HasSuffix(trimmed, ")") {
		return fmt.Errorf("%w: missing terminating brace", ErrInvalidArtifact)
	}

	for _, re := range dangerousPatterns {
		if re.MatchString(code) {
			return fmt.Errorf("%w: dangerous construct %q", ErrInvalidArtifact, re.String())
		}
	}
	return nil
}
