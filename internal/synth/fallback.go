package synth

import (
	"encoding/json"
	"fmt"
	"regexp"

	"querysight/internal/engine"
)

const fallbackName = "ErrorChart"

// scrubRe matches the constructs Validate rejects. Error messages and row
// data are embedded verbatim in the artifact source, so any such token in
// them would fail the artifact it is meant to rescue.
var scrubRe = regexp.MustCompile(`(?i)eval\s*\(|new\s+Function\s*\(|innerHTML\s*=|dangerouslySetInnerHTML`)

func scrub(s string) string {
	return scrubRe.ReplaceAllString(s, "[removed]")
}

// staticFallbackCode is the data-free last resort when even the scrubbed
// embed fails validation.
const staticFallbackCode = `const %s = () => {
  return React.createElement('div', {className: 'w-full h-full flex items-center justify-center p-4'},
    React.createElement('div', {className: 'text-red-500 text-lg'}, 'Chart Generation Error'));
};`

// Fallback deterministically builds an error artifact from whatever data is
// available: first 10 rows embedded as a literal, the failure message, and a
// small preview. It always passes Validate.
func Fallback(ds *engine.NormalizedDataset, errMsg string) Artifact {
	var rows []map[string]any
	if ds != nil {
		rows = ds.Rows
		if len(rows) > 10 {
			rows = rows[:10]
		}
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	rowsJSON, _ := json.Marshal(rows)
	msgJSON, _ := json.Marshal(scrub(errMsg))

	code := fmt.Sprintf(`const %s = () => {
  const data = %s;
  const message = %s;
  return React.createElement('div', {className: 'w-full h-full flex items-center justify-center p-4'},
    React.createElement('div', {className: 'text-center'},
      React.createElement('div', {className: 'text-red-500 text-lg mb-2'}, 'Chart Generation Error'),
      React.createElement('div', {className: 'text-gray-600 text-sm mb-4'}, message),
      data.length > 0 ? React.createElement('pre', {className: 'text-xs text-left overflow-auto bg-gray-50 p-4 rounded-lg max-w-md'},
        JSON.stringify(data.slice(0, 3), null, 2)) : null,
      data.length > 3 ? React.createElement('div', {className: 'text-xs text-gray-500 mt-2'},
        '... and ' + (data.length - 3) + ' more rows') : null));
};`, fallbackName, scrub(string(rowsJSON)), msgJSON)

	if Validate(code, fallbackName) != nil {
		code = fmt.Sprintf(staticFallbackCode, fallbackName)
	}
	return Artifact{Code: code, Name: fallbackName, ChartType: "error"}
}
