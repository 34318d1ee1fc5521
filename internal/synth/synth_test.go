package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"querysight/internal/engine"
	"querysight/internal/llm"
)

const validCode = `const RevenueChart = () => {
  const data = [{"month": "2024-01", "revenue": 100}];
  return React.createElement(BarChart, {data: data},
    React.createElement(Bar, {dataKey: 'revenue'}));
};`

func testDataset(rows int) *engine.NormalizedDataset {
	ds := &engine.NormalizedDataset{
		ColumnOrder: []string{"month", "revenue"},
		ChartConfig: engine.ChartConfig{
			ChartType: "line",
			XAxis:     "month",
			YAxis:     "revenue",
			Title:     "Revenue by Month",
		},
		OK: true,
	}
	for i := 0; i < rows; i++ {
		ds.Rows = append(ds.Rows, map[string]any{
			"month":   fmt.Sprintf("row%02d", i),
			"revenue": float64(100 * (i + 1)),
		})
	}
	ds.Summary = engine.Summary{RowCount: rows, ColCount: 2}
	return ds
}

func artifactResponse(code, name, chartType string) string {
	raw, _ := json.Marshal(map[string]string{
		"artifact_code": code,
		"artifact_name": name,
		"chart_type":    chartType,
	})
	return string(raw)
}

func TestGenerateValidArtifact(t *testing.T) {
	mock := llm.NewMock(artifactResponse(validCode, "RevenueChart", "bar"))
	s := NewSynthesizer(mock, zap.NewNop())

	art, err := s.Generate(context.Background(), testDataset(8), "show revenue by month")
	require.NoError(t, err)
	assert.Equal(t, "RevenueChart", art.Name)
	assert.Equal(t, "bar", art.ChartType)
	assert.Equal(t, validCode, art.Code)
}

func TestGeneratePromptContents(t *testing.T) {
	mock := llm.NewMock(artifactResponse(validCode, "RevenueChart", "bar"))
	s := NewSynthesizer(mock, zap.NewNop())

	_, err := s.Generate(context.Background(), testDataset(8), "show revenue by month")
	require.NoError(t, err)
	require.Len(t, mock.Prompts, 1)
	prompt := mock.Prompts[0]

	assert.Contains(t, prompt, `"show revenue by month"`)
	assert.Contains(t, prompt, "(Sample of 8 total rows)")
	assert.Contains(t, prompt, "Chart Type: line")
	assert.Contains(t, prompt, "Title: Revenue by Month")
	assert.Contains(t, prompt, "React.createElement() calls instead of JSX")
	assert.Contains(t, prompt, `"artifact_code"`)

	// Only the first five rows are embedded.
	assert.Contains(t, prompt, "row04")
	assert.NotContains(t, prompt, "row05")
}

func TestGenerateMissingChartTypeDefaultsToConfig(t *testing.T) {
	raw, _ := json.Marshal(map[string]string{
		"artifact_code": validCode,
		"artifact_name": "RevenueChart",
	})
	mock := llm.NewMock(string(raw))
	s := NewSynthesizer(mock, zap.NewNop())

	art, err := s.Generate(context.Background(), testDataset(3), "revenue")
	require.NoError(t, err)
	assert.Equal(t, "line", art.ChartType)
}

func TestGenerateRejectsInvalidCode(t *testing.T) {
	mock := llm.NewMock(artifactResponse("too short", "RevenueChart", "bar"))
	s := NewSynthesizer(mock, zap.NewNop())

	_, err := s.Generate(context.Background(), testDataset(3), "revenue")
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestGenerateCompletionFailure(t *testing.T) {
	mock := llm.NewMock().FailWith(errors.New("provider down"))
	s := NewSynthesizer(mock, zap.NewNop())

	_, err := s.Generate(context.Background(), testDataset(3), "revenue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestGenerateUnparseableResponse(t *testing.T) {
	mock := llm.NewMock("I cannot produce JSON today")
	s := NewSynthesizer(mock, zap.NewNop())

	_, err := s.Generate(context.Background(), testDataset(3), "revenue")
	require.Error(t, err)
	var parseErr *llm.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestValidateRules(t *testing.T) {
	cases := []struct {
		name     string
		code     string
		artName  string
		wantPart string
	}{
		{"too short", "const X = () => {}", "X", "too short"},
		{"name not pascal case", validCode, "revenueChart", "not PascalCase"},
		{"name mismatch", validCode, "SalesChart", "no parameterless declaration"},
		{"declaration takes params", strings.Replace(validCode, "= () =>", "= (props) =>", 1), "RevenueChart", "no parameterless declaration"},
		{"no render expression", `const RevenueChart = () => { const data = [1, 2, 3]; return null; }`, "RevenueChart", "no render expression"},
		{"eval", strings.Replace(validCode, "const data", "eval('x'); const data", 1), "RevenueChart", "dangerous"},
		{"new Function", strings.Replace(validCode, "const data", "const f = new Function('x'); const data", 1), "RevenueChart", "dangerous"},
		{"innerHTML", strings.Replace(validCode, "const data", "node.innerHTML = 'x'; const data", 1), "RevenueChart", "dangerous"},
		{"dangerouslySetInnerHTML", strings.Replace(validCode, "{data: data}", "{dangerouslySetInnerHTML: {__html: x}}", 1), "RevenueChart", "dangerous"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.code, tc.artName)
			require.ErrorIs(t, err, ErrInvalidArtifact)
			assert.Contains(t, err.Error(), tc.wantPart)
		})
	}
}

func TestValidateAcceptsFunctionDeclaration(t *testing.T) {
	code := `function RevenueChart() {
  return React.createElement('div', null, 'hello world, this is a chart');
}`
	assert.NoError(t, Validate(code, "RevenueChart"))
}

func TestFallbackPassesValidation(t *testing.T) {
	art := Fallback(testDataset(4), "query timeout after 30 seconds")
	assert.Equal(t, "ErrorChart", art.Name)
	assert.Equal(t, "error", art.ChartType)
	assert.NoError(t, Validate(art.Code, art.Name))
	assert.Contains(t, art.Code, "query timeout after 30 seconds")
	assert.Contains(t, art.Code, "row03")
}

func TestFallbackCapsEmbeddedRows(t *testing.T) {
	art := Fallback(testDataset(12), "boom")
	assert.Contains(t, art.Code, "row09")
	assert.NotContains(t, art.Code, "row10")
}

func TestFallbackNilDataset(t *testing.T) {
	art := Fallback(nil, "no data available")
	assert.NoError(t, Validate(art.Code, art.Name))
	assert.Contains(t, art.Code, "const data = [];")
}

func TestFallbackEscapesMessage(t *testing.T) {
	art := Fallback(testDataset(1), `message with "quotes" and
newline`)
	assert.NoError(t, Validate(art.Code, art.Name))
	assert.Contains(t, art.Code, `\"quotes\"`)
}

func TestFallbackScrubsHostileMessage(t *testing.T) {
	// A rejected primary artifact hands its validation error to the
	// fallback, and that text names the pattern it tripped.
	bad := `const Chart = () => {
  const el = document.getElementById('x');
  el.dangerouslySetInnerHTML = data;
  return React.createElement('div', null, 'x');
};`
	verr := Validate(bad, "Chart")
	require.Error(t, verr)

	art := Fallback(testDataset(2), verr.Error())
	assert.NoError(t, Validate(art.Code, art.Name))
	assert.Contains(t, art.Code, "[removed]")
	assert.NotContains(t, art.Code, "dangerouslySetInnerHTML")
}

func TestFallbackScrubsHostileRowData(t *testing.T) {
	ds := &engine.NormalizedDataset{
		Rows: []map[string]any{
			{"note": "call eval( later", "id": float64(1)},
			{"note": "set innerHTML = markup", "id": float64(2)},
		},
		ColumnOrder: []string{"id", "note"},
		OK:          true,
	}
	art := Fallback(ds, "synthesis failed")
	assert.NoError(t, Validate(art.Code, art.Name))
	assert.Contains(t, art.Code, "[removed]")
}

func TestFallbackDeterministic(t *testing.T) {
	ds := testDataset(6)
	first := Fallback(ds, "boom")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Fallback(ds, "boom"))
	}
}
