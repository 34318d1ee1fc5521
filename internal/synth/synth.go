// Package synth asks the LLM for a self-contained chart artifact, validates
// the returned code, and produces a deterministic fallback artifact when
// generation or validation fails.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"querysight/internal/engine"
	"querysight/internal/llm"
)

// Artifact is a renderable chart component.
type Artifact struct {
	Code      string `json:"artifact_code"`
	Name      string `json:"artifact_name"`
	ChartType string `json:"chart_type"`
}

// Synthesizer turns a normalized dataset into an artifact.
type Synthesizer struct {
	client llm.Client
	logger *zap.Logger
}

func NewSynthesizer(client llm.Client, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{client: client, logger: logger.Named("synth")}
}

// Generate requests an artifact for the dataset and validates it. Callers
// substitute Fallback when an error comes back.
func (s *Synthesizer) Generate(ctx context.Context, ds *engine.NormalizedDataset, userPrompt string) (Artifact, error) {
	text, err := s.client.Complete(ctx, buildPrompt(ds, userPrompt))
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact completion failed: %w", err)
	}

	obj, err := llm.ParseObject(text,
		[]string{"artifact_code", "artifact_name", "chart_type"},
		map[string]any{"chart_type": ds.ChartConfig.ChartType})
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact response unusable: %w", err)
	}

	art := Artifact{
		Code:      llm.StringField(obj, "artifact_code", ""),
		Name:      llm.StringField(obj, "artifact_name", ""),
		ChartType: llm.StringField(obj, "chart_type", ds.ChartConfig.ChartType),
	}
	if err := Validate(art.Code, art.Name); err != nil {
		s.logger.Warn("generated artifact rejected",
			zap.String("artifact_name", art.Name),
			zap.Error(err))
		return Artifact{}, err
	}

	s.logger.Info("artifact generated",
		zap.String("artifact_name", art.Name),
		zap.String("chart_type", art.ChartType),
		zap.Int("code_chars", len(art.Code)))
	return art, nil
}

func buildPrompt(ds *engine.NormalizedDataset, userPrompt string) string {
	sample := ds.Rows
	if len(sample) > 5 {
		sample = sample[:5]
	}
	sampleJSON, _ := json.MarshalIndent(sample, "", "  ")

	cfg := ds.ChartConfig
	var b strings.Builder
	b.WriteString("You are an expert React developer. Generate a complete, self-contained React component for data visualization.\n\n")
	fmt.Fprintf(&b, "USER REQUEST: %q\n\n", userPrompt)
	fmt.Fprintf(&b, "DATA TO VISUALIZE:\n%s\n(Sample of %d total rows)\n\n", sampleJSON, len(ds.Rows))
	b.WriteString("CHART CONFIGURATION:\n")
	fmt.Fprintf(&b, "- Chart Type: %s\n", orDefault(cfg.ChartType, "auto-detect from data"))
	fmt.Fprintf(&b, "- X-Axis: %s\n", orDefault(cfg.XAxis, "auto-detect"))
	fmt.Fprintf(&b, "- Y-Axis: %s\n", orDefault(cfg.YAxis, "auto-detect"))
	fmt.Fprintf(&b, "- Title: %s\n\n", orDefault(cfg.Title, "Generate appropriate title"))
	b.WriteString("DATA SUMMARY:\n")
	fmt.Fprintf(&b, "- Columns: %s\n", strings.Join(ds.ColumnOrder, ", "))
	fmt.Fprintf(&b, "- Rows: %d\n", ds.Summary.RowCount)
	fmt.Fprintf(&b, "- Numeric columns: %d\n", len(ds.Summary.NumericStats))
	fmt.Fprintf(&b, "- Categorical columns: %d\n\n", len(ds.Summary.CategoricalStats))
	b.WriteString(requirementsBlock)
	return b.String()
}

// requirementsBlock is fixed so every generation attempt gets identical
// constraints. The component must be executable as-is in a sandbox that
// provides React and the chart primitives as globals, hence no imports and
// no JSX.
const requirementsBlock = `REQUIREMENTS:
1. Generate a COMPLETE React functional component (not a template)
2. The component must be fully self-contained with the data embedded directly (no props, no imports)
3. Do NOT include any import statements; React and the chart primitives are provided as globals
4. Choose the BEST chart type for this data and user request
5. Use Tailwind CSS classes for styling
6. Make it responsive with proper sizing
7. Add meaningful tooltips, labels, and formatting
8. Generate an appropriate PascalCase component name
9. IMPORTANT: Use React.createElement() calls instead of JSX syntax
10. IMPORTANT: Do not use JSX tags like <div> or <BarChart>, use React.createElement instead

EXAMPLE FORMAT:
Instead of: <div className="container">Hello</div>
Use: React.createElement('div', {className: 'container'}, 'Hello')

GENERATE THE COMPLETE COMPONENT CODE - NO PLACEHOLDERS, NO TEMPLATES!

Return your response as a JSON object:
{
  "artifact_code": "/* Complete component code here */",
  "artifact_name": "ComponentName",
  "chart_type": "bar|line|pie|scatter|area|table"
}

IMPORTANT: artifact_code must be the ENTIRE component as a string, ready to execute.`

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
