package parse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"querysight/internal/catalog"
	"querysight/internal/engine"
	"querysight/internal/llm"
	"querysight/internal/store"
)

// ErrUnderspecified marks a well-formed prompt that still cannot be planned:
// a plain aggregate with no grouping dimension and no time range.
var ErrUnderspecified = errors.New("prompt needs a grouping or time range")

// chartRules pick a hint from keyword evidence in the cleaned prompt. Rule
// order breaks ties deterministically.
var chartRules = []struct {
	intent     string
	chart      string
	confidence float64
	keywords   []string
}{
	{"compare", "bar", 0.8, []string{"compare", "vs", "versus", "difference", "against"}},
	{"trend", "line", 0.85, []string{"trend", "over time", "by date", "monthly", "yearly", "timeline"}},
	{"distribution", "pie", 0.75, []string{"distribution", "breakdown", "by category", "by type", "proportion"}},
	{"correlation", "scatter", 0.8, []string{"relationship", "correlation", "scatter", "association"}},
	{"show", "table", 0.7, []string{"show", "display", "view", "list"}},
}

// metricVocabulary are prompt words the SQL builder understands directly.
var metricVocabulary = newSet(
	"revenue", "sales", "total", "profit", "orders", "quantity",
	"customers", "users", "products",
)

// timeDimensions normalize temporal references to builder dimensions.
var timeDimensions = map[string]string{
	"month": "month", "monthly": "month",
	"year": "year", "yearly": "year", "annual": "year",
	"quarter": "quarter", "quarterly": "quarter",
	"date": "month", "time": "month", "period": "month",
}

// Result carries everything the parser learned about one prompt.
type Result struct {
	Clean          CleanResult           `json:"clean"`
	Validation     ValidationResult      `json:"validation"`
	Mapping        MappingResult         `json:"mapping"`
	RelevantTables []TableScore          `json:"relevant_tables"`
	SchemaContext  []store.SearchResult  `json:"schema_context,omitempty"`
	Intent         engine.ResolvedIntent `json:"intent"`
}

// Parser runs the staged prompt analysis over the catalog and the
// descriptive index. The LLM client is optional; without it, enrichment is
// purely rule-based.
type Parser struct {
	cat       *catalog.Catalog
	idx       *store.Index
	client    llm.Client
	threshold float64
	logger    *zap.Logger
}

func NewParser(cat *catalog.Catalog, idx *store.Index, client llm.Client, logger *zap.Logger) *Parser {
	return &Parser{
		cat:       cat,
		idx:       idx,
		client:    client,
		threshold: validThreshold,
		logger:    logger.Named("parse"),
	}
}

// SetValidationThreshold overrides the minimum confidence for actionable
// prompts. Non-positive values keep the default.
func (p *Parser) SetValidationThreshold(v float64) {
	if v > 0 {
		p.threshold = v
	}
}

// Parse runs the stages in order, short-circuiting with ErrLowConfidence
// when validation fails.
func (p *Parser) Parse(ctx context.Context, prompt string) (*Result, error) {
	res := &Result{Clean: Clean(prompt)}

	res.Validation = ValidateAt(res.Clean.Cleaned, p.threshold)
	if !res.Validation.Valid {
		return res, fmt.Errorf("%w: confidence %.2f", ErrLowConfidence, res.Validation.Confidence)
	}

	snap, err := p.cat.Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("catalog unavailable: %w", err)
	}

	terms := ExtractTerms(res.Clean.Cleaned)
	res.RelevantTables = ScoreTables(snap, terms)
	res.Mapping = MapFields(snap, terms)

	if p.idx != nil {
		relevant, err := p.idx.Relevant(ctx, res.Clean.Cleaned)
		if err != nil {
			p.logger.Warn("index lookup failed", zap.Error(err))
		} else {
			res.SchemaContext = relevant
		}
	}

	res.Intent = p.enrich(ctx, snap, res)

	if res.Intent.IntentType == engine.IntentSummary &&
		res.Intent.Dimension == "" && len(res.Clean.TimeRefs) == 0 &&
		len(res.Intent.Filters) == 0 {
		return res, fmt.Errorf("%w: %q", ErrUnderspecified, res.Clean.Cleaned)
	}
	return res, nil
}

// enrich produces the resolved intent. The rule-based result always exists;
// an available LLM may override intent type, metric, dimension, and chart
// hint when its answer parses.
func (p *Parser) enrich(ctx context.Context, snap *catalog.Snapshot, res *Result) engine.ResolvedIntent {
	intent := p.ruleBasedIntent(snap, res)
	if p.client == nil {
		return intent
	}

	refined, err := p.refineWithLLM(ctx, res, intent)
	if err != nil {
		p.logger.Warn("llm intent refinement failed, using rule-based result",
			zap.Error(err))
		return intent
	}
	return refined
}

func (p *Parser) ruleBasedIntent(snap *catalog.Snapshot, res *Result) engine.ResolvedIntent {
	cleaned := res.Clean.Cleaned

	chartIntent, chartHint := bestChartRule(cleaned)

	var intentType engine.IntentType
	switch chartIntent {
	case "compare":
		intentType = engine.IntentComparison
	case "trend":
		intentType = engine.IntentTrend
	default:
		intentType = engine.IntentSummary
		if len(res.Clean.TimeRefs) > 0 {
			intentType = engine.IntentTrend
			chartHint = "line"
		}
	}

	metric := pickMetric(snap, res)
	dimension := pickDimension(snap, res, intentType, metric)

	return engine.ResolvedIntent{
		IntentType:      intentType,
		Metric:          metric,
		Dimension:       dimension,
		ChartTypeHint:   chartHint,
		SchemaValidated: len(res.Mapping.Mappings) > 0,
	}
}

func bestChartRule(cleaned string) (intent, chart string) {
	lower := strings.ToLower(cleaned)
	bestScore := 0
	intent, chart = "show", "table"
	for _, rule := range chartRules {
		score := 0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			intent = rule.intent
			chart = rule.chart
		}
	}
	return intent, chart
}

// pickMetric prefers prompt words the builder understands, then the best
// numeric field mapping.
func pickMetric(snap *catalog.Snapshot, res *Result) string {
	for _, word := range strings.Fields(res.Clean.Cleaned) {
		if metricVocabulary[word] {
			return word
		}
	}
	for _, m := range res.Mapping.Mappings {
		if m.Column == "*" {
			continue
		}
		if isNumericColumn(snap, m.Table, m.Column) {
			return m.Column
		}
	}
	return ""
}

// pickDimension prefers a normalized time reference for trends, then the
// best categorical field mapping.
func pickDimension(snap *catalog.Snapshot, res *Result, intentType engine.IntentType, metric string) string {
	for _, ref := range res.Clean.TimeRefs {
		if dim, ok := timeDimensions[ref]; ok {
			return dim
		}
	}
	if intentType == engine.IntentTrend {
		return "month"
	}
	for _, m := range res.Mapping.Mappings {
		if m.Column == "*" || isNumericColumn(snap, m.Table, m.Column) {
			continue
		}
		if m.Term == metric {
			continue
		}
		return strings.ToLower(m.Column)
	}
	return ""
}

func isNumericColumn(snap *catalog.Snapshot, table, column string) bool {
	schema, ok := snap.Tables[table]
	if !ok {
		return false
	}
	for _, col := range schema.Columns {
		if col.Name != column {
			continue
		}
		t := strings.ToUpper(col.Type)
		for _, marker := range []string{"INT", "REAL", "FLOA", "DOUB", "NUM", "DEC"} {
			if strings.Contains(t, marker) {
				return true
			}
		}
	}
	return false
}

// refineWithLLM asks the model for intent, metric, dimension, and chart,
// grounded on the mapped fields and the retrieved schema context.
func (p *Parser) refineWithLLM(ctx context.Context, res *Result, fallback engine.ResolvedIntent) (engine.ResolvedIntent, error) {
	prompt := p.buildIntentPrompt(res)

	out, err := p.client.Complete(ctx, prompt)
	if err != nil {
		return fallback, err
	}

	obj, err := llm.ParseObject(out, []string{"intent_type"}, map[string]any{
		"metric":          fallback.Metric,
		"dimension":       fallback.Dimension,
		"suggested_chart": fallback.ChartTypeHint,
	})
	if err != nil {
		return fallback, err
	}

	refined := fallback
	switch llm.StringField(obj, "intent_type", "") {
	case "compare_data", "comparison":
		refined.IntentType = engine.IntentComparison
	case "trend_analysis", "trend":
		refined.IntentType = engine.IntentTrend
	case "show_data", "distribution", "correlation", "summary", "custom":
		refined.IntentType = engine.IntentSummary
	}
	if m := stripTablePrefix(llm.StringField(obj, "metric", "")); m != "" {
		refined.Metric = m
	}
	if d := stripTablePrefix(llm.StringField(obj, "dimension", "")); d != "" {
		refined.Dimension = d
	}
	if c := llm.StringField(obj, "suggested_chart", ""); c != "" && c != "auto" {
		refined.ChartTypeHint = c
	}
	return refined, nil
}

func (p *Parser) buildIntentPrompt(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this data question and answer with JSON only.\n\nQuestion: %q\n\n", res.Clean.Cleaned)

	if len(res.SchemaContext) > 0 {
		b.WriteString("Schema context:\n")
		for i, sr := range res.SchemaContext {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", sr.Record.Content)
		}
		b.WriteString("\n")
	}
	if len(res.Mapping.SuggestedTables) > 0 {
		fmt.Fprintf(&b, "Candidate tables: %s\n", strings.Join(res.Mapping.SuggestedTables, ", "))
	}
	if len(res.Mapping.Mappings) > 0 {
		b.WriteString("Field mappings:\n")
		for i, m := range res.Mapping.Mappings {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "- %q -> %s (%.2f, %s)\n", m.Term, m.FullPath, m.Confidence, m.Kind)
		}
	}

	b.WriteString(`
Respond with JSON:
{"intent_type": "show_data|compare_data|trend_analysis|distribution|correlation",
 "metric": "<measure to aggregate>",
 "dimension": "<grouping field or empty>",
 "suggested_chart": "table|bar|line|pie|scatter|area"}`)
	return b.String()
}

func stripTablePrefix(field string) string {
	field = strings.TrimSpace(field)
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return strings.ToLower(field)
}
