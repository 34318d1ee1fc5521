// Package engine turns a resolved intent into SQL, executes it read-only
// against the relational store, and normalizes the rows into a chart-ready
// dataset. It owns the result cache and the retry-with-repair loop.
package engine

import (
	"sort"
	"time"
)

// IntentType is the query shape requested by the parser.
type IntentType string

const (
	IntentSummary    IntentType = "summary"
	IntentComparison IntentType = "comparison"
	IntentTrend      IntentType = "trend"
)

// Filter is an equality predicate on a dimension column.
type Filter struct {
	Column string `json:"column"`
	Op     string `json:"op"` // only "=" is supported
	Value  string `json:"value"`
}

// ResolvedIntent is the contract from the input parser into the engine.
type ResolvedIntent struct {
	IntentType      IntentType `json:"intent_type"`
	Metric          string     `json:"metric"`
	Dimension       string     `json:"dimension"`
	ChartTypeHint   string     `json:"chart_type_hint"`
	Filters         []Filter   `json:"filters"`
	SchemaValidated bool       `json:"schema_validated"`
}

// sortedFilters returns the filters ordered by column then value, so SQL and
// cache keys are byte-identical for equivalent intents.
func (r ResolvedIntent) sortedFilters() []Filter {
	out := make([]Filter, len(r.Filters))
	copy(out, r.Filters)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Column != out[j].Column {
			return out[i].Column < out[j].Column
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// ExecutionResult is the raw outcome of one SQL execution.
type ExecutionResult struct {
	Rows        []map[string]any `json:"rows"`
	ColumnOrder []string         `json:"column_order"`
	Elapsed     time.Duration    `json:"elapsed"`
	RowCount    int              `json:"row_count"`
	OK          bool             `json:"ok"`
	Error       string           `json:"error,omitempty"`
	SQL         string           `json:"sql"`
}

// ChartConfig tells the synthesizer how to draw the dataset.
type ChartConfig struct {
	ChartType    string `json:"chart_type"`
	XAxis        string `json:"x_axis"`
	YAxis        string `json:"y_axis"`
	Title        string `json:"title"`
	LimitApplied int    `json:"limit_applied"`
}

// NumericStat summarizes one numeric column.
type NumericStat struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
	NullCount int     `json:"null_count"`
}

// CategoricalStat summarizes one categorical column.
type CategoricalStat struct {
	UniqueCount int            `json:"unique_count"`
	TopValues   map[string]int `json:"top_values"`
}

// Summary is the dataset-level statistics block attached to every
// normalized dataset.
type Summary struct {
	RowCount         int                        `json:"row_count"`
	ColCount         int                        `json:"col_count"`
	NumericStats     map[string]NumericStat     `json:"numeric_stats,omitempty"`
	CategoricalStats map[string]CategoricalStat `json:"categorical_stats,omitempty"`
	HasTimeAxis      bool                       `json:"has_time_axis"`
}

// NormalizedDataset is the chart-ready output of the engine.
type NormalizedDataset struct {
	Rows        []map[string]any `json:"rows"`
	ColumnOrder []string         `json:"column_order"`
	ChartConfig ChartConfig      `json:"chart_config"`
	Summary     Summary          `json:"summary"`
	CacheHit    bool             `json:"cache_hit"`
	SQL         string           `json:"sql"`
	OK          bool             `json:"ok"`
}
