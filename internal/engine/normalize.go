package engine

import (
	"sort"
	"strconv"
	"strings"
)

// metricColumns are the column names whose nulls become 0 instead of the
// empty string during normalization.
var metricColumns = map[string]bool{
	"revenue":  true,
	"sales":    true,
	"profit":   true,
	"quantity": true,
	"orders":   true,
	"value":    true,
}

// Normalize converts raw execution rows into a typed, chart-ready dataset.
// Numeric-looking strings are coerced, nulls are filled per column kind, and
// the chart config and summary are derived from the typed table.
func Normalize(result *ExecutionResult, hint ChartConfig) *NormalizedDataset {
	cols := result.ColumnOrder

	rows := make([]map[string]any, len(result.Rows))
	for i, raw := range result.Rows {
		row := make(map[string]any, len(cols))
		for _, col := range cols {
			row[col] = coerceValue(raw[col])
		}
		rows[i] = row
	}

	numericCols, categoricalCols := classifyColumns(rows, cols)

	numericSet := make(map[string]bool, len(numericCols))
	for _, c := range numericCols {
		numericSet[c] = true
	}
	for _, row := range rows {
		for _, col := range cols {
			if row[col] != nil {
				continue
			}
			if metricColumns[strings.ToLower(col)] {
				row[col] = float64(0)
			} else {
				row[col] = ""
			}
		}
	}

	cfg := hint
	if cfg.XAxis == "" || !contains(cols, cfg.XAxis) {
		if len(categoricalCols) > 0 {
			cfg.XAxis = categoricalCols[0]
		} else if len(cols) > 0 {
			cfg.XAxis = cols[0]
		}
	}
	if cfg.YAxis == "" || !contains(cols, cfg.YAxis) {
		if len(numericCols) > 0 {
			cfg.YAxis = numericCols[0]
		} else if len(cols) > 1 {
			cfg.YAxis = cols[1]
		}
	}
	if cfg.ChartType == "" {
		switch {
		case len(numericCols) >= 1 && len(categoricalCols) >= 1:
			cfg.ChartType = "bar"
		case len(numericCols) >= 2:
			cfg.ChartType = "scatter"
		default:
			cfg.ChartType = "table"
		}
	}

	return &NormalizedDataset{
		Rows:        rows,
		ColumnOrder: cols,
		ChartConfig: cfg,
		Summary:     summarize(rows, cols, numericCols, categoricalCols),
		SQL:         result.SQL,
		OK:          true,
	}
}

// coerceValue types a raw cell: byte slices become strings, and strings that
// fully parse as numbers become float64. Coercion is idempotent.
func coerceValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return coerceValue(string(x))
	case string:
		trimmed := strings.TrimSpace(x)
		if trimmed == "" {
			return x
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// classifyColumns splits columns into numeric and categorical in column
// order. A column is numeric when it has at least one non-null value and
// every non-null value is a number.
func classifyColumns(rows []map[string]any, cols []string) (numeric, categorical []string) {
	for _, col := range cols {
		nonNull := 0
		allNumeric := true
		for _, row := range rows {
			v := row[col]
			if v == nil {
				continue
			}
			nonNull++
			if _, ok := v.(float64); !ok {
				allNumeric = false
			}
		}
		if nonNull > 0 && allNumeric {
			numeric = append(numeric, col)
		} else {
			categorical = append(categorical, col)
		}
	}
	return numeric, categorical
}

func summarize(rows []map[string]any, cols, numericCols, categoricalCols []string) Summary {
	s := Summary{
		RowCount: len(rows),
		ColCount: len(cols),
	}

	if len(numericCols) > 0 {
		s.NumericStats = make(map[string]NumericStat, len(numericCols))
		for _, col := range numericCols {
			var stat NumericStat
			first := true
			var sum float64
			n := 0
			for _, row := range rows {
				f, ok := row[col].(float64)
				if !ok {
					stat.NullCount++
					continue
				}
				if first || f < stat.Min {
					stat.Min = f
				}
				if first || f > stat.Max {
					stat.Max = f
				}
				first = false
				sum += f
				n++
			}
			if n > 0 {
				stat.Mean = sum / float64(n)
			}
			s.NumericStats[col] = stat
		}
	}

	if len(categoricalCols) > 0 {
		s.CategoricalStats = make(map[string]CategoricalStat)
		for i, col := range categoricalCols {
			if i >= 3 {
				break
			}
			counts := make(map[string]int)
			for _, row := range rows {
				if str, ok := row[col].(string); ok && str != "" {
					counts[str]++
				}
			}
			s.CategoricalStats[col] = CategoricalStat{
				UniqueCount: len(counts),
				TopValues:   topValues(counts, 3),
			}
		}
	}

	for _, col := range cols {
		lower := strings.ToLower(col)
		if strings.Contains(lower, "date") || strings.Contains(lower, "time") {
			s.HasTimeAxis = true
			break
		}
	}
	return s
}

func topValues(counts map[string]int, k int) map[string]int {
	type kv struct {
		key string
		n   int
	}
	sorted := make([]kv, 0, len(counts))
	for key, n := range counts {
		sorted = append(sorted, kv{key, n})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].n != sorted[j].n {
			return sorted[i].n > sorted[j].n
		}
		return sorted[i].key < sorted[j].key
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	top := make(map[string]int, len(sorted))
	for _, e := range sorted {
		top[e.key] = e.n
	}
	return top
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
