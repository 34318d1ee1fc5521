package engine

import (
	"fmt"
	"strings"
)

// Fixed translation tables. Unknown metrics aggregate with SUM over the
// given name so schema errors surface at execution and flow into the
// synonym-remap recovery path rather than failing silently here.
var metricExprs = map[string]string{
	"revenue":   "SUM(total_amount)",
	"sales":     "SUM(total_amount)",
	"total":     "SUM(total_amount)",
	"profit":    "SUM(total_amount - discount_amount)",
	"orders":    "COUNT(*)",
	"quantity":  "SUM(quantity)",
	"customers": "COUNT(DISTINCT user_id)",
	"users":     "COUNT(DISTINCT user_id)",
	"products":  "COUNT(DISTINCT product_id)",
	"avg_order": "AVG(total_amount)",
}

var dimensionExprs = map[string]string{
	"month":    "strftime('%Y-%m', sale_date)",
	"year":     "strftime('%Y', sale_date)",
	"quarter":  quarterExpr,
	"region":   "region",
	"product":  "product_id",
	"category": "products.category",
	"channel":  "sales_channel",
	"brand":    "products.brand",
	"status":   "products.status",
}

const quarterExpr = "strftime('%Y', sale_date) || '-Q' || " +
	"CASE " +
	"WHEN CAST(strftime('%m', sale_date) AS INTEGER) <= 3 THEN '1' " +
	"WHEN CAST(strftime('%m', sale_date) AS INTEGER) <= 6 THEN '2' " +
	"WHEN CAST(strftime('%m', sale_date) AS INTEGER) <= 9 THEN '3' " +
	"ELSE '4' END"

// fromClause is the pre-declared join graph; product attributes resolve over
// the left join so sales rows without a product still count.
const fromClause = "sales LEFT JOIN products ON sales.product_id = products.product_id"

const (
	limitTrend      = 50
	limitComparison = 20
	limitDefault    = 100
)

// BuildSQL deterministically emits exactly one SELECT statement for the
// intent. Identical intents produce byte-identical SQL.
func BuildSQL(intent ResolvedIntent) (string, error) {
	if intent.Metric == "" {
		return "", fmt.Errorf("intent has no metric")
	}

	metricExpr, ok := metricExprs[strings.ToLower(intent.Metric)]
	if !ok {
		metricExpr = fmt.Sprintf("SUM(%s)", intent.Metric)
	}
	metricAlias := strings.ToLower(intent.Metric)

	where := buildWhere(intent.sortedFilters())

	// Summary with no dimension collapses to a single scalar row.
	if intent.Dimension == "" {
		sql := fmt.Sprintf("SELECT %s as value FROM %s%s", metricExpr, fromClause, where)
		return sql, nil
	}

	dimName := strings.ToLower(intent.Dimension)
	dimExpr, ok := dimensionExprs[dimName]
	if !ok {
		dimExpr = intent.Dimension
	}

	var order string
	limit := limitDefault
	switch intent.IntentType {
	case IntentTrend:
		order = fmt.Sprintf(" ORDER BY %s ASC", dimName)
		limit = limitTrend
	case IntentComparison:
		order = fmt.Sprintf(" ORDER BY %s DESC", metricAlias)
		limit = limitComparison
	}

	sql := fmt.Sprintf("SELECT %s as %s, %s as %s FROM %s%s GROUP BY %s%s LIMIT %d",
		dimExpr, dimName, metricExpr, metricAlias, fromClause, where, dimExpr, order, limit)
	return sql, nil
}

// buildWhere renders equality predicates. Strings are single-quoted with
// embedded quotes doubled; numeric-looking literals pass through unquoted.
func buildWhere(filters []Filter) string {
	if len(filters) == 0 {
		return ""
	}
	preds := make([]string, 0, len(filters))
	for _, f := range filters {
		col := f.Column
		if expr, ok := dimensionExprs[strings.ToLower(f.Column)]; ok {
			col = expr
		}
		preds = append(preds, fmt.Sprintf("%s = %s", col, quoteLiteral(f.Value)))
	}
	return " WHERE " + strings.Join(preds, " AND ")
}

func quoteLiteral(v string) string {
	if isNumericLiteral(v) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func isNumericLiteral(v string) bool {
	if v == "" {
		return false
	}
	dot := false
	for i, r := range v {
		switch {
		case r >= '0' && r <= '9':
		case r == '-' && i == 0:
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return v != "-" && v != "."
}
