package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"querysight/internal/catalog"
	"querysight/internal/llm"
)

// ErrNoCatalog is returned when execution is attempted against an empty
// catalog.
var ErrNoCatalog = errors.New("schema catalog is empty")

// maxAttempts bounds execution: the original statement plus two repairs.
const maxAttempts = 3

// Engine plans, executes, and normalizes queries.
type Engine struct {
	db     *sql.DB
	cat    *catalog.Catalog
	client llm.Client
	cache  *resultCache
	logger *zap.Logger
}

// New creates an engine over the relational store. The LLM client is used
// only for statement repair.
func New(db *sql.DB, cat *catalog.Catalog, client llm.Client, cacheTTL time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		cat:    cat,
		client: client,
		cache:  newResultCache(cacheTTL),
		logger: logger.Named("engine"),
	}
}

// Execute is the main entry: intent in, normalized dataset out. Cache hits
// short-circuit execution and are flagged on the returned dataset.
func (e *Engine) Execute(ctx context.Context, intent ResolvedIntent) (*NormalizedDataset, error) {
	key := CacheKey(intent)
	if cached, ok := e.cache.get(key); ok {
		e.logger.Debug("result cache hit", zap.String("key", key))
		hit := *cached
		hit.CacheHit = true
		return &hit, nil
	}

	snap, err := e.cat.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog unavailable: %w", err)
	}
	if len(snap.Tables) == 0 {
		return nil, ErrNoCatalog
	}

	stmt, err := BuildSQL(intent)
	if err != nil {
		return nil, err
	}

	result, err := e.executeWithRepair(ctx, stmt)
	if err != nil {
		return nil, err
	}

	dataset := Normalize(result, ChartConfig{
		ChartType: intent.ChartTypeHint,
		Title:     chartTitle(intent),
	})
	dataset.ChartConfig.LimitApplied = limitFor(intent)

	e.cache.set(key, dataset)
	return dataset, nil
}

// ExecuteRaw runs one statement through the read-only gate without repair.
func (e *Engine) ExecuteRaw(ctx context.Context, stmt string) (*ExecutionResult, error) {
	if err := ValidateSelect(stmt); err != nil {
		return nil, err
	}
	return e.run(ctx, stmt)
}

// CacheLookup exposes the result cache to the error handler's
// use-cached-data recovery path.
func (e *Engine) CacheLookup(key string) (*NormalizedDataset, bool) {
	ds, ok := e.cache.get(key)
	if !ok {
		return nil, false
	}
	hit := *ds
	hit.CacheHit = true
	return &hit, true
}

// executeWithRepair validates and runs the statement, asking the LLM to
// repair it on failure. Up to three total attempts; a repaired statement
// that fails the read-only gate aborts immediately.
func (e *Engine) executeWithRepair(ctx context.Context, stmt string) (*ExecutionResult, error) {
	if err := ValidateSelect(stmt); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.run(ctx, stmt)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("statement succeeded after repair",
					zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err
		e.logger.Warn("statement execution failed",
			zap.Int("attempt", attempt), zap.String("sql", stmt), zap.Error(err))

		if attempt == maxAttempts {
			break
		}

		repaired, repairErr := e.repair(ctx, stmt, err)
		if repairErr != nil {
			return nil, fmt.Errorf("execution failed and repair unavailable: %w", lastErr)
		}
		if valErr := ValidateSelect(repaired); valErr != nil {
			return nil, fmt.Errorf("repaired statement rejected: %w", valErr)
		}
		stmt = repaired
	}
	return nil, fmt.Errorf("execution failed after %d attempts: %w", maxAttempts, lastErr)
}

func (e *Engine) run(ctx context.Context, stmt string) (*ExecutionResult, error) {
	start := time.Now()
	rows, err := e.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{ColumnOrder: cols, SQL: stmt, OK: true}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	result.Elapsed = time.Since(start)
	return result, nil
}

// repair asks the LLM for a corrected statement given the failure and the
// catalog.
func (e *Engine) repair(ctx context.Context, failed string, execErr error) (string, error) {
	if e.client == nil {
		return "", fmt.Errorf("no repair client configured")
	}

	schemaCtx, err := e.SchemaContext(ctx)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(`The following SQLite query failed. Fix it using only the tables and
columns listed below. Keep the query's purpose unchanged and return only a
SELECT statement.

Failed query:
%s

Error:
%s

%s

Respond with JSON: {"sql_query": "<corrected SELECT statement>"}`,
		failed, execErr.Error(), schemaCtx)

	out, err := e.client.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	obj, err := llm.ParseObject(out, []string{"sql_query"}, nil)
	if err != nil {
		return "", err
	}
	repaired, ok := obj["sql_query"].(string)
	if !ok || strings.TrimSpace(repaired) == "" {
		return "", fmt.Errorf("repair returned no sql_query")
	}
	return strings.TrimSpace(repaired), nil
}

// SchemaContext renders the catalog as prompt text: every table with its
// typed columns.
func (e *Engine) SchemaContext(ctx context.Context) (string, error) {
	snap, err := e.cat.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("AVAILABLE TABLES AND COLUMNS:\n")
	for _, name := range sortedKeys(snap.Tables) {
		schema := snap.Tables[name]
		fmt.Fprintf(&b, "\nTable: %s\nColumns:\n", name)
		for _, col := range schema.Columns {
			fmt.Fprintf(&b, "  - %s (%s)\n", col.Name, col.Type)
		}
	}
	return b.String(), nil
}

func chartTitle(intent ResolvedIntent) string {
	title := capitalize(intent.Metric)
	if intent.Dimension != "" {
		title += " by " + capitalize(intent.Dimension)
	}
	return title
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func limitFor(intent ResolvedIntent) int {
	if intent.Dimension == "" {
		return 0
	}
	switch intent.IntentType {
	case IntentTrend:
		return limitTrend
	case IntentComparison:
		return limitComparison
	default:
		return limitDefault
	}
}

func sortedKeys(m map[string]catalog.TableSchema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
