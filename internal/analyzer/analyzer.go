// Package analyzer generates the descriptive-index content: LLM-authored
// prose about each table and its columns, business framing, and suggested
// queries. It runs after ingest and writes through the store package.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"querysight/internal/catalog"
	"querysight/internal/llm"
	"querysight/internal/store"
)

// Analyzer builds descriptive records for catalog tables.
type Analyzer struct {
	client      llm.Client
	cat         *catalog.Catalog
	idx         *store.Index
	concurrency int
	logger      *zap.Logger
}

// New creates an analyzer.
func New(client llm.Client, cat *catalog.Catalog, idx *store.Index, concurrency int, logger *zap.Logger) *Analyzer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Analyzer{
		client:      client,
		cat:         cat,
		idx:         idx,
		concurrency: concurrency,
		logger:      logger.Named("analyzer"),
	}
}

// IndexAll builds records for every table in the catalog. Per-table failures
// are logged and skipped so one broken table never blocks the rest.
func (a *Analyzer) IndexAll(ctx context.Context) error {
	snap, err := a.cat.Snapshot(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for name := range snap.Tables {
		name := name
		g.Go(func() error {
			if err := a.IndexTable(gctx, name); err != nil {
				a.logger.Warn("skipping table after analysis failure",
					zap.String("table", name), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// IndexTable builds and stores the four record kinds for one table. The
// doc_id is the table name, so re-ingesting a file replaces its records.
func (a *Analyzer) IndexTable(ctx context.Context, tableName string) error {
	schema, err := a.cat.GetTable(ctx, tableName)
	if err != nil {
		return err
	}
	samples := a.sampleRows(ctx, schema, 3)

	description, err := a.describeTable(ctx, schema, samples)
	if err != nil {
		return fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}

	docID := tableName
	fileName := a.sourceFile(ctx, tableName)
	records := []store.Record{
		{
			ID: docID + "_table", DocID: docID, FileName: fileName,
			Type: store.RecordTableDescription, Content: description,
		},
	}

	insights := a.columnInsights(ctx, schema)
	for i, insight := range insights {
		records = append(records, store.Record{
			ID: fmt.Sprintf("%s_col_%d", docID, i), DocID: docID, FileName: fileName,
			Type: store.RecordColumnInsight, Content: insight,
		})
	}

	business, err := a.businessContext(ctx, schema, description)
	if err != nil {
		a.logger.Warn("business context generation failed",
			zap.String("table", tableName), zap.Error(err))
	} else {
		records = append(records, store.Record{
			ID: docID + "_business", DocID: docID, FileName: fileName,
			Type: store.RecordBusinessContext, Content: business,
		})
	}

	patterns := queryPatterns(schema)
	records = append(records, store.Record{
		ID: docID + "_queries", DocID: docID, FileName: fileName,
		Type: store.RecordQuerySuggestions, Content: strings.Join(patterns, "\n"),
	})

	sidecar, err := json.Marshal(map[string]any{
		"table_name":     tableName,
		"description":    description,
		"columns":        schema.ColumnNames(),
		"row_count":      schema.RowCount,
		"query_patterns": patterns,
		"sample_data":    samples,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar for %s: %w", tableName, err)
	}

	if err := a.idx.StoreDoc(ctx, docID, records, sidecar); err != nil {
		return err
	}
	a.logger.Info("table indexed",
		zap.String("table", tableName), zap.Int("records", len(records)))
	return nil
}

func (a *Analyzer) describeTable(ctx context.Context, schema catalog.TableSchema, samples []map[string]any) (string, error) {
	var cols strings.Builder
	for _, c := range schema.Columns {
		fmt.Fprintf(&cols, "- %s (%s): %d unique values, %d non-null\n",
			c.Name, c.Type, c.DistinctCount, c.NonNullCount)
	}
	sampleJSON, _ := json.Marshal(samples)

	prompt := fmt.Sprintf(`Analyze this database table and provide a clear business description:

Table: %s
Rows: %d
Columns: %d

Column Details:
%s
Sample Data:
%s

Provide a concise description (50-100 words) of:
1. What business entity this table represents
2. What kind of analysis it supports
3. Key insights it could provide

Focus on business value and use cases.`,
		schema.TableName, schema.RowCount, len(schema.Columns), cols.String(), sampleJSON)

	out, err := a.client.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// columnInsights asks for a short insight per interesting column: more than
// one distinct value, or an id-like name. Failures skip the column.
func (a *Analyzer) columnInsights(ctx context.Context, schema catalog.TableSchema) []string {
	var insights []string
	for _, col := range schema.Columns {
		if col.DistinctCount <= 1 && !strings.Contains(strings.ToLower(col.Name), "id") {
			continue
		}
		prompt := fmt.Sprintf(`Analyze this database column:

Column: %s
Type: %s
Unique values: %d
Non-null count: %d

In 1-2 sentences, describe:
1. What this column likely represents
2. How it might be used in queries/analysis

Be specific and practical.`,
			col.Name, col.Type, col.DistinctCount, col.NonNullCount)

		out, err := a.client.Complete(ctx, prompt)
		if err != nil {
			a.logger.Warn("column insight failed",
				zap.String("table", schema.TableName),
				zap.String("column", col.Name), zap.Error(err))
			continue
		}
		insights = append(insights, fmt.Sprintf("%s: %s", col.Name, strings.TrimSpace(out)))
	}
	return insights
}

func (a *Analyzer) businessContext(ctx context.Context, schema catalog.TableSchema, description string) (string, error) {
	prompt := fmt.Sprintf(`Given this table description, summarize in 2-3 sentences what business
questions the %s table can answer and who would ask them:

%s`, schema.TableName, description)

	out, err := a.client.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// sampleRows reads up to n rows for prompt grounding. Failures yield an empty
// sample; description quality degrades but analysis proceeds.
func (a *Analyzer) sampleRows(ctx context.Context, schema catalog.TableSchema, n int) []map[string]any {
	quoted := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		quoted[i] = `"` + strings.ReplaceAll(c.Name, `"`, `""`) + `"`
	}
	q := fmt.Sprintf(`SELECT %s FROM "%s" LIMIT %d`,
		strings.Join(quoted, ", "), strings.ReplaceAll(schema.TableName, `"`, `""`), n)

	rows, err := a.cat.DB().QueryContext(ctx, q)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var samples []map[string]any
	for rows.Next() {
		vals := make([]any, len(schema.Columns))
		ptrs := make([]any, len(schema.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return samples
		}
		row := make(map[string]any, len(schema.Columns))
		for i, c := range schema.Columns {
			if b, ok := vals[i].([]byte); ok {
				row[c.Name] = string(b)
			} else {
				row[c.Name] = vals[i]
			}
		}
		samples = append(samples, row)
	}
	return samples
}

func (a *Analyzer) sourceFile(ctx context.Context, tableName string) string {
	var fileName string
	err := a.cat.DB().QueryRowContext(ctx,
		`SELECT file_name FROM file_metadata WHERE table_name = ?`, tableName).Scan(&fileName)
	if err != nil {
		return tableName
	}
	return fileName
}

// queryPatterns derives starter queries from the schema: a full scan, a
// count, group-bys on likely-categorical columns, and numeric aggregates.
func queryPatterns(schema catalog.TableSchema) []string {
	t := schema.TableName
	patterns := []string{
		fmt.Sprintf("SELECT * FROM %s LIMIT 10", t),
		fmt.Sprintf("SELECT COUNT(*) FROM %s", t),
	}
	for _, col := range schema.Columns {
		if len(patterns) >= 5 {
			break
		}
		if col.NonNullCount > 0 && col.DistinctCount*2 < col.NonNullCount {
			patterns = append(patterns,
				fmt.Sprintf("SELECT %s, COUNT(*) FROM %s GROUP BY %s", col.Name, t, col.Name))
			continue
		}
		switch strings.ToUpper(col.Type) {
		case "INTEGER", "REAL", "NUMERIC":
			patterns = append(patterns,
				fmt.Sprintf("SELECT AVG(%s), MIN(%s), MAX(%s) FROM %s",
					col.Name, col.Name, col.Name, t))
		}
	}
	if len(patterns) > 5 {
		patterns = patterns[:5]
	}
	return patterns
}
