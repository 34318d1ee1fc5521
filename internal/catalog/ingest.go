package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// IngestReport summarizes a completed file load.
type IngestReport struct {
	TableName   string           `json:"table_name"`
	FileName    string           `json:"file_name"`
	RowCount    int              `json:"row_count"`
	ColumnCount int              `json:"column_count"`
	Columns     []string         `json:"columns"`
	SampleData  []map[string]any `json:"sample_data"`
}

// TableStatus is one row of the database-status payload.
type TableStatus struct {
	TableName   string   `json:"table_name"`
	FileName    string   `json:"file_name"`
	FilePath    string   `json:"file_path"`
	LoadedAt    string   `json:"loaded_at"`
	Description string   `json:"description"`
	RowCount    int      `json:"row_count"`
	ColumnCount int      `json:"column_count"`
	Columns     []string `json:"columns"`
}

// Status describes every loaded table plus its source file.
type Status struct {
	TotalTables  int           `json:"total_tables"`
	Tables       []TableStatus `json:"tables"`
	DatabasePath string        `json:"database_path"`
}

func (c *Catalog) ensureMetadataTable() {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS file_metadata (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_name TEXT UNIQUE NOT NULL,
			file_path TEXT NOT NULL,
			table_name TEXT NOT NULL,
			loaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			row_count INTEGER,
			column_count INTEGER,
			description TEXT
		)`)
	if err != nil {
		c.logger.Error("failed to create file_metadata table", zap.Error(err))
	}
}

// Ingest loads a CSV file into the store as tableName (derived from the file
// stem when empty), replacing any existing table of that name, and records the
// origin in file_metadata. The catalog snapshot is invalidated on success.
func (c *Catalog) Ingest(ctx context.Context, filePath, tableName string) (*IngestReport, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		absPath = filePath
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("file not found: %s: %w", filePath, err)
	}

	if tableName == "" {
		stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
		tableName = CleanTableName(stem)
	} else {
		tableName = CleanTableName(tableName)
	}
	if isInternalTable(tableName) {
		return nil, fmt.Errorf("table name %q is reserved", tableName)
	}

	header, records, err := readCSV(filePath)
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = CleanColumnName(h)
	}
	columns = dedupeColumns(columns)
	types := inferColumnTypes(records, len(columns))

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(tableName)); err != nil {
		return nil, fmt.Errorf("failed to drop existing table: %w", err)
	}

	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = quoteIdent(col) + " " + types[i]
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(tableName), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName), strings.Join(quoted, ", "), placeholders))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		args := make([]any, len(columns))
		for i := range columns {
			var cell string
			if i < len(record) {
				cell = record[i]
			}
			args[i] = coerceCell(cell, types[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("failed to insert row: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO file_metadata
		(file_name, file_path, table_name, loaded_at, row_count, column_count, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		filepath.Base(filePath), absPath, tableName,
		time.Now().UTC().Format(time.RFC3339),
		len(records), len(columns),
		fmt.Sprintf("Data loaded from %s", filepath.Base(filePath)),
	); err != nil {
		return nil, fmt.Errorf("failed to record file metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ingest: %w", err)
	}

	c.Invalidate()
	c.logger.Info("file ingested",
		zap.String("file", filepath.Base(filePath)),
		zap.String("table", tableName),
		zap.Int("rows", len(records)),
		zap.Int("columns", len(columns)))

	report := &IngestReport{
		TableName:   tableName,
		FileName:    filepath.Base(filePath),
		RowCount:    len(records),
		ColumnCount: len(columns),
		Columns:     columns,
	}
	for i := 0; i < len(records) && i < 3; i++ {
		row := make(map[string]any, len(columns))
		for j, col := range columns {
			if j < len(records[i]) {
				row[col] = coerceCell(records[i][j], types[j])
			}
		}
		report.SampleData = append(report.SampleData, row)
	}
	return report, nil
}

// DeleteTable drops a user table and its metadata row.
func (c *Catalog) DeleteTable(ctx context.Context, tableName string) error {
	if isInternalTable(tableName) {
		return fmt.Errorf("table %q is reserved", tableName)
	}
	if _, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(tableName)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", tableName, err)
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM file_metadata WHERE table_name = ?", tableName); err != nil {
		return fmt.Errorf("failed to delete metadata for %s: %w", tableName, err)
	}
	c.Invalidate()
	return nil
}

// DatabaseStatus reports every user table with its source-file metadata.
func (c *Catalog) DatabaseStatus(ctx context.Context) (*Status, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{DatabasePath: c.path, Tables: []TableStatus{}}
	for name, schema := range snap.Tables {
		ts := TableStatus{
			TableName:   name,
			FileName:    "Unknown",
			FilePath:    "Unknown",
			LoadedAt:    "Unknown",
			RowCount:    schema.RowCount,
			ColumnCount: len(schema.Columns),
			Columns:     schema.ColumnNames(),
		}
		var fileName, filePath, loadedAt, description string
		err := c.db.QueryRowContext(ctx, `
			SELECT file_name, file_path, loaded_at, COALESCE(description, '')
			FROM file_metadata WHERE table_name = ?`, name).
			Scan(&fileName, &filePath, &loadedAt, &description)
		if err == nil {
			ts.FileName = fileName
			ts.FilePath = filePath
			ts.LoadedAt = loadedAt
			ts.Description = description
		}
		status.Tables = append(status.Tables, ts)
	}
	status.TotalTables = len(status.Tables)
	return status, nil
}

// readCSV reads the file trying comma, semicolon, and tab separators, keeping
// the first parse that yields a multi-column header or, failing that, the
// comma parse.
func readCSV(path string) ([]string, [][]string, error) {
	for _, sep := range []rune{',', ';', '\t'} {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		reader := csv.NewReader(f)
		reader.Comma = sep
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		all, err := reader.ReadAll()
		f.Close()
		if err != nil || len(all) == 0 {
			continue
		}
		if len(all[0]) > 1 {
			return all[0], all[1:], nil
		}
	}

	// Single-column files and malformed input land here; a strict comma parse
	// either accepts the single column or surfaces the real error.
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("could not read CSV file %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("CSV file %s is empty", path)
	}
	return all[0], all[1:], nil
}

// dedupeColumns suffixes repeated cleaned names so the DDL stays valid.
func dedupeColumns(columns []string) []string {
	seen := make(map[string]int, len(columns))
	out := make([]string, len(columns))
	for i, col := range columns {
		if n, ok := seen[col]; ok {
			seen[col] = n + 1
			out[i] = fmt.Sprintf("%s_%d", col, n+1)
		} else {
			seen[col] = 0
			out[i] = col
		}
	}
	return out
}

// inferColumnTypes picks INTEGER/REAL/TEXT affinity per column from up to 100
// sampled rows. Empty cells are ignored; a column with no parseable sample is
// TEXT.
func inferColumnTypes(records [][]string, cols int) []string {
	types := make([]string, cols)
	for i := 0; i < cols; i++ {
		allInt, allReal, sampled := true, true, 0
		for r := 0; r < len(records) && sampled < 100; r++ {
			if i >= len(records[r]) {
				continue
			}
			cell := strings.TrimSpace(records[r][i])
			if cell == "" {
				continue
			}
			sampled++
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				allInt = false
			}
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				allReal = false
			}
		}
		switch {
		case sampled > 0 && allInt:
			types[i] = "INTEGER"
		case sampled > 0 && allReal:
			types[i] = "REAL"
		default:
			types[i] = "TEXT"
		}
	}
	return types
}

// coerceCell converts a CSV cell to the value inserted for the column's
// affinity. Unparseable cells fall back to the raw text; empty cells are NULL.
func coerceCell(cell, affinity string) any {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}
	switch affinity {
	case "INTEGER":
		if v, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return v
		}
	case "REAL":
		if v, err := strconv.ParseFloat(cell, 64); err == nil {
			return v
		}
	}
	return cell
}
