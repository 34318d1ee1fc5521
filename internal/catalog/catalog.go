// Package catalog introspects the relational store: tables, columns, types,
// foreign-key edges, and per-column statistics. The whole catalog is held as
// an immutable snapshot behind a TTL; readers always see a consistent view and
// refreshes swap the snapshot pointer under a short write lock.
//
// The package also owns the ingest path that loads CSV files into the store
// and records their origin in the file_metadata sidecar table.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNoTables is returned when the store holds no user tables.
var ErrNoTables = errors.New("no tables in catalog")

// ErrTableNotFound is returned when a named table is absent even after a
// fresh introspection pass.
var ErrTableNotFound = errors.New("table not found")

// ColumnInfo describes one column of an introspected table.
type ColumnInfo struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	NotNull       bool   `json:"not_null"`
	PrimaryKey    bool   `json:"primary_key"`
	DistinctCount int    `json:"unique_count"`
	NonNullCount  int    `json:"non_null_count"`
	NullCount     int    `json:"null_count"`
}

// ForeignKey is an outgoing foreign-key edge.
type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// TableSchema is the introspected shape of a single table.
type TableSchema struct {
	TableName   string       `json:"table_name"`
	Columns     []ColumnInfo `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	RowCount    int          `json:"row_count"`
	LoadedAt    time.Time    `json:"loaded_at"`
}

// ColumnNames returns the ordered column names.
func (t TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Snapshot is a consistent view of every table in the store at one load time.
type Snapshot struct {
	Tables   map[string]TableSchema
	LoadedAt time.Time
}

// TableNames returns the table names in sorted-insertion-independent order.
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	return names
}

// ColumnRef locates one column in the catalog.
type ColumnRef struct {
	Table  string
	Column string
	Type   string
}

// Catalog serves schema snapshots over the relational store.
type Catalog struct {
	db     *sql.DB
	path   string
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	snap  *Snapshot
	group singleflight.Group
}

// internalTables are bookkeeping tables excluded from introspection.
func isInternalTable(name string) bool {
	return name == "file_metadata" ||
		strings.HasPrefix(name, "sqlite_") ||
		strings.HasPrefix(name, "index_") ||
		strings.HasPrefix(name, "_vec")
}

// New creates a catalog over an open store.
func New(db *sql.DB, path string, ttl time.Duration, logger *zap.Logger) *Catalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Catalog{
		db:     db,
		path:   path,
		ttl:    ttl,
		logger: logger.Named("catalog"),
	}
	c.ensureMetadataTable()
	return c
}

// DB exposes the underlying store for read-only execution by the query engine.
func (c *Catalog) DB() *sql.DB {
	return c.db
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.path
}

// Snapshot returns the current catalog, refreshing it when older than the TTL.
// Concurrent refreshes coalesce into a single introspection pass.
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap != nil && time.Since(snap.LoadedAt) < c.ttl {
		return snap, nil
	}
	return c.refresh(ctx)
}

// GetTable returns one table's schema. A miss on a cached snapshot triggers a
// full refresh before the lookup is declared failed.
func (c *Catalog) GetTable(ctx context.Context, name string) (TableSchema, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return TableSchema{}, err
	}
	if schema, ok := snap.Tables[name]; ok {
		return schema, nil
	}

	snap, err = c.refresh(ctx)
	if err != nil {
		return TableSchema{}, err
	}
	if schema, ok := snap.Tables[name]; ok {
		return schema, nil
	}
	return TableSchema{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
}

// RelatedTables returns the tables reachable from name by one foreign-key hop
// in either direction.
func (c *Catalog) RelatedTables(ctx context.Context, name string) ([]string, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	base, ok := snap.Tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	seen := make(map[string]bool)
	for _, fk := range base.ForeignKeys {
		if fk.RefTable != name {
			seen[fk.RefTable] = true
		}
	}
	for other, schema := range snap.Tables {
		if other == name {
			continue
		}
		for _, fk := range schema.ForeignKeys {
			if fk.RefTable == name {
				seen[other] = true
			}
		}
	}

	related := make([]string, 0, len(seen))
	for t := range seen {
		related = append(related, t)
	}
	return related, nil
}

// SearchByColumn returns every column whose name contains pattern
// (case-insensitive).
func (c *Catalog) SearchByColumn(ctx context.Context, pattern string) ([]ColumnRef, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(pattern)
	var refs []ColumnRef
	for table, schema := range snap.Tables {
		for _, col := range schema.Columns {
			if strings.Contains(strings.ToLower(col.Name), needle) {
				refs = append(refs, ColumnRef{Table: table, Column: col.Name, Type: col.Type})
			}
		}
	}
	return refs, nil
}

// Invalidate drops the cached snapshot; the next read re-introspects.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

// refresh introspects the store and swaps in a new snapshot. Concurrent
// callers share one pass via singleflight.
func (c *Catalog) refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		snap, err := c.introspect(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snap = snap
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// introspect builds a full snapshot. Per-table failures are logged and the
// table skipped; one broken table never empties the catalog.
func (c *Catalog) introspect(ctx context.Context) (*Snapshot, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if !isInternalTable(name) {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	snap := &Snapshot{Tables: make(map[string]TableSchema, len(names)), LoadedAt: now}
	for _, name := range names {
		schema, err := c.introspectTable(ctx, name)
		if err != nil {
			c.logger.Warn("skipping table after introspection failure",
				zap.String("table", name), zap.Error(err))
			continue
		}
		schema.LoadedAt = now
		snap.Tables[name] = schema
	}

	c.logger.Debug("catalog refreshed",
		zap.Int("tables", len(snap.Tables)), zap.Time("loaded_at", now))
	return snap, nil
}

func (c *Catalog) introspectTable(ctx context.Context, name string) (TableSchema, error) {
	schema := TableSchema{TableName: name}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return schema, fmt.Errorf("table_info failed: %w", err)
	}
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return schema, fmt.Errorf("table_info scan failed: %w", err)
		}
		schema.Columns = append(schema.Columns, ColumnInfo{
			Name:       colName,
			Type:       colType,
			NotNull:    notNull != 0,
			PrimaryKey: pk != 0,
		})
	}
	rows.Close()
	if len(schema.Columns) == 0 {
		return schema, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	fkRows, err := c.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdent(name)))
	if err != nil {
		return schema, fmt.Errorf("foreign_key_list failed: %w", err)
	}
	for fkRows.Next() {
		var id, seq int
		var refTable, from string
		var to sql.NullString
		var onUpdate, onDelete, match string
		if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			fkRows.Close()
			return schema, fmt.Errorf("foreign_key_list scan failed: %w", err)
		}
		schema.ForeignKeys = append(schema.ForeignKeys, ForeignKey{
			Column:    from,
			RefTable:  refTable,
			RefColumn: to.String,
		})
	}
	fkRows.Close()

	if err := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(name))).Scan(&schema.RowCount); err != nil {
		return schema, fmt.Errorf("row count failed: %w", err)
	}

	for i := range schema.Columns {
		col := &schema.Columns[i]
		q := fmt.Sprintf("SELECT COUNT(DISTINCT %s), COUNT(%s) FROM %s",
			quoteIdent(col.Name), quoteIdent(col.Name), quoteIdent(name))
		if err := c.db.QueryRowContext(ctx, q).Scan(&col.DistinctCount, &col.NonNullCount); err != nil {
			return schema, fmt.Errorf("column stats failed for %s: %w", col.Name, err)
		}
		col.NullCount = schema.RowCount - col.NonNullCount
	}

	return schema, nil
}
