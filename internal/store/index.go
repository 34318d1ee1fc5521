// Package store implements the descriptive index: a nearest-neighbor store
// over LLM-authored prose about tables and columns. When the sqlite-vec
// extension is present the index uses a vec0 virtual table with cosine
// distance; otherwise search falls back to keyword matching over the same
// records, reporting a pseudo-distance on the same 0..1 scale.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"querysight/internal/config"
	"querysight/internal/embedding"
	"querysight/internal/sqlitedrv"
)

// RecordType tags the four descriptive record kinds produced per source.
type RecordType string

const (
	RecordTableDescription RecordType = "table_description"
	RecordColumnInsight    RecordType = "column_insight"
	RecordBusinessContext  RecordType = "business_context"
	RecordQuerySuggestions RecordType = "query_suggestions"
)

// Record is one indexed unit of descriptive text.
type Record struct {
	ID       string     `json:"id"`
	DocID    string     `json:"doc_id"`
	FileName string     `json:"file_name"`
	Type     RecordType `json:"type"`
	Content  string     `json:"content"`
}

// SearchResult pairs a record with its distance to the query. Smaller is
// closer; results under the relevance threshold count as relevant.
type SearchResult struct {
	Record
	Distance float64 `json:"distance"`
}

// Stats summarizes index contents.
type Stats struct {
	Records    int            `json:"records"`
	Docs       int            `json:"docs"`
	ByType     map[string]int `json:"by_type"`
	VecEnabled bool           `json:"vec_enabled"`
}

// Index is the descriptive index service.
type Index struct {
	db        *sql.DB
	embedder  embedding.Engine
	logger    *zap.Logger
	topK      int
	relevance float64

	mu         sync.RWMutex
	vecEnabled bool
	dims       int
}

// NewIndex initializes the index schema on db. The embedder may be nil, in
// which case keyword fallback is the only search path.
func NewIndex(db *sql.DB, embedder embedding.Engine, cfg config.IndexConfig, logger *zap.Logger) (*Index, error) {
	x := &Index{
		db:        db,
		embedder:  embedder,
		logger:    logger.Named("index"),
		topK:      cfg.TopK,
		relevance: cfg.RelevanceDistance,
	}
	if x.topK <= 0 {
		x.topK = 3
	}
	if x.relevance <= 0 {
		x.relevance = 0.7
	}

	if err := x.initialize(); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *Index) initialize() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS index_records (
			id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			record_type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_index_records_doc ON index_records(doc_id)`,
		`CREATE TABLE IF NOT EXISTS index_docs (
			doc_id TEXT PRIMARY KEY,
			context_json TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range ddl {
		if _, err := x.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize index schema: %w", err)
		}
	}

	if x.embedder != nil && sqlitedrv.VecAvailable(x.db) {
		x.dims = x.embedder.Dimensions()
		vecDDL := fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS index_vec USING vec0(embedding float[%d] distance_metric=cosine, +record_id TEXT)`,
			x.dims)
		if _, err := x.db.Exec(vecDDL); err != nil {
			x.logger.Warn("vec0 table creation failed, using keyword fallback", zap.Error(err))
		} else {
			x.vecEnabled = true
			x.logger.Info("vector search enabled",
				zap.Int("dimensions", x.dims), zap.String("embedder", x.embedder.Name()))
		}
	} else {
		x.logger.Info("vector search unavailable, using keyword fallback")
	}
	return nil
}

// VecEnabled reports whether nearest-neighbor search is active.
func (x *Index) VecEnabled() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.vecEnabled
}

// Store upserts a single record, embedding it when vector search is active.
func (x *Index) Store(ctx context.Context, rec Record) error {
	if rec.ID == "" || rec.DocID == "" {
		return fmt.Errorf("record id and doc_id are required")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := x.db.ExecContext(ctx, `
		INSERT INTO index_records (id, doc_id, file_name, record_type, content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc_id = excluded.doc_id,
			file_name = excluded.file_name,
			record_type = excluded.record_type,
			content = excluded.content`,
		rec.ID, rec.DocID, rec.FileName, string(rec.Type), rec.Content); err != nil {
		return fmt.Errorf("failed to store record %s: %w", rec.ID, err)
	}

	if !x.vecEnabled {
		return nil
	}

	vec, err := x.embedder.Embed(ctx, rec.Content)
	if err != nil {
		// The record is still keyword-searchable; vector absence is logged,
		// not fatal, matching the eventually-all-present contract.
		x.logger.Warn("embedding failed for record",
			zap.String("id", rec.ID), zap.Error(err))
		return nil
	}

	if _, err := x.db.ExecContext(ctx,
		`DELETE FROM index_vec WHERE record_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to clear prior vector for %s: %w", rec.ID, err)
	}
	if _, err := x.db.ExecContext(ctx,
		`INSERT INTO index_vec (embedding, record_id) VALUES (?, ?)`,
		serializeVector(vec), rec.ID); err != nil {
		return fmt.Errorf("failed to store vector for %s: %w", rec.ID, err)
	}
	return nil
}

// StoreDoc stores all records of one document plus its structured sidecar.
func (x *Index) StoreDoc(ctx context.Context, docID string, records []Record, contextJSON []byte) error {
	for _, rec := range records {
		if err := x.Store(ctx, rec); err != nil {
			return err
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, err := x.db.ExecContext(ctx, `
		INSERT INTO index_docs (doc_id, context_json) VALUES (?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET context_json = excluded.context_json`,
		docID, string(contextJSON)); err != nil {
		return fmt.Errorf("failed to store doc context %s: %w", docID, err)
	}
	return nil
}

// Search returns the top-k records closest to the query.
func (x *Index) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = x.topK
	}

	x.mu.RLock()
	vecEnabled := x.vecEnabled
	x.mu.RUnlock()

	if vecEnabled {
		results, err := x.vectorSearch(ctx, query, k)
		if err == nil {
			return results, nil
		}
		x.logger.Warn("vector search failed, falling back to keywords", zap.Error(err))
	}
	return x.keywordSearch(ctx, query, k)
}

// Relevant returns the top-k records whose distance clears the relevance
// threshold, for injection into prompts.
func (x *Index) Relevant(ctx context.Context, query string) ([]SearchResult, error) {
	results, err := x.Search(ctx, query, x.topK)
	if err != nil {
		return nil, err
	}
	relevant := results[:0]
	for _, r := range results {
		if r.Distance < x.relevance {
			relevant = append(relevant, r)
		}
	}
	return relevant, nil
}

func (x *Index) vectorSearch(ctx context.Context, query string, k int) ([]SearchResult, error) {
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT v.record_id, v.distance, r.doc_id, r.file_name, r.record_type, r.content
		FROM index_vec v
		JOIN index_records r ON r.id = v.record_id
		WHERE v.embedding MATCH ? AND v.k = ?
		ORDER BY v.distance`,
		serializeVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var recType string
		if err := rows.Scan(&r.ID, &r.Distance, &r.DocID, &r.FileName, &recType, &r.Content); err != nil {
			return nil, err
		}
		r.Type = RecordType(recType)
		results = append(results, r)
	}
	return results, rows.Err()
}

// keywordSearch scores each record by the fraction of query terms its content
// contains and reports distance = 1 - score, keeping the relevance threshold
// meaningful on both paths.
func (x *Index) keywordSearch(ctx context.Context, query string, k int) ([]SearchResult, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := x.db.QueryContext(ctx,
		`SELECT id, doc_id, file_name, record_type, content FROM index_records`)
	if err != nil {
		return nil, fmt.Errorf("keyword query failed: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var recType string
		if err := rows.Scan(&r.ID, &r.DocID, &r.FileName, &recType, &r.Content); err != nil {
			return nil, err
		}
		r.Type = RecordType(recType)

		content := strings.ToLower(r.Content)
		hits := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		r.Distance = 1 - float64(hits)/float64(len(terms))
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Insertion sort by distance; result sets are tiny.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Distance < results[j-1].Distance; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// DocContext returns the structured sidecar for a doc_id.
func (x *Index) DocContext(ctx context.Context, docID string) ([]byte, error) {
	var raw string
	err := x.db.QueryRowContext(ctx,
		`SELECT context_json FROM index_docs WHERE doc_id = ?`, docID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no context for doc %s", docID)
	}
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

// DeleteDoc removes every record and the sidecar for a doc_id.
func (x *Index) DeleteDoc(ctx context.Context, docID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.vecEnabled {
		if _, err := x.db.ExecContext(ctx, `
			DELETE FROM index_vec WHERE record_id IN
			(SELECT id FROM index_records WHERE doc_id = ?)`, docID); err != nil {
			return fmt.Errorf("failed to delete vectors for %s: %w", docID, err)
		}
	}
	if _, err := x.db.ExecContext(ctx,
		`DELETE FROM index_records WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete records for %s: %w", docID, err)
	}
	if _, err := x.db.ExecContext(ctx,
		`DELETE FROM index_docs WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete doc context for %s: %w", docID, err)
	}
	return nil
}

// GetStats reports index contents.
func (x *Index) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByType: make(map[string]int), VecEnabled: x.VecEnabled()}

	if err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM index_records`).Scan(&stats.Records); err != nil {
		return nil, err
	}
	if err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM index_docs`).Scan(&stats.Docs); err != nil {
		return nil, err
	}

	rows, err := x.db.QueryContext(ctx,
		`SELECT record_type, COUNT(*) FROM index_records GROUP BY record_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		stats.ByType[t] = n
	}
	return stats, rows.Err()
}

// serializeVector encodes float32s as the little-endian blob sqlite-vec
// expects.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// searchTerms lowercases and splits a query, dropping short tokens.
func searchTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_')
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}
