// Package sqlitedrv selects the SQLite driver at build time and opens
// connections with the pragmas every store in this codebase relies on.
// With cgo the mattn driver is used and the sqlite-vec extension can be
// registered (build tag sqlite_vec); without cgo the pure-Go modernc driver
// keeps the service runnable and vector search degrades to keyword matching.
package sqlitedrv

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Open opens the SQLite database at path, creating parent directories as
// needed. The connection pool is pinned to a single connection: SQLite
// serializes writers anyway, and a single connection keeps the WAL handle
// and any registered virtual tables on one session.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// VecAvailable probes for the sqlite-vec vec0 module on this connection.
// The probe table is dropped immediately; a failed probe only means vector
// search is unavailable, never an error.
func VecAvailable(db *sql.DB) bool {
	_, err := db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS _vec_probe USING vec0(embedding float[4])")
	if err != nil {
		return false
	}
	_, _ = db.Exec("DROP TABLE IF EXISTS _vec_probe")
	return true
}
