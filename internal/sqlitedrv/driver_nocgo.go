//go:build !cgo

package sqlitedrv

import (
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite,
// the pure-Go build used when cgo is disabled.
const DriverName = "sqlite"
