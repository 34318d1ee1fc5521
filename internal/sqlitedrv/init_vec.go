//go:build sqlite_vec && cgo

package sqlitedrv

import (
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Registers the sqlite-vec extension with the mattn driver so every new
// connection exposes the vec0 virtual table module. Built only with
// -tags sqlite_vec; without it the descriptive index falls back to keyword
// search.
func init() {
	sqlite_vec.Auto()
}
