//go:build sqlite_vec && cgo

package memoryindex

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// init registers the sqlite-vec extension as an auto-loadable extension for
// github.com/mattn/go-sqlite3, the same registration the extension's own
// cgo binding docs call for. Building with this tag (and cgo) turns every
// opened index handle into one that could run accelerated MATCH/vec0
// queries instead of naiveVectorSearch's full scan; this binary doesn't
// build that way by default, since the default build must stay cgo-free.
func init() {
	vec.Auto()
}
