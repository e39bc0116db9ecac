//go:build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver registered for this build. Without
// CGO, modernc.org/sqlite (a pure-Go SQLite port) stands in so the binary
// still runs on platforms with no C toolchain. No SQLite extension is
// loaded on either build (see Init).
const driverName = "sqlite"

const cgoEnabled = false
