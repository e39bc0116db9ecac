//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName is the database/sql driver registered for this build. The CGO
// build prefers mattn/go-sqlite3, which links against the reference SQLite
// C library. No SQLite extension is loaded on either build (see Init).
const driverName = "sqlite3"

const cgoEnabled = true
