package migrations

import "embed"

// FS contains the embedded SQLite migrations of the library store.
//
//go:embed *.sql
var FS embed.FS
