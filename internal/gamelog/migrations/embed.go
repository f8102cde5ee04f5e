package migrations

import "embed"

// FS contains embedded SQLite migrations for the gamelog index.
//
//go:embed *.sql
var FS embed.FS
