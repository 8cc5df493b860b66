package migrations

import "embed"

// FS contains embedded SQLite migrations for the stock ledger.
//
//go:embed *.sql
var FS embed.FS
