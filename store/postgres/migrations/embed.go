package migrations

import "embed"

// FS contains embedded PostgreSQL migrations for the stock ledger.
//
//go:embed *.sql
var FS embed.FS
