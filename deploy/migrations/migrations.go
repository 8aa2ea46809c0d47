package migrations

import "embed"

// MySQL holds the ledger schema.
//
//go:embed mysql/*.sql
var MySQL embed.FS

// Postgres holds the event journal schema.
//
//go:embed postgres/*.sql
var Postgres embed.FS
