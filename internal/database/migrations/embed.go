package migrations

import "embed"

// FS contains the embedded postgres migrations for the joke catalog.
//
//go:embed *.sql
var FS embed.FS
