// Package migrations embeds the reporter's SQL schema into the binary.
package migrations

import "embed"

// FS holds the forward-only migration files, named
// YYYYMMDD_HHMMSS_description.up.sql.
//
//go:embed *.sql
var FS embed.FS
