// Package migrations embeds the SQL schema applied to every conversation database.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
