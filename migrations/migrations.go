// Package migrations embeds the SQL schema applied at startup.
package migrations

import "embed"

// Files holds the numbered up/down migrations.
//
//go:embed *.sql
var Files embed.FS
