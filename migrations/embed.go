// Package migrations embeds the PostgreSQL schema applied by `blume-server migrate`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
