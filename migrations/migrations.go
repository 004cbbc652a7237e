// Package migrations embeds the SQL schema for the intake engine.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
