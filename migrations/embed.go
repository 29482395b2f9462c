// Package migrations embeds the SQL schema migrations applied per branch.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
