// Package migrations embeds the SQL schema migrations for the postgres
// stable store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
