// Package migrations embeds the goose SQL migrations. The baseline is
// forward-only: its Down section raises, since no deployment predates it.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
