// Package migrations embeds the schema of the PostgreSQL remote backend.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
