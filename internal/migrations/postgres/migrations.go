// Package postgres embeds the facility-side schema migrations.
package postgres

import "embed"

//go:embed *.sql
var Migrations embed.FS
