// Package sqlite embeds the device-side schema migrations.
package sqlite

import "embed"

//go:embed *.sql
var Migrations embed.FS
