// Package migrations embeds the goose schema migrations shared by every SQL
// backend (sqlite, mysql, postgres), so each dialect package can run them
// against its own driver without the workspace needing to ship the .sql
// files separately at deploy time.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
