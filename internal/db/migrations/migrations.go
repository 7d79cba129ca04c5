// Package migrations embeds the versioned goose SQL migration sets for
// both SQL backends (§6.2), grounded on the teacher's own
// `goose.SetBaseFS(migrations.FS)` embed pattern (internal/db/migrate.go).
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS

//go:embed sqlite/*.sql
var SQLite embed.FS
