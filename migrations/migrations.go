// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// Postgres holds the *_up.sql and *_down.sql files under postgres/.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// PostgresDir is the directory inside Postgres holding the files.
const PostgresDir = "postgres"
