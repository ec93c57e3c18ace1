// Package db owns the Postgres schema of the 2FA service and the helpers to
// apply it and open a connection pool.
package db

import "embed"

// MigrationFS embeds the SQL migrations applied by Migrate and cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
