// Package modelarena holds assets embedded into the server binary.
package modelarena

import "embed"

// MigrationsFS contains the Postgres schema migrations.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
