// Package db embeds the SQL schema applied at startup and by seed-db.
package db

import _ "embed"

// Schema holds the idempotent DDL for every table the compensation core
// touches. Statements use IF NOT EXISTS so re-running it is safe.
//
//go:embed migrations/001_schema.sql
var Schema string
