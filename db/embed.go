// Package db embeds the order service schema.
package db

import _ "embed"

// Schema creates the restaurant, order, status history and API key tables.
//
//go:embed migrations/001_schema.sql
var Schema string
