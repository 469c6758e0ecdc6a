// Package db provides the embedded database schema and seed data.
package db

import _ "embed"

// Schema contains the DDL statements for products, ranges, offer
// configuration and usage tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedFixture is the demo catalog and offer configuration loaded by seed-db.
//
//go:embed seed/offers.yaml
var SeedFixture []byte
