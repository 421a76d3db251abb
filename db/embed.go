// Package db provides the embedded document store schema.
package db

import _ "embed"

// Schema contains the DDL statements for the documents table.
//
//go:embed migrations/001_schema.sql
var Schema string
