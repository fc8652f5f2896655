package queue

import (
	_ "embed"

	"podscribe/internal/database"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

var schema = database.Schema{Name: "queue", Version: schemaVersion, SQL: schemaSQL}
