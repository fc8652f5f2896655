// Package episodes persists episode records and the access log in SQLite.
//
// An episode is created the first time its source URL is submitted (Ensure)
// and later runs overwrite its artifacts in place, so one URL maps to one
// record for the lifetime of the database.
package episodes
