// Package queue persists episode processing tasks in SQLite and exposes the
// operations that drive their lifecycle.
//
// Tasks move PENDING -> RUNNING -> READY or FAILED and never leave a terminal
// state; every transition is a guarded UPDATE so a lost race surfaces as
// ErrInvalidTransition instead of silently overwriting state. Submissions are
// deduplicated per source URL while a task for that URL is still in flight.
//
// Schema changes bump schemaVersion in schema.go; users delete queue.db to
// adopt the new schema.
package queue
