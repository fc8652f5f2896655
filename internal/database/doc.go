// Package database opens the SQLite files podscribe persists state in.
//
// Every store (task queue, episodes, sqlite vector index) goes through Open so
// the same pragmas, busy-retry policy, and schema version check apply.
package database
