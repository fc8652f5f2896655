// Package api defines the wire-format types shared by the daemon's HTTP
// handlers and the podscribe CLI, plus the HTTP client the CLI uses.
//
// # Key Types
//
// Task: transport representation of a queued task with its result and
// metrics passed through as raw JSON.
//
// Episode: persisted episode artifacts; segments are included only when
// requested.
//
// DaemonStatus: workflow state, queue counts, collaborator health, cache
// statistics, and dependency availability.
//
// # Converters
//
// FromTask: queue.Task -> Task.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus with health
// entries in deterministic order.
//
// # Errors
//
// Error responses carry the message and the error kind. The client turns
// them into *Error values that unwrap to the matching services marker, so
// callers can use errors.Is(err, services.ErrNotFound) across the wire.
package api
