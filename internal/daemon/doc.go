// Package daemon coordinates the long-running podscribe process.
//
// It wires configuration, the task and episode stores, the workflow manager,
// and the event hub into a single lifecycle with flock-based locking to
// prevent multiple instances. On start it fails tasks orphaned by a previous
// process, launches the worker pool, schedules heartbeat maintenance with
// cron, and exposes the HTTP API, the WebSocket event stream, and an optional
// gRPC health service.
//
// Keep orchestration logic here: pipeline stages live in their own packages
// while the daemon focuses on startup, shutdown, and request routing.
package daemon
