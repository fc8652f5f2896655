// Package workflow drives queued episode tasks through the processing
// pipeline.
//
// The Manager runs a fixed pool of workers. Each worker claims the oldest
// PENDING task, ensures the episode record for its source URL, and runs the
// pipeline while a heartbeat loop keeps the task's liveness timestamp fresh.
// The outcome is written back as READY with result and metrics or FAILED with
// the error message. Failed tasks are never retried automatically.
//
// Workers poll at workflow.queue_poll_interval and wake early when Wake is
// called after a submission. Cancel requests are observed before the first
// stage and between stages; in-flight upstream calls run to completion.
package workflow
