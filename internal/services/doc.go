// Package services defines shared utilities consumed by the pipeline stages and
// the upstream provider clients.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, episode IDs, stage names, worker
//     labels, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the validation/configuration/upstream/capacity/consistency taxonomy.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
