// Package logging assembles structured slog loggers and formatting helpers used
// across podscribe services.
//
// It owns the configurable console/JSON handlers, per-component level
// overrides, and context-aware helpers so pipeline code automatically tags log
// lines with task IDs, episode IDs, stages, and correlation IDs. A no-op logger
// is provided for tests and wiring code that cannot fail.
package logging
