// Package pipeline runs the per-episode stage sequence: resolve, probe,
// segment, transcribe, clean, summarize, persist, index.
//
// Stages run strictly in order and each consumes the state left by the
// previous one. Transcription fans out across audio segments under its own
// concurrency limit and merges results by start time. Transcripts, scripts,
// and summaries are memoized in the two-tier cache keyed by source URL, so a
// rerun for a known URL skips straight to persistence without speech
// recognition calls. A failing stage stops the run; artifacts already
// persisted stay in place.
package pipeline
