// Package cleaning turns raw speech-recognition output into a readable script.
//
// A Cleaner evaluates a rule table in priority order to pick one of five
// strategies:
//
//   - whole: one call for transcripts that fit the single-call budget
//   - chunked: overlapping character windows cleaned independently and stitched
//   - smart: whole when the precheck passes, degrading to chunked otherwise
//   - integrity: chunked plus an itemized report of facts at risk of being lost
//   - boundary: windows aligned to ASR segments, threading a speaker map
//
// Rules and strategies are both pluggable (WithRules, WithStrategy). A failed
// window inside a windowed strategy is reported as an issue and keeps its raw
// text; the remaining windows still run.
package cleaning
