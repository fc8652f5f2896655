// Package ffprobe provides a typed wrapper around ffprobe JSON output and the
// duration probe used before segmenting an episode.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Prober: bounded-time duration probe for local paths or remote URLs
//
// Primary entry points:
//   - Inspect: executes ffprobe and returns parsed Result
//   - Prober.Duration: returns the container duration in seconds
package ffprobe
