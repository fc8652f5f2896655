// Package asr calls the speech recognition provider for one audio segment at
// a time.
//
// The provider accepts a source URL plus a [start, start+duration) window and
// returns time-stamped pieces relative to the window start. Transcribe shifts
// them to episode time so transcript.Merge can order parts by start.
package asr
