// Package transcript holds time-stamped speech recognition output.
package transcript

import (
	"sort"
	"strings"
)

// Segment is one recognized span of speech. Times are seconds from the start
// of the episode.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Duration returns End-Start, never negative.
func (s Segment) Duration() float64 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// Part is the output of one transcription call, tagged with the offset of the
// audio segment it covers.
type Part struct {
	Offset   float64
	Segments []Segment
}

// Merge combines parts into one transcript ordered by ascending start time,
// regardless of the order the parts arrived in. Blank segments are dropped.
func Merge(parts []Part) []Segment {
	ordered := make([]Part, len(parts))
	copy(ordered, parts)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Offset < ordered[j].Offset })

	var merged []Segment
	for _, part := range ordered {
		for _, seg := range part.Segments {
			if strings.TrimSpace(seg.Text) == "" {
				continue
			}
			merged = append(merged, seg)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}

// Text joins segment texts with single spaces.
func Text(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}

// SpeakerCount returns the number of distinct non-empty speaker labels.
func SpeakerCount(segments []Segment) int {
	seen := make(map[string]struct{})
	for _, seg := range segments {
		if label := strings.TrimSpace(seg.Speaker); label != "" {
			seen[label] = struct{}{}
		}
	}
	return len(seen)
}

// Span returns the start of the first segment and the end of the last.
func Span(segments []Segment) (start, end float64) {
	if len(segments) == 0 {
		return 0, 0
	}
	return segments[0].Start, segments[len(segments)-1].End
}
