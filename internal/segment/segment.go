// Package segment computes the time segments an episode is split into so every
// speech recognition call stays under the provider's duration ceiling.
package segment

import (
	"fmt"
	"math"

	"podscribe/internal/services"
)

// Segment is one contiguous slice of the episode's audio, [Start, End).
type Segment struct {
	Index              int     `json:"index"`
	Start              float64 `json:"start"`
	End                float64 `json:"end"`
	Duration           float64 `json:"duration"`
	EstimatedSizeBytes int64   `json:"estimated_size_bytes"`
	// Compatible is false when the segment breaks the provider's duration or
	// upload-size limit.
	Compatible bool `json:"compatible"`
}

// Limits captures the provider's per-call constraints.
type Limits struct {
	MinSeconds     float64
	MaxSeconds     float64
	BitrateKbps    int
	MaxUploadBytes int64
}

// Clamp bounds a requested segment length to [MinSeconds, MaxSeconds].
func (l Limits) Clamp(requested float64) float64 {
	if l.MaxSeconds > 0 && (requested <= 0 || requested > l.MaxSeconds) {
		requested = l.MaxSeconds
	}
	if l.MinSeconds > 0 && requested < l.MinSeconds {
		requested = l.MinSeconds
	}
	return requested
}

// EstimateBytes returns the encoded size of duration seconds at the configured bitrate.
func (l Limits) EstimateBytes(duration float64) int64 {
	if l.BitrateKbps <= 0 || duration <= 0 {
		return 0
	}
	return int64(math.Ceil(duration * float64(l.BitrateKbps) * 1000 / 8))
}

// Split divides [0, total) into contiguous segments of maxSegment seconds; the
// final segment absorbs the remainder. Indices are zero-based.
func Split(total, maxSegment float64) ([]Segment, error) {
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, services.Wrap(services.ErrValidation, "segment", "split",
			fmt.Sprintf("total duration must be positive, got %v", total), nil)
	}
	if maxSegment <= 0 || math.IsNaN(maxSegment) || math.IsInf(maxSegment, 0) {
		return nil, services.Wrap(services.ErrValidation, "segment", "split",
			fmt.Sprintf("segment length must be positive, got %v", maxSegment), nil)
	}

	count := int(math.Ceil(total / maxSegment))
	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * maxSegment
		end := start + maxSegment
		if i == count-1 || end > total {
			end = total
		}
		if start >= end {
			break
		}
		segments = append(segments, Segment{
			Index:      i,
			Start:      start,
			End:        end,
			Duration:   end - start,
			Compatible: true,
		})
	}
	return segments, nil
}

// Plan returns the segments for an episode of total seconds. A clip within the
// provider ceiling stays whole; longer clips are split at the clamped
// requested length. Size estimates and compatibility flags are filled in.
func Plan(total, requested float64, limits Limits) ([]Segment, error) {
	length := limits.Clamp(requested)
	if limits.MaxSeconds > 0 && total <= limits.MaxSeconds {
		length = total
	}
	segments, err := Split(total, length)
	if err != nil {
		return nil, err
	}
	for i := range segments {
		seg := &segments[i]
		seg.EstimatedSizeBytes = limits.EstimateBytes(seg.Duration)
		withinDuration := limits.MaxSeconds <= 0 || seg.Duration <= limits.MaxSeconds
		withinUpload := limits.MaxUploadBytes <= 0 || seg.EstimatedSizeBytes <= limits.MaxUploadBytes
		seg.Compatible = withinDuration && withinUpload
	}
	return segments, nil
}
