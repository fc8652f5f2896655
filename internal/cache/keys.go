package cache

import (
	"strings"
	"time"

	"podscribe/internal/config"
)

// Key categories. The prefix decides the TTL applied by Set when the caller
// passes zero.
const (
	PrefixStatus     = "status:"
	PrefixTranscript = "transcript:"
	PrefixScript     = "script:"
	PrefixSummary    = "summary:"
)

// StatusKey returns the key for transient processing status of a URL.
func StatusKey(sourceURL string) string { return PrefixStatus + sourceURL }

// TranscriptKey returns the key for the merged transcript of a URL.
func TranscriptKey(sourceURL string) string { return PrefixTranscript + sourceURL }

// ScriptKey returns the key for the cleaned script of a URL.
func ScriptKey(sourceURL string) string { return PrefixScript + sourceURL }

// SummaryKey returns the key for the structured summary of a URL.
func SummaryKey(sourceURL string) string { return PrefixSummary + sourceURL }

// TTLs maps key categories to expirations.
type TTLs struct {
	Status     time.Duration
	Transcript time.Duration
	Artifact   time.Duration
}

// TTLsFromConfig converts cache settings into TTLs.
func TTLsFromConfig(cfg config.Cache) TTLs {
	return TTLs{
		Status:     time.Duration(cfg.StatusTTLSeconds) * time.Second,
		Transcript: time.Duration(cfg.TranscriptTTLSeconds) * time.Second,
		Artifact:   time.Duration(cfg.ArtifactTTLSeconds) * time.Second,
	}
}

// For returns the TTL for key based on its category prefix. Unknown keys use
// the status TTL.
func (t TTLs) For(key string) time.Duration {
	switch {
	case strings.HasPrefix(key, PrefixTranscript):
		return t.Transcript
	case strings.HasPrefix(key, PrefixScript), strings.HasPrefix(key, PrefixSummary):
		return t.Artifact
	default:
		return t.Status
	}
}
