package events

import (
	"context"

	"podscribe/internal/episodes"
)

// AccessRecorder persists access log rows.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, event episodes.AccessEvent) error
}

// AccessLog is a sink that writes episode reads and served answers to the
// episode store.
type AccessLog struct {
	recorder AccessRecorder
}

// NewAccessLog wraps recorder.
func NewAccessLog(recorder AccessRecorder) *AccessLog {
	return &AccessLog{recorder: recorder}
}

// Handle records access events and ignores everything else.
func (a *AccessLog) Handle(ctx context.Context, event Event) error {
	if a == nil || a.recorder == nil || !event.IsAccess() {
		return nil
	}
	return a.recorder.RecordAccess(ctx, episodes.AccessEvent{
		Type:      string(event.Type),
		EpisodeID: event.EpisodeID,
		TaskID:    event.TaskID,
		SourceURL: event.SourceURL,
		Detail:    event.Detail,
		At:        event.At,
	})
}
