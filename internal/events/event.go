// Package events carries fire-and-forget side effects (lifecycle updates,
// access log entries, push notifications) away from the request and worker
// paths.
//
// Producers call Emitter.Emit, which never blocks: events are queued and
// handed to sinks by a background goroutine. A sink failure is logged and the
// remaining sinks still run. When the queue is full the event is dropped with
// a warning rather than stalling the caller.
package events

import "time"

// Type names an event.
type Type string

const (
	TaskQueued    Type = "task_queued"
	TaskStarted   Type = "task_started"
	TaskCompleted Type = "task_completed"
	TaskFailed    Type = "task_failed"
	TaskCanceled  Type = "task_canceled"
	StageStarted  Type = "stage_started"
	EpisodeRead   Type = "episode_read"
	AnswerServed  Type = "answer_served"
)

// Event is one side-effect notification.
type Event struct {
	Sequence  uint64    `json:"seq,omitempty"`
	Type      Type      `json:"type"`
	TaskID    int64     `json:"task_id,omitempty"`
	EpisodeID int64     `json:"episode_id,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// IsAccess reports whether the event belongs in the access log.
func (e Event) IsAccess() bool {
	return e.Type == EpisodeRead || e.Type == AnswerServed
}
