package api

import (
	"encoding/json"

	"podscribe/internal/cache"
	"podscribe/internal/transcript"
	"podscribe/internal/usage"
	"podscribe/internal/vectorindex"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Task describes a queued task in a transport-friendly format.
type Task struct {
	ID              int64           `json:"id"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	SourceURL       string          `json:"source_url"`
	Requester       string          `json:"requester,omitempty"`
	EpisodeID       int64           `json:"episode_id,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Metrics         json.RawMessage `json:"metrics,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	CreatedAt       string          `json:"created_at,omitempty"`
	UpdatedAt       string          `json:"updated_at,omitempty"`
	StartedAt       string          `json:"started_at,omitempty"`
	CompletedAt     string          `json:"completed_at,omitempty"`
	LastHeartbeat   string          `json:"last_heartbeat,omitempty"`
}

// SubmitRequest is the body of POST /api/tasks.
type SubmitRequest struct {
	SourceURL string `json:"source_url"`
	Requester string `json:"requester,omitempty"`
}

// SubmitResponse reports the task handling a submission. Created is false
// when an active task for the same URL already existed.
type SubmitResponse struct {
	Task    Task `json:"task"`
	Created bool `json:"created"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task Task `json:"task"`
}

// TaskListResponse wraps a collection of tasks.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
}

// QueueStatusResponse provides zero-filled counts per status.
type QueueStatusResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running       bool           `json:"running"`
	Workers       int            `json:"workers"`
	ActiveTasks   []int64        `json:"active_tasks"`
	QueueStats    map[string]int `json:"queue_stats"`
	LastError     string         `json:"last_error,omitempty"`
	LastTask      *Task          `json:"last_task,omitempty"`
	Health        []StageHealth  `json:"health"`
	EventsDropped int64          `json:"events_dropped"`
}

// StageHealth mirrors readiness reporting for pipeline collaborators.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Version      string             `json:"version,omitempty"`
	QueueDBPath  string             `json:"queue_db_path"`
	LockFilePath string             `json:"lock_file_path"`
	IndexBackend string             `json:"index_backend"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Cache        cache.Stats        `json:"cache"`
	QAUsage      *usage.Stats       `json:"qa_usage,omitempty"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// Episode is the transport form of an episode record.
type Episode struct {
	ID              int64                `json:"id"`
	SourceURL       string               `json:"source_url"`
	Title           string               `json:"title"`
	DurationSeconds float64              `json:"duration_seconds"`
	CleaningMethod  string               `json:"cleaning_method,omitempty"`
	Script          string               `json:"script,omitempty"`
	Summary         json.RawMessage      `json:"summary,omitempty"`
	Metrics         json.RawMessage      `json:"metrics,omitempty"`
	SegmentCount    int                  `json:"segment_count"`
	Segments        []transcript.Segment `json:"segments,omitempty"`
	CreatedAt       string               `json:"created_at,omitempty"`
	UpdatedAt       string               `json:"updated_at,omitempty"`
}

// EpisodeResponse wraps a single episode.
type EpisodeResponse struct {
	Episode Episode `json:"episode"`
}

// ProcessResponse reports the task queued for an episode.
type ProcessResponse = SubmitResponse

// ReindexResponse reports the chunk count written for an episode.
type ReindexResponse struct {
	EpisodeID int64 `json:"episode_id"`
	Chunks    int   `json:"chunks"`
}

// AskRequest is the body of POST /api/ask.
type AskRequest = vectorindex.Question

// AskResponse is the grounded answer with citations.
type AskResponse = vectorindex.Answer

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
