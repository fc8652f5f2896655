package queue

import (
	"errors"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusReady   Status = "READY"
	StatusFailed  Status = "FAILED"
)

// TypeEpisode is the only task type: process one episode source URL.
const TypeEpisode = "episode"

// CanceledMessage is the error recorded for tasks stopped by a cancel request.
const CanceledMessage = "canceled by request"

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusRunning, StatusReady, StatusFailed}

// ErrInvalidTransition is returned when a guarded status update does not
// match the task's current state.
var ErrInvalidTransition = errors.New("invalid task status transition")

// Terminal reports whether no further transition can occur from s.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Input is the submission payload.
type Input struct {
	SourceURL string `json:"source_url"`
	Requester string `json:"requester,omitempty"`
}

// Task is a persisted processing request.
type Task struct {
	ID              int64
	Type            string
	Status          Status
	SourceURL       string
	Requester       string
	EpisodeID       int64
	ResultJSON      string
	ErrorMessage    string
	MetricsJSON     string
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	LastHeartbeat   time.Time
}

// StatusCounts maps every status to its task count; absent statuses are zero.
type StatusCounts map[Status]int

// Total returns the number of tasks across all statuses.
func (c StatusCounts) Total() int {
	total := 0
	for _, count := range c {
		total += count
	}
	return total
}
