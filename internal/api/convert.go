package api

import (
	"encoding/json"
	"sort"
	"time"

	"podscribe/internal/episodes"
	"podscribe/internal/queue"
	"podscribe/internal/stage"
	"podscribe/internal/workflow"
)

// FromTask converts a queue record to its API representation.
func FromTask(task *queue.Task) Task {
	if task == nil {
		return Task{}
	}
	dto := Task{
		ID:              task.ID,
		Type:            task.Type,
		Status:          string(task.Status),
		SourceURL:       task.SourceURL,
		Requester:       task.Requester,
		EpisodeID:       task.EpisodeID,
		Error:           task.ErrorMessage,
		CancelRequested: task.CancelRequested,
		CreatedAt:       formatTime(task.CreatedAt),
		UpdatedAt:       formatTime(task.UpdatedAt),
		StartedAt:       formatTime(task.StartedAt),
		CompletedAt:     formatTime(task.CompletedAt),
		LastHeartbeat:   formatTime(task.LastHeartbeat),
	}
	if raw := task.ResultJSON; raw != "" && json.Valid([]byte(raw)) {
		dto.Result = json.RawMessage(raw)
	}
	if raw := task.MetricsJSON; raw != "" && json.Valid([]byte(raw)) {
		dto.Metrics = json.RawMessage(raw)
	}
	return dto
}

// FromTasks converts a slice of queue records.
func FromTasks(tasks []queue.Task) []Task {
	out := make([]Task, 0, len(tasks))
	for i := range tasks {
		out = append(out, FromTask(&tasks[i]))
	}
	return out
}

// FromStatusCounts converts queue counts, filling every known status.
func FromStatusCounts(counts queue.StatusCounts) QueueStatusResponse {
	resp := QueueStatusResponse{Counts: make(map[string]int, len(queue.AllStatuses))}
	for _, status := range queue.AllStatuses {
		resp.Counts[string(status)] = counts[status]
	}
	resp.Total = counts.Total()
	return resp
}

// FromStatusSummary converts workflow diagnostics to the transport form.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:       summary.Running,
		Workers:       summary.Workers,
		ActiveTasks:   summary.ActiveTasks,
		QueueStats:    FromStatusCounts(summary.QueueStats).Counts,
		LastError:     summary.LastError,
		Health:        StageHealthSlice(summary.Health),
		EventsDropped: summary.EventsLost,
	}
	if status.ActiveTasks == nil {
		status.ActiveTasks = []int64{}
	}
	if summary.LastTask != nil {
		task := FromTask(summary.LastTask)
		status.LastTask = &task
	}
	return status
}

// StageHealthSlice orders health entries by name.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for name, h := range health {
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FromEpisode converts an episode record. Segments are copied only when
// includeSegments is set.
func FromEpisode(episode *episodes.Episode, includeSegments bool) Episode {
	if episode == nil {
		return Episode{}
	}
	dto := Episode{
		ID:              episode.ID,
		SourceURL:       episode.SourceURL,
		Title:           episode.Title,
		DurationSeconds: episode.DurationSeconds,
		CleaningMethod:  episode.CleaningMethod,
		Script:          episode.Script,
		Summary:         episode.Summary,
		Metrics:         episode.Metrics,
		SegmentCount:    len(episode.Segments),
		CreatedAt:       formatTime(episode.CreatedAt),
		UpdatedAt:       formatTime(episode.UpdatedAt),
	}
	if includeSegments {
		dto.Segments = episode.Segments
	}
	return dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
