package workflow

import (
	"context"
	"sort"

	"podscribe/internal/logging"
	"podscribe/internal/queue"
	"podscribe/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                    `json:"running"`
	Workers     int                     `json:"workers"`
	ActiveTasks []int64                 `json:"active_tasks"`
	LastError   string                  `json:"last_error,omitempty"`
	LastTask    *queue.Task             `json:"last_task,omitempty"`
	QueueStats  queue.StatusCounts      `json:"queue"`
	Health      map[string]stage.Health `json:"health"`
	EventsLost  int64                   `json:"events_dropped"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastTask := m.lastTask
	active := make([]int64, 0, len(m.active))
	for _, id := range m.active {
		active = append(active, id)
	}
	m.mu.RUnlock()
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })

	stats, err := m.store.QueueStatus(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	summary := StatusSummary{
		Running:     running,
		Workers:     m.workers,
		ActiveTasks: active,
		QueueStats:  stats,
		Health:      stage.CheckAll(ctx, m.checkers...),
		EventsLost:  m.emitter.Dropped(),
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastTask != nil {
		copy := *lastTask
		summary.LastTask = &copy
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastTask(task *queue.Task) {
	m.mu.Lock()
	if task != nil {
		copy := *task
		m.lastTask = &copy
	} else {
		m.lastTask = nil
	}
	m.mu.Unlock()
}

func (m *Manager) setLastTaskStatus(task *queue.Task, status queue.Status, message string) {
	m.mu.Lock()
	copy := *task
	copy.Status = status
	copy.ErrorMessage = message
	m.lastTask = &copy
	m.mu.Unlock()
}

func (m *Manager) setActive(worker string, taskID int64) {
	m.mu.Lock()
	if taskID == 0 {
		delete(m.active, worker)
	} else {
		m.active[worker] = taskID
	}
	m.mu.Unlock()
}
