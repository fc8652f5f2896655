package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"podscribe/internal/logging"
	"podscribe/internal/queue"
)

// StaleMessage is recorded on tasks whose heartbeat expired.
const StaleMessage = "heartbeat expired; worker stopped responding (resubmit to retry)"

// InterruptedMessage is recorded on tasks left RUNNING by a previous process.
const InterruptedMessage = "interrupted by daemon restart (resubmit to retry)"

// HeartbeatMonitor keeps running tasks' liveness timestamps fresh and fails
// tasks whose heartbeat stopped.
type HeartbeatMonitor struct {
	store             *queue.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// FailStale fails RUNNING tasks whose heartbeat is older than the timeout.
// Failed tasks are not re-queued.
func (h *HeartbeatMonitor) FailStale(ctx context.Context) (int64, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	failed, err := h.store.FailStale(ctx, cutoff, StaleMessage)
	if err != nil {
		return 0, err
	}
	if failed > 0 {
		logging.WarnWithContext(h.logger, "failed stale tasks", "heartbeat_expired",
			logging.Int64("count", failed),
			logging.Duration("timeout", h.heartbeatTimeout),
			logging.String(logging.FieldImpact, "affected tasks must be resubmitted"),
		)
	}
	return failed, nil
}

// FailOrphaned fails every RUNNING task. Only call it before workers start.
func (h *HeartbeatMonitor) FailOrphaned(ctx context.Context) (int64, error) {
	failed, err := h.store.FailRunning(ctx, InterruptedMessage)
	if err != nil {
		return 0, err
	}
	if failed > 0 {
		logging.WarnWithContext(h.logger, "failed tasks orphaned by a previous run", "orphaned_tasks_failed",
			logging.Int64("count", failed),
			logging.String(logging.FieldImpact, "affected tasks must be resubmitted"),
		)
	}
	return failed, nil
}

// StartLoop runs a heartbeat updater for a specific task until context cancellation.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, taskID int64) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, taskID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat stopped by shutdown")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}
