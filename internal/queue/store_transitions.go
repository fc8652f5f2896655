package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"podscribe/internal/database"
	"podscribe/internal/services"
)

// ClaimNext atomically moves the oldest PENDING task to RUNNING and returns
// it. It returns nil when nothing is pending.
func (s *Store) ClaimNext(ctx context.Context) (*Task, error) {
	ctx = database.EnsureContext(ctx)
	timestamp := now()
	var task *Task
	err := database.RetryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`UPDATE tasks
             SET status = ?, started_at = ?, updated_at = ?, last_heartbeat = ?
             WHERE id = (SELECT id FROM tasks WHERE status = ? ORDER BY created_at, id LIMIT 1)
               AND status = ?
             RETURNING `+taskColumns,
			StatusRunning, timestamp, timestamp, timestamp,
			StatusPending,
			StatusPending,
		)
		claimed, scanErr := scanTask(row)
		if scanErr != nil {
			return scanErr
		}
		task = claimed
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	return task, nil
}

// AttachEpisode records the episode a RUNNING task is processing.
func (s *Store) AttachEpisode(ctx context.Context, id, episodeID int64) error {
	return s.guardedUpdate(ctx, id, StatusRunning,
		`UPDATE tasks SET episode_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		episodeID, now(), id, StatusRunning)
}

// Complete moves a RUNNING task to READY, storing its result and metrics and
// clearing any error.
func (s *Store) Complete(ctx context.Context, id int64, result, metrics any) error {
	resultValue, err := marshalOptional(result)
	if err != nil {
		return fmt.Errorf("encode task result: %w", err)
	}
	metricsValue, err := marshalOptional(metrics)
	if err != nil {
		return fmt.Errorf("encode task metrics: %w", err)
	}
	timestamp := now()
	return s.guardedUpdate(ctx, id, StatusRunning,
		`UPDATE tasks
         SET status = ?, result_json = ?, metrics_json = ?, error_message = NULL,
             completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusReady, resultValue, metricsValue, timestamp, timestamp, id, StatusRunning)
}

// Fail moves a RUNNING task to FAILED with the failure message; the result is
// cleared. Metrics collected before the failure are kept.
func (s *Store) Fail(ctx context.Context, id int64, message string, metrics any) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "task failed"
	}
	metricsValue, err := marshalOptional(metrics)
	if err != nil {
		return fmt.Errorf("encode task metrics: %w", err)
	}
	timestamp := now()
	return s.guardedUpdate(ctx, id, StatusRunning,
		`UPDATE tasks
         SET status = ?, error_message = ?, result_json = NULL,
             metrics_json = COALESCE(?, metrics_json), completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed, message, metricsValue, timestamp, timestamp, id, StatusRunning)
}

// UpdateHeartbeat refreshes the liveness timestamp of a RUNNING task.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	timestamp := now()
	return s.guardedUpdate(ctx, id, StatusRunning,
		`UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		timestamp, timestamp, id, StatusRunning)
}

// RequestCancel flags a non-terminal task for cancellation. The claiming
// worker observes the flag before its next stage.
func (s *Store) RequestCancel(ctx context.Context, id int64) (*Task, error) {
	ctx = database.EnsureContext(ctx)
	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE tasks SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		now(), id, StatusPending, StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("request cancel: %w", err)
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, "queue", "cancel", fmt.Sprintf("task %d not found", id), nil)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return task, fmt.Errorf("%w: task %d is already %s", ErrInvalidTransition, id, task.Status)
	}
	return task, nil
}

// CancelRequested reports whether a cancel request is pending for the task.
func (s *Store) CancelRequested(ctx context.Context, id int64) (bool, error) {
	ctx = database.EnsureContext(ctx)
	var flag int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM tasks WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// FailStale fails RUNNING tasks whose heartbeat is older than cutoff. Stale
// tasks are not re-queued; resubmission stays explicit.
func (s *Store) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	ctx = database.EnsureContext(ctx)
	timestamp := now()
	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE tasks
         SET status = ?, error_message = ?, result_json = NULL, completed_at = ?, updated_at = ?
         WHERE status = ? AND COALESCE(last_heartbeat, started_at, created_at) < ?`,
		StatusFailed, message, timestamp, timestamp,
		StatusRunning, database.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale tasks: %w", err)
	}
	return res.RowsAffected()
}

// FailRunning fails every RUNNING task. The daemon calls it at startup because
// no worker of a previous process can still own them.
func (s *Store) FailRunning(ctx context.Context, message string) (int64, error) {
	ctx = database.EnsureContext(ctx)
	timestamp := now()
	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE tasks
         SET status = ?, error_message = ?, result_json = NULL, completed_at = ?, updated_at = ?
         WHERE status = ?`,
		StatusFailed, message, timestamp, timestamp, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail running tasks: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) guardedUpdate(ctx context.Context, id int64, expected Status, query string, args ...any) error {
	ctx = database.EnsureContext(ctx)
	res, err := s.db.ExecWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		task, lookupErr := s.GetTask(ctx, id)
		if lookupErr != nil {
			return lookupErr
		}
		if task == nil {
			return services.Wrap(services.ErrNotFound, "queue", "update task", fmt.Sprintf("task %d not found", id), nil)
		}
		return fmt.Errorf("%w: task %d is %s, expected %s", ErrInvalidTransition, id, task.Status, expected)
	}
	return nil
}
