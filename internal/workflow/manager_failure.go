package workflow

import (
	"context"
	"log/slog"
	"strings"

	"podscribe/internal/events"
	"podscribe/internal/logging"
	"podscribe/internal/queue"
	"podscribe/internal/services"
)

func (m *Manager) finishFailed(ctx context.Context, logger *slog.Logger, task *queue.Task, taskErr error, failedStage string, metrics any) error {
	message := classifyFailure(taskErr)
	m.setLastError(taskErr)

	details := services.Details(taskErr)
	attrs := []logging.Attr{
		logging.String("resolved_status", string(queue.StatusFailed)),
		logging.String("error_message", message),
		logging.Alert("task_failure"),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorHint, details.Hint),
	}
	if failedStage != "" {
		attrs = append(attrs, logging.String(logging.FieldStage, failedStage))
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(taskErr))
	}
	attrs = append(attrs, logging.String(logging.FieldEventType, "task_failure"))
	logger.Error("task failed", logging.Args(attrs...)...)

	// The failure must be recorded even when the worker context is winding down.
	persistCtx := context.WithoutCancel(ctx)
	if err := m.store.Fail(persistCtx, task.ID, message, metrics); err != nil {
		logger.Error("failed to persist task failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_persist_failed"),
		)
		return err
	}

	m.emitter.Emit(events.Event{
		Type:      events.TaskFailed,
		TaskID:    task.ID,
		EpisodeID: task.EpisodeID,
		SourceURL: task.SourceURL,
		Stage:     failedStage,
		Detail:    message,
	})
	m.setLastTaskStatus(task, queue.StatusFailed, message)
	return taskErr
}

func classifyFailure(err error) string {
	if err == nil {
		return "task failed without error detail"
	}
	message := strings.TrimSpace(services.Details(err).Message)
	if message == "" {
		message = "task failed"
	}
	return message
}
