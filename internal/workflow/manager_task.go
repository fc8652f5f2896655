package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"podscribe/internal/events"
	"podscribe/internal/logging"
	"podscribe/internal/pipeline"
	"podscribe/internal/queue"
	"podscribe/internal/services"
	"podscribe/internal/usage"
)

func (m *Manager) processTask(ctx context.Context, workerLogger *slog.Logger, task *queue.Task) error {
	ctx = services.WithTaskID(ctx, task.ID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, workerLogger)
	m.setLastTask(task)

	started := time.Now()
	logger.Info("task started",
		logging.String("source_url", task.SourceURL),
		logging.String(logging.FieldEventType, "task_start"),
	)
	m.emitter.Emit(events.Event{Type: events.TaskStarted, TaskID: task.ID, SourceURL: task.SourceURL})

	if task.CancelRequested {
		return m.finishCanceled(ctx, logger, task, nil)
	}

	episode, err := m.episodes.Ensure(ctx, task.SourceURL)
	if err != nil {
		wrapped := services.Wrap(services.ErrConsistency, "workflow", "ensure episode", "Failed to create episode record", err)
		return m.finishFailed(ctx, logger, task, wrapped, "", nil)
	}
	task.EpisodeID = episode.ID
	ctx = services.WithEpisodeID(ctx, episode.ID)
	logger = logging.WithContext(ctx, workerLogger)
	if err := m.store.AttachEpisode(ctx, task.ID, episode.ID); err != nil {
		logger.Warn("failed to link task to episode",
			logging.Error(err),
			logging.String(logging.FieldEventType, "episode_link_failed"),
			logging.String(logging.FieldImpact, "task lookups will not show the episode until it completes"),
		)
	}

	stats := usage.New(m.prices)
	result, runErr := m.runWithHeartbeat(ctx, task.ID, episode.ID, pipeline.RunOptions{
		TaskID: task.ID,
		Stats:  stats,
		Canceled: func(ctx context.Context) (bool, error) {
			return m.store.CancelRequested(ctx, task.ID)
		},
	})
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
			logger.Info("task interrupted by shutdown", logging.String(logging.FieldEventType, "task_interrupted"))
			return runErr
		}
		if errors.Is(runErr, pipeline.ErrCanceled) {
			return m.finishCanceled(ctx, logger, task, result.Metrics)
		}
		return m.finishFailed(ctx, logger, task, runErr, string(result.Metrics.FailedStage), result.Metrics)
	}

	if err := m.store.Complete(ctx, task.ID, result, result.Metrics); err != nil {
		m.setLastError(err)
		logger.Error("failed to persist task completion",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_persist_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return err
	}
	logger.Info("task completed",
		logging.String(logging.FieldEventType, "task_complete"),
		logging.String("title", result.Title),
		logging.Int("chunks", result.Chunks),
		logging.Float64("estimated_cost_usd", result.Metrics.Usage.EstimatedCostUSD),
		logging.Duration("elapsed", time.Since(started)),
	)
	m.emitter.Emit(events.Event{
		Type:      events.TaskCompleted,
		TaskID:    task.ID,
		EpisodeID: episode.ID,
		SourceURL: task.SourceURL,
		Detail:    result.Title,
	})
	m.setLastTaskStatus(task, queue.StatusReady, "")
	return nil
}

func (m *Manager) runWithHeartbeat(ctx context.Context, taskID, episodeID int64, opts pipeline.RunOptions) (pipeline.Result, error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, taskID)

	result, err := m.runner.Run(ctx, episodeID, opts)
	hbCancel()
	hbWG.Wait()
	return result, err
}

func (m *Manager) finishCanceled(ctx context.Context, logger *slog.Logger, task *queue.Task, metrics any) error {
	if err := m.store.Fail(ctx, task.ID, queue.CanceledMessage, metrics); err != nil {
		m.setLastError(err)
		logger.Error("failed to persist cancellation", logging.Error(err))
		return err
	}
	logger.Info("task canceled", logging.String(logging.FieldEventType, "task_canceled"))
	m.emitter.Emit(events.Event{
		Type:      events.TaskCanceled,
		TaskID:    task.ID,
		EpisodeID: task.EpisodeID,
		SourceURL: task.SourceURL,
		Detail:    queue.CanceledMessage,
	})
	m.setLastTaskStatus(task, queue.StatusFailed, queue.CanceledMessage)
	return nil
}
