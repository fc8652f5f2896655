package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"podscribe/internal/database"
	"podscribe/internal/services"
)

// ValidateInput rejects malformed submissions before they reach the queue.
func ValidateInput(taskType string, input Input) error {
	if taskType != "" && taskType != TypeEpisode {
		return services.Wrap(services.ErrValidation, "queue", "add task",
			fmt.Sprintf("unsupported task type %q", taskType), nil)
	}
	raw := normalizeURL(input.SourceURL)
	if raw == "" {
		return services.Wrap(services.ErrValidation, "queue", "add task", "source_url is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return services.Wrap(services.ErrValidation, "queue", "add task", "source_url is not a valid URL", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return services.Wrap(services.ErrValidation, "queue", "add task",
			"source_url must be an absolute http or https URL", nil)
	}
	return nil
}

// AddTask enqueues a PENDING task for the input URL. When a task for the same
// URL is still PENDING or RUNNING, that task is returned with created=false.
func (s *Store) AddTask(ctx context.Context, taskType string, input Input) (*Task, bool, error) {
	ctx = database.EnsureContext(ctx)
	if err := ValidateInput(taskType, input); err != nil {
		return nil, false, err
	}
	if taskType == "" {
		taskType = TypeEpisode
	}
	sourceURL := normalizeURL(input.SourceURL)

	existing, err := s.activeTaskForURL(ctx, sourceURL)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	timestamp := now()
	res, err := s.db.ExecWithRetry(
		ctx,
		`INSERT INTO tasks (type, status, source_url, requester, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		taskType,
		StatusPending,
		sourceURL,
		database.NullableString(input.Requester),
		timestamp,
		timestamp,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			// Lost the race to a concurrent submission for the same URL.
			winner, lookupErr := s.activeTaskForURL(ctx, sourceURL)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			if winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return task, true, nil
}

func (s *Store) activeTaskForURL(ctx context.Context, sourceURL string) (*Task, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE source_url = ? AND status IN (?, ?) ORDER BY id LIMIT 1`,
		sourceURL, StatusPending, StatusRunning,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active task: %w", err)
	}
	return task, nil
}

// GetTask fetches a task by identifier; nil when absent.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	ctx = database.EnsureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// GetTaskByURL returns the most recent task for the URL; nil when none exists.
func (s *Store) GetTaskByURL(ctx context.Context, sourceURL string) (*Task, error) {
	ctx = database.EnsureContext(ctx)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE source_url = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		normalizeURL(sourceURL),
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task by url: %w", err)
	}
	return task, nil
}

// List returns tasks newest first, optionally filtered by status. A limit of
// zero returns every match.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]Task, error) {
	ctx = database.EnsureContext(ctx)
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + database.Placeholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// QueueStatus returns task counts for every status, zero-filled.
func (s *Store) QueueStatus(ctx context.Context) (StatusCounts, error) {
	ctx = database.EnsureContext(ctx)
	counts := make(StatusCounts, len(AllStatuses))
	for _, status := range AllStatuses {
		counts[status] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue status: %w", err)
		}
		counts[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue status: %w", err)
	}
	return counts, nil
}
