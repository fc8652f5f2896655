package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/database"
)

const taskColumns = "id, type, status, source_url, requester, episode_id, result_json, error_message, metrics_json, cancel_requested, created_at, updated_at, started_at, completed_at, last_heartbeat"

// Store manages task persistence backed by SQLite.
type Store struct {
	db *database.DB
}

// Open initializes or connects to the queue database under the data directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(context.Background(), cfg.QueueDBPath())
}

// OpenPath opens the queue database at an explicit location.
func OpenPath(ctx context.Context, path string) (*Store, error) {
	db, err := database.Open(ctx, path, schema)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.db.Path()
}

// Ping verifies the database answers queries.
func (s *Store) Ping(ctx context.Context) error {
	ctx = database.EnsureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM tasks").Scan(&count); err != nil {
		return fmt.Errorf("ping queue database: %w", err)
	}
	return nil
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		task         Task
		status       string
		requester    sql.NullString
		episodeID    sql.NullInt64
		result       sql.NullString
		errorMessage sql.NullString
		metrics      sql.NullString
		cancel       int
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		heartbeatRaw sql.NullString
	)
	if err := scanner.Scan(
		&task.ID,
		&task.Type,
		&status,
		&task.SourceURL,
		&requester,
		&episodeID,
		&result,
		&errorMessage,
		&metrics,
		&cancel,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.Requester = requester.String
	task.EpisodeID = episodeID.Int64
	task.ResultJSON = result.String
	task.ErrorMessage = errorMessage.String
	task.MetricsJSON = metrics.String
	task.CancelRequested = cancel != 0
	task.CreatedAt = database.ParseTime(createdRaw)
	task.UpdatedAt = database.ParseTime(updatedRaw)
	task.StartedAt = database.ParseTime(startedRaw.String)
	task.CompletedAt = database.ParseTime(completedRaw.String)
	task.LastHeartbeat = database.ParseTime(heartbeatRaw.String)
	return &task, nil
}

func marshalOptional(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case string:
		return database.NullableString(v), nil
	case json.RawMessage:
		if len(v) == 0 {
			return nil, nil
		}
		return string(v), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}

func now() string {
	return database.FormatTime(time.Now())
}

func normalizeURL(raw string) string {
	return strings.TrimSpace(raw)
}
