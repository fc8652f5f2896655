package episodes

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/database"
	"podscribe/internal/transcript"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const episodeColumns = "id, source_url, title, segments_json, script, summary_json, duration_seconds, cleaning_method, metrics_json, created_at, updated_at"

// Episode is the persisted record for one source URL.
type Episode struct {
	ID              int64                `json:"id"`
	SourceURL       string               `json:"source_url"`
	Title           string               `json:"title"`
	Segments        []transcript.Segment `json:"segments,omitempty"`
	Script          string               `json:"script,omitempty"`
	Summary         json.RawMessage      `json:"summary,omitempty"`
	DurationSeconds float64              `json:"duration_seconds"`
	CleaningMethod  string               `json:"cleaning_method,omitempty"`
	Metrics         json.RawMessage      `json:"metrics,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Artifacts are the outputs of one pipeline run.
type Artifacts struct {
	Title           string
	Segments        []transcript.Segment
	Script          string
	Summary         json.RawMessage
	DurationSeconds float64
	CleaningMethod  string
	Metrics         any
}

// AccessEvent is one row of the access log.
type AccessEvent struct {
	Type      string    `json:"type"`
	EpisodeID int64     `json:"episode_id,omitempty"`
	TaskID    int64     `json:"task_id,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Store manages episode persistence.
type Store struct {
	db *database.DB
}

// Open initializes or connects to the episode database under the data directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(context.Background(), cfg.EpisodesDBPath())
}

// OpenPath opens the episode database at an explicit location.
func OpenPath(ctx context.Context, dbPath string) (*Store, error) {
	db, err := database.Open(ctx, dbPath, database.Schema{Name: "episodes", Version: schemaVersion, SQL: schemaSQL})
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

// Ensure returns the episode for sourceURL, creating it when absent.
func (s *Store) Ensure(ctx context.Context, sourceURL string) (*Episode, error) {
	ctx = database.EnsureContext(ctx)
	sourceURL = strings.TrimSpace(sourceURL)
	if existing, err := s.GetByURL(ctx, sourceURL); err != nil || existing != nil {
		return existing, err
	}

	timestamp := database.FormatTime(time.Now())
	_, err := s.db.ExecWithRetry(
		ctx,
		`INSERT INTO episodes (source_url, title, created_at, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(source_url) DO NOTHING`,
		sourceURL, TitleFromURL(sourceURL), timestamp, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert episode: %w", err)
	}
	episode, err := s.GetByURL(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	if episode == nil {
		return nil, fmt.Errorf("episode for %s missing after insert", sourceURL)
	}
	return episode, nil
}

// GetByID fetches an episode; nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Episode, error) {
	ctx = database.EnsureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	return scanOptional(row, "get episode")
}

// GetByURL fetches an episode by source URL; nil when absent.
func (s *Store) GetByURL(ctx context.Context, sourceURL string) (*Episode, error) {
	ctx = database.EnsureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE source_url = ?`, strings.TrimSpace(sourceURL))
	return scanOptional(row, "get episode by url")
}

// Titles returns the titles for the requested episode IDs.
func (s *Store) Titles(ctx context.Context, ids []int64) (map[int64]string, error) {
	ctx = database.EnsureContext(ctx)
	titles := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM episodes WHERE id IN (`+database.Placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("episode titles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scan episode title: %w", err)
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

// SaveArtifacts overwrites the episode's pipeline outputs. Empty fields keep
// their stored values so a partial run never erases earlier artifacts.
func (s *Store) SaveArtifacts(ctx context.Context, id int64, artifacts Artifacts) error {
	ctx = database.EnsureContext(ctx)
	var segmentsValue any
	if len(artifacts.Segments) > 0 {
		data, err := json.Marshal(artifacts.Segments)
		if err != nil {
			return fmt.Errorf("encode segments: %w", err)
		}
		segmentsValue = string(data)
	}
	var summaryValue any
	if len(artifacts.Summary) > 0 {
		summaryValue = string(artifacts.Summary)
	}
	var metricsValue any
	if artifacts.Metrics != nil {
		data, err := json.Marshal(artifacts.Metrics)
		if err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
		metricsValue = string(data)
	}
	var durationValue any
	if artifacts.DurationSeconds > 0 {
		durationValue = artifacts.DurationSeconds
	}

	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE episodes
         SET title = COALESCE(?, title),
             segments_json = COALESCE(?, segments_json),
             script = COALESCE(?, script),
             summary_json = COALESCE(?, summary_json),
             duration_seconds = COALESCE(?, duration_seconds),
             cleaning_method = COALESCE(?, cleaning_method),
             metrics_json = COALESCE(?, metrics_json),
             updated_at = ?
         WHERE id = ?`,
		database.NullableString(artifacts.Title),
		segmentsValue,
		database.NullableString(artifacts.Script),
		summaryValue,
		durationValue,
		database.NullableString(artifacts.CleaningMethod),
		metricsValue,
		database.FormatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("save episode artifacts: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("episode %d not found", id)
	}
	return nil
}

// RecordAccess appends an event to the access log.
func (s *Store) RecordAccess(ctx context.Context, event AccessEvent) error {
	ctx = database.EnsureContext(ctx)
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	var episodeID, taskID any
	if event.EpisodeID > 0 {
		episodeID = event.EpisodeID
	}
	if event.TaskID > 0 {
		taskID = event.TaskID
	}
	_, err := s.db.ExecWithRetry(
		ctx,
		`INSERT INTO access_events (event_type, episode_id, task_id, source_url, detail, occurred_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		event.Type, episodeID, taskID,
		database.NullableString(event.SourceURL),
		database.NullableString(event.Detail),
		database.FormatTime(at),
	)
	if err != nil {
		return fmt.Errorf("record access event: %w", err)
	}
	return nil
}

// AccessLog returns recent access events for an episode (0 = all), newest first.
func (s *Store) AccessLog(ctx context.Context, episodeID int64, limit int) ([]AccessEvent, error) {
	ctx = database.EnsureContext(ctx)
	query := `SELECT event_type, episode_id, task_id, source_url, detail, occurred_at FROM access_events`
	var args []any
	if episodeID > 0 {
		query += ` WHERE episode_id = ?`
		args = append(args, episodeID)
	}
	query += ` ORDER BY occurred_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read access log: %w", err)
	}
	defer rows.Close()

	var events []AccessEvent
	for rows.Next() {
		var (
			event     AccessEvent
			episode   sql.NullInt64
			task      sql.NullInt64
			sourceURL sql.NullString
			detail    sql.NullString
			at        string
		)
		if err := rows.Scan(&event.Type, &episode, &task, &sourceURL, &detail, &at); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		event.EpisodeID = episode.Int64
		event.TaskID = task.Int64
		event.SourceURL = sourceURL.String
		event.Detail = detail.String
		event.At = database.ParseTime(at)
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanOptional(row *sql.Row, op string) (*Episode, error) {
	episode, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return episode, nil
}

func scanEpisode(scanner interface{ Scan(dest ...any) error }) (*Episode, error) {
	var (
		episode    Episode
		segments   sql.NullString
		script     sql.NullString
		summary    sql.NullString
		method     sql.NullString
		metrics    sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&episode.ID,
		&episode.SourceURL,
		&episode.Title,
		&segments,
		&script,
		&summary,
		&episode.DurationSeconds,
		&method,
		&metrics,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	if segments.Valid && segments.String != "" {
		if err := json.Unmarshal([]byte(segments.String), &episode.Segments); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	}
	episode.Script = script.String
	if summary.Valid && summary.String != "" {
		episode.Summary = json.RawMessage(summary.String)
	}
	episode.CleaningMethod = method.String
	if metrics.Valid && metrics.String != "" {
		episode.Metrics = json.RawMessage(metrics.String)
	}
	episode.CreatedAt = database.ParseTime(createdRaw)
	episode.UpdatedAt = database.ParseTime(updatedRaw)
	return &episode, nil
}

// TitleFromURL derives a readable placeholder title from the URL's last path
// element.
func TitleFromURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
		return strings.TrimSpace(raw)
	}
	base := path.Base(parsed.Path)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	base = strings.Join(strings.Fields(base), " ")
	if base == "" {
		return parsed.Host
	}
	return base
}
