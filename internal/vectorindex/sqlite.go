package vectorindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"podscribe/internal/database"
)

const sqliteSchemaVersion = 1

const sqliteSchema = `CREATE TABLE IF NOT EXISTS transcript_chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    episode_id INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    start_seconds REAL NOT NULL,
    end_seconds REAL NOT NULL,
    text TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcript_chunks_episode ON transcript_chunks(episode_id, seq);`

// SQLiteIndex keeps embeddings as little-endian float32 blobs and scans them
// for every query.
type SQLiteIndex struct {
	db *database.DB
}

// OpenSQLite opens or creates the index database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteIndex, error) {
	db, err := database.Open(ctx, path, database.Schema{Name: "index", Version: sqliteSchemaVersion, SQL: sqliteSchema})
	if err != nil {
		return nil, err
	}
	return &SQLiteIndex{db: db}, nil
}

// EnsureIndexSetup re-applies the idempotent schema.
func (s *SQLiteIndex) EnsureIndexSetup(ctx context.Context) error {
	if _, err := s.db.ExecWithRetry(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("ensure index schema: %w", err)
	}
	return nil
}

// ReplaceEpisodeChunks deletes and inserts in one transaction.
func (s *SQLiteIndex) ReplaceEpisodeChunks(ctx context.Context, episodeID int64, chunks []Chunk) error {
	if err := validateChunks(episodeID, chunks); err != nil {
		return err
	}
	return database.RetryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin replace chunks: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_chunks WHERE episode_id = ?`, episodeID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO transcript_chunks (episode_id, seq, start_seconds, end_seconds, text, dimensions, embedding)
             VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()
		for i, chunk := range chunks {
			if _, err := stmt.ExecContext(ctx, episodeID, i, chunk.Start, chunk.End, chunk.Text, len(chunk.Embedding), encodeVector(chunk.Embedding)); err != nil {
				return fmt.Errorf("insert chunk %d: %w", i, err)
			}
		}
		return tx.Commit()
	})
}

// Search scans the candidate rows and ranks them by cosine distance.
func (s *SQLiteIndex) Search(ctx context.Context, episodeID int64, query []float32, limit int) ([]Match, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}
	sqlText := `SELECT id, episode_id, seq, start_seconds, end_seconds, text, dimensions, embedding FROM transcript_chunks`
	var args []any
	if episodeID > 0 {
		sqlText += ` WHERE episode_id = ?`
		args = append(args, episodeID)
	}
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			dims int
			blob []byte
		)
		if err := rows.Scan(&m.ID, &m.EpisodeID, &m.Seq, &m.Start, &m.End, &m.Text, &dims, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if dims != len(query) {
			continue
		}
		m.Embedding = decodeVector(blob)
		m.Distance = CosineDistance(query, m.Embedding)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// ChunkCount returns the number of stored chunks for an episode (0 = all).
func (s *SQLiteIndex) ChunkCount(ctx context.Context, episodeID int64) (int, error) {
	sqlText := `SELECT COUNT(1) FROM transcript_chunks`
	var args []any
	if episodeID > 0 {
		sqlText += ` WHERE episode_id = ?`
		args = append(args, episodeID)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
