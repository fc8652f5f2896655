package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"podscribe/internal/logging"
	"podscribe/internal/services"
)

// PostgresConfig configures the pgvector backend.
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	Dimensions  int
	DialTimeout time.Duration
}

// PostgresIndex stores chunks in a pgvector column with an HNSW cosine index.
type PostgresIndex struct {
	pool       *pgxpool.Pool
	dimensions int
	logger     *slog.Logger
}

// OpenPostgres connects a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresIndex, error) {
	logger = logging.NewComponentLogger(logger, "vectorindex")
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "index", "open", "index.dsn is required for the postgres backend", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "index", "open", "embedding dimensions must be positive", nil)
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "index", "open", "invalid index dsn", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MaxConnIdleTime = 5 * time.Minute
	pc.ConnConfig.RuntimeParams["application_name"] = "podscribe"

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, services.Wrap(services.ErrUpstream, "index", "open", "connect to postgres", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, services.Wrap(services.ErrUpstream, "index", "open", "ping postgres", err)
	}
	logger.Info("connected to vector index", logging.String("backend", "postgres"), logging.Int("dimensions", cfg.Dimensions))
	return &PostgresIndex{pool: pool, dimensions: cfg.Dimensions, logger: logger}, nil
}

// EnsureIndexSetup creates the extension, table, and indexes when absent.
func (p *PostgresIndex) EnsureIndexSetup(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS transcript_chunks (
    id BIGSERIAL PRIMARY KEY,
    episode_id BIGINT NOT NULL,
    seq INTEGER NOT NULL,
    start_seconds DOUBLE PRECISION NOT NULL,
    end_seconds DOUBLE PRECISION NOT NULL,
    text TEXT NOT NULL,
    embedding vector(%d) NOT NULL
)`, p.dimensions),
		`CREATE INDEX IF NOT EXISTS transcript_chunks_episode_idx ON transcript_chunks (episode_id, seq)`,
		`CREATE INDEX IF NOT EXISTS transcript_chunks_embedding_idx ON transcript_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure index setup: %w", err)
		}
	}
	return nil
}

// ReplaceEpisodeChunks deletes and batch-inserts in one transaction.
func (p *PostgresIndex) ReplaceEpisodeChunks(ctx context.Context, episodeID int64, chunks []Chunk) error {
	if err := validateChunks(episodeID, chunks); err != nil {
		return err
	}
	for i, chunk := range chunks {
		if len(chunk.Embedding) != p.dimensions {
			return services.Wrap(services.ErrConsistency, "index", "replace",
				fmt.Sprintf("chunk %d has %d dimensions; column expects %d", i, len(chunk.Embedding), p.dimensions), nil)
		}
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM transcript_chunks WHERE episode_id = $1`, episodeID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for i, chunk := range chunks {
			batch.Queue(
				`INSERT INTO transcript_chunks (episode_id, seq, start_seconds, end_seconds, text, embedding)
                 VALUES ($1, $2, $3, $4, $5, $6::vector)`,
				episodeID, i, chunk.Start, chunk.End, chunk.Text, vectorLiteral(chunk.Embedding),
			)
		}
		results := tx.SendBatch(ctx, batch)
		for i := range chunks {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert chunk %d: %w", i, err)
			}
		}
		return results.Close()
	})
}

// Search orders by the pgvector cosine distance operator.
func (p *PostgresIndex) Search(ctx context.Context, episodeID int64, query []float32, limit int) ([]Match, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, episode_id, seq, start_seconds, end_seconds, text, embedding <=> $1::vector AS distance
         FROM transcript_chunks
         WHERE $2::bigint = 0 OR episode_id = $2::bigint
         ORDER BY distance, id
         LIMIT $3`,
		vectorLiteral(query), episodeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.EpisodeID, &m.Seq, &m.Start, &m.End, &m.Text, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return matches, nil
}

// Ping checks connectivity.
func (p *PostgresIndex) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *PostgresIndex) Close() error {
	if p == nil || p.pool == nil {
		return nil
	}
	p.pool.Close()
	return nil
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
