// Package vectorindex stores embedded transcript windows and answers
// questions from the nearest ones.
//
// Two backends implement Index: SQLite with brute-force cosine distance for
// single-host deployments, and PostgreSQL with pgvector for larger corpora.
// Windows re-chunks a cleaned script into time-aligned overlapping windows,
// Indexer embeds and stores them, and Answerer retrieves and grounds answers
// with citations.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"podscribe/internal/config"
	"podscribe/internal/services"
)

// Chunk is one embedded transcript window.
type Chunk struct {
	ID        int64     `json:"id"`
	EpisodeID int64     `json:"episode_id"`
	Seq       int       `json:"seq"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// Match is a search hit. Distance is cosine distance (0 = identical).
type Match struct {
	Chunk
	Distance float64 `json:"distance"`
}

// Index is the storage contract shared by both backends.
type Index interface {
	// EnsureIndexSetup creates storage only when absent; it is safe to call
	// repeatedly.
	EnsureIndexSetup(ctx context.Context) error
	// ReplaceEpisodeChunks atomically supersedes every chunk of an episode.
	ReplaceEpisodeChunks(ctx context.Context, episodeID int64, chunks []Chunk) error
	// Search returns up to limit chunks ordered by ascending distance.
	// episodeID 0 searches every episode.
	Search(ctx context.Context, episodeID int64, query []float32, limit int) ([]Match, error)
	Close() error
}

// Open builds the configured backend and ensures its storage exists.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Index, error) {
	var (
		index Index
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Index.Backend)) {
	case "", "sqlite":
		index, err = OpenSQLite(ctx, cfg.IndexDBPath())
	case "postgres":
		index, err = OpenPostgres(ctx, PostgresConfig{
			DSN:        cfg.Index.DSN,
			MaxConns:   int32(cfg.Index.MaxConns),
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "index", "open", fmt.Sprintf("unknown index backend %q", cfg.Index.Backend), nil)
	}
	if err != nil {
		return nil, err
	}
	if err := index.EnsureIndexSetup(ctx); err != nil {
		_ = index.Close()
		return nil, err
	}
	return index, nil
}

// CosineDistance returns 1 - cos(a, b). Mismatched or zero vectors are
// maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
}

func validateChunks(episodeID int64, chunks []Chunk) error {
	if episodeID <= 0 {
		return services.Wrap(services.ErrValidation, "index", "replace", "episode id required", nil)
	}
	dims := -1
	for i, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return services.Wrap(services.ErrConsistency, "index", "replace", fmt.Sprintf("chunk %d has no embedding", i), nil)
		}
		if dims >= 0 && len(chunk.Embedding) != dims {
			return services.Wrap(services.ErrConsistency, "index", "replace", fmt.Sprintf("chunk %d has %d dimensions, expected %d", i, len(chunk.Embedding), dims), nil)
		}
		dims = len(chunk.Embedding)
	}
	return nil
}
