package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/transcript"
	"podscribe/internal/usage"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Indexer re-chunks, embeds, and stores an episode's script.
type Indexer struct {
	index    Index
	embedder Embedder
	opts     WindowOptions
	logger   *slog.Logger
}

// NewIndexer builds an indexer.
func NewIndexer(index Index, embedder Embedder, opts WindowOptions, logger *slog.Logger) *Indexer {
	return &Indexer{
		index:    index,
		embedder: embedder,
		opts:     opts.normalized(),
		logger:   logging.NewComponentLogger(logger, "vectorindex"),
	}
}

// IndexEpisode replaces the episode's chunks and returns how many were stored.
func (ix *Indexer) IndexEpisode(ctx context.Context, episodeID int64, segments []transcript.Segment, script string, stats *usage.Collector) (int, error) {
	if strings.TrimSpace(script) == "" {
		return 0, services.Wrap(services.ErrConsistency, "index", "episode", fmt.Sprintf("episode %d has no cleaned script", episodeID), nil)
	}
	chunks := Windows(segments, script, ix.opts)
	inputs := make([]string, len(chunks))
	for i, chunk := range chunks {
		inputs[i] = chunk.Text
	}
	vectors, err := ix.embedder.Embed(ctx, inputs)
	stats.RecordEmbedding(len(inputs))
	if err != nil {
		return 0, fmt.Errorf("embed windows: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, services.Wrap(services.ErrUpstream, "index", "embed", fmt.Sprintf("got %d embeddings for %d windows", len(vectors), len(chunks)), nil)
	}
	for i := range chunks {
		chunks[i].EpisodeID = episodeID
		chunks[i].Embedding = vectors[i]
	}
	if err := ix.index.ReplaceEpisodeChunks(ctx, episodeID, chunks); err != nil {
		return 0, err
	}
	ix.logger.Info("episode indexed",
		logging.Int64(logging.FieldEpisodeID, episodeID),
		logging.Int("chunks", len(chunks)),
		logging.Int("window_words", ix.opts.Words),
		logging.Int("overlap_words", ix.opts.Overlap),
	)
	return len(chunks), nil
}
