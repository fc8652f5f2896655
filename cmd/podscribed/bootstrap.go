package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"podscribe/internal/cache"
	"podscribe/internal/cleaning"
	"podscribe/internal/config"
	"podscribe/internal/daemon"
	"podscribe/internal/deps"
	"podscribe/internal/episodes"
	"podscribe/internal/events"
	"podscribe/internal/logging"
	"podscribe/internal/media/ffprobe"
	"podscribe/internal/notifications"
	"podscribe/internal/pipeline"
	"podscribe/internal/queue"
	"podscribe/internal/resilience"
	"podscribe/internal/services/asr"
	"podscribe/internal/services/llm"
	"podscribe/internal/stage"
	"podscribe/internal/summary"
	"podscribe/internal/usage"
	"podscribe/internal/vectorindex"
	"podscribe/internal/workflow"
)

const hubCapacity = 512

type pinger interface {
	Ping(ctx context.Context) error
}

// buildComponents opens every store and client the daemon runs on. On error
// whatever was already opened is closed.
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (comp daemon.Components, err error) {
	var opened []io.Closer
	defer func() {
		if err == nil {
			return
		}
		for i := len(opened) - 1; i >= 0; i-- {
			_ = opened[i].Close()
		}
	}()

	store, err := queue.Open(cfg)
	if err != nil {
		return comp, fmt.Errorf("open queue store: %w", err)
	}
	opened = append(opened, store)

	episodeStore, err := episodes.Open(cfg)
	if err != nil {
		return comp, fmt.Errorf("open episode store: %w", err)
	}
	opened = append(opened, episodeStore)

	transcriptCache, err := cache.NewFromConfig(ctx, cfg.Cache, logging.NewComponentLogger(logger, "cache"))
	if err != nil {
		return comp, fmt.Errorf("open cache: %w", err)
	}
	opened = append(opened, transcriptCache)

	index, err := vectorindex.Open(ctx, cfg, logging.NewComponentLogger(logger, "index"))
	if err != nil {
		return comp, fmt.Errorf("open vector index: %w", err)
	}
	opened = append(opened, index)

	policy := resilience.PolicyFromConfig(cfg.Workflow)
	chat := llm.NewClient(llm.Config(cfg.GetLLM()), llm.WithRetryPolicy(policy))
	embedding := cfg.Embedding
	embedder := llm.NewEmbedder(llm.Config(cfg.GetEmbedding()), embedding.Dimensions, embedding.BatchSize, llm.WithEmbedderRetryPolicy(policy))
	transcriber := asr.NewClient(cfg.ASR, asr.WithRetryPolicy(policy))
	prober := ffprobe.Prober{
		Binary:  cfg.ASR.FFprobeBinary,
		Timeout: time.Duration(cfg.ASR.ProbeTimeoutSeconds) * time.Second,
	}

	hub := events.NewHub(hubCapacity)
	emitter := events.NewEmitter(cfg.Workflow.EventBuffer, logger,
		hub,
		events.NewAccessLog(episodeStore),
		notifications.NewService(cfg),
	)

	windows := vectorindex.WindowOptions{Words: cfg.Index.WindowWords, Overlap: cfg.Index.OverlapWords}
	indexer := vectorindex.NewIndexer(index, embedder, windows, logger)
	settings := pipeline.SettingsFromConfig(cfg)
	qaUsage := usage.New(settings.Prices)
	answerer := vectorindex.NewAnswerer(index, embedder, chat, episodeStore, cfg.Index.SearchLimit, logger,
		vectorindex.WithEmitter(emitter),
		vectorindex.WithUsage(qaUsage),
	)

	orchestrator := pipeline.New(pipeline.Deps{
		Episodes:    episodeStore,
		Prober:      prober,
		Transcriber: transcriber,
		Cleaner:     cleaning.NewCleaner(chat, cleaning.OptionsFromConfig(cfg), logger),
		Summarizer:  summary.NewGenerator(chat, cfg.Summary.MaxInputChars, logger),
		Indexer:     indexer,
		Cache:       transcriptCache,
		Emitter:     emitter,
		Logger:      logger,
	}, settings)

	manager := workflow.NewManager(cfg, store, episodeStore, orchestrator, logger,
		workflow.WithEmitter(emitter),
		workflow.WithHealthChecks(healthChecks(cfg, store, index)...),
	)

	return daemon.Components{
		Store:     store,
		Episodes:  episodeStore,
		Workflow:  manager,
		Reindexer: orchestrator,
		Answerer:  answerer,
		Cache:     transcriptCache,
		Hub:       hub,
		Emitter:   emitter,
		QAUsage:   qaUsage,
		Closers:   []io.Closer{index},
	}, nil
}

// healthChecks lists the readiness checks reported by the status endpoint.
// Provider checks cost a request each, so they only run under --preflight.
func healthChecks(cfg *config.Config, store *queue.Store, index vectorindex.Index) []stage.Checker {
	checkers := []stage.Checker{
		stage.CheckFunc{Label: "queue", Check: store.Ping},
	}
	if p, ok := index.(pinger); ok {
		checkers = append(checkers, stage.CheckFunc{Label: "index", Check: p.Ping})
	}
	for _, req := range deps.Requirements(cfg) {
		checkers = append(checkers, deps.Checker(req))
	}
	return checkers
}

// runPreflight verifies external binaries and the text-generation provider
// without starting the daemon.
func runPreflight(ctx context.Context, cfg *config.Config, out io.Writer) error {
	var failed []string
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		switch {
		case status.Available:
			fmt.Fprintf(out, "%-10s ok (%s)\n", status.Name, status.Command)
		case status.Optional:
			fmt.Fprintf(out, "%-10s missing, optional: %s\n", status.Name, status.Detail)
		default:
			fmt.Fprintf(out, "%-10s missing: %s\n", status.Name, status.Detail)
			failed = append(failed, status.Name)
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	chat := llm.NewClient(llm.Config(cfg.GetLLM()))
	if err := chat.HealthCheck(checkCtx); err != nil {
		fmt.Fprintf(out, "%-10s failed: %v\n", "llm", err)
		failed = append(failed, "llm")
	} else {
		fmt.Fprintf(out, "%-10s ok (%s)\n", "llm", chat.Model())
	}

	if len(failed) > 0 {
		return errors.New("preflight failed: " + strings.Join(failed, ", "))
	}
	return nil
}
