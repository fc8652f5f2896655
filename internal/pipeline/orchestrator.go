package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"podscribe/internal/cache"
	"podscribe/internal/cleaning"
	"podscribe/internal/config"
	"podscribe/internal/episodes"
	"podscribe/internal/events"
	"podscribe/internal/logging"
	"podscribe/internal/segment"
	"podscribe/internal/services"
	"podscribe/internal/services/asr"
	"podscribe/internal/summary"
	"podscribe/internal/transcript"
	"podscribe/internal/usage"
)

// Stage names a pipeline step.
type Stage string

const (
	StageResolve    Stage = "resolve"
	StageProbe      Stage = "probe"
	StageSegment    Stage = "segment"
	StageTranscribe Stage = "transcribe"
	StageClean      Stage = "clean"
	StageSummarize  Stage = "summarize"
	StagePersist    Stage = "persist"
	StageIndex      Stage = "index"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageResolve, StageProbe, StageSegment, StageTranscribe, StageClean, StageSummarize, StagePersist, StageIndex}

// ErrCanceled is returned when a cancel request is observed between stages.
var ErrCanceled = errors.New("canceled by request")

// EpisodeStore is the persistence the pipeline reads and writes.
type EpisodeStore interface {
	GetByID(ctx context.Context, id int64) (*episodes.Episode, error)
	SaveArtifacts(ctx context.Context, id int64, artifacts episodes.Artifacts) error
}

// DurationProber measures audio duration in seconds.
type DurationProber interface {
	Duration(ctx context.Context, source string) (float64, error)
}

// Cleaner produces a cleaned script.
type Cleaner interface {
	Clean(ctx context.Context, in cleaning.Input, stats *usage.Collector) (cleaning.Result, error)
}

// Summarizer produces a structured summary.
type Summarizer interface {
	Generate(ctx context.Context, script string, stats *usage.Collector) (summary.Summary, error)
}

// Indexer embeds and stores an episode's script windows.
type Indexer interface {
	IndexEpisode(ctx context.Context, episodeID int64, segments []transcript.Segment, script string, stats *usage.Collector) (int, error)
}

// Deps are the collaborators of an Orchestrator. Cache and Emitter may be nil.
type Deps struct {
	Episodes    EpisodeStore
	Prober      DurationProber
	Transcriber asr.Transcriber
	Cleaner     Cleaner
	Summarizer  Summarizer
	Indexer     Indexer
	Cache       *cache.Cache
	Emitter     *events.Emitter
	Logger      *slog.Logger
}

// Settings are the numeric knobs of a run.
type Settings struct {
	FallbackDuration float64
	SegmentSeconds   float64
	Limits           segment.Limits
	Concurrency      int
	Prices           usage.Prices
}

// SettingsFromConfig reads the [asr] and pricing settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		FallbackDuration: float64(cfg.ASR.FallbackDurationSeconds),
		SegmentSeconds:   float64(cfg.ASR.SegmentSeconds),
		Limits: segment.Limits{
			MinSeconds:     float64(cfg.ASR.MinSegmentSeconds),
			MaxSeconds:     float64(cfg.ASR.MaxSegmentSeconds),
			BitrateKbps:    cfg.ASR.BitrateKbps,
			MaxUploadBytes: int64(cfg.ASR.MaxUploadMB) * 1024 * 1024,
		},
		Concurrency: cfg.ASR.Concurrency,
		Prices: usage.Prices{
			InputPerMillion:  cfg.LLM.InputPricePerMillion,
			OutputPerMillion: cfg.LLM.OutputPricePerMillion,
		},
	}
}

// RunOptions tune one run.
type RunOptions struct {
	TaskID int64
	// Method forces a cleaning strategy; empty or auto lets the selector decide.
	Method   cleaning.Method
	Critical bool
	// Refresh ignores cached artifacts and recomputes every stage.
	Refresh bool
	// Canceled reports a pending cancel request. It is consulted before
	// every stage.
	Canceled func(ctx context.Context) (bool, error)
	// Stats receives usage; a fresh collector is used when nil.
	Stats *usage.Collector
}

// Metrics are the per-run processing metrics stored with the task and episode.
type Metrics struct {
	Usage         usage.Stats `json:"usage"`
	ProbeFallback bool        `json:"probe_fallback"`
	AudioSegments int         `json:"audio_segments"`
	CachedStages  []Stage     `json:"cached_stages,omitempty"`
	FailedStage   Stage       `json:"failed_stage,omitempty"`
}

// Result summarizes a completed run.
type Result struct {
	EpisodeID          int64   `json:"episode_id"`
	SourceURL          string  `json:"source_url"`
	Title              string  `json:"title"`
	DurationSeconds    float64 `json:"duration_seconds"`
	TranscriptSegments int     `json:"transcript_segments"`
	ScriptChars        int     `json:"script_chars"`
	CleaningMethod     string  `json:"cleaning_method,omitempty"`
	CleaningReason     string  `json:"cleaning_reason,omitempty"`
	Chunks             int     `json:"chunks"`
	Metrics            Metrics `json:"-"`
}

// Orchestrator runs the stage sequence for one episode at a time. It holds no
// per-run state and is safe for concurrent use.
type Orchestrator struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger
}

// New builds an orchestrator.
func New(deps Deps, settings Settings) *Orchestrator {
	if settings.Concurrency <= 0 {
		settings.Concurrency = 1
	}
	return &Orchestrator{
		deps:     deps,
		settings: settings,
		logger:   logging.NewComponentLogger(deps.Logger, "pipeline"),
	}
}

type stageFunc func(ctx context.Context, run *runState) error

// Run executes every stage for episodeID. The returned Result carries metrics
// even when err is non-nil.
func (o *Orchestrator) Run(ctx context.Context, episodeID int64, opts RunOptions) (Result, error) {
	stats := opts.Stats
	if stats == nil {
		stats = usage.New(o.settings.Prices)
	}
	run := &runState{
		episodeID: episodeID,
		opts:      opts,
		stats:     stats,
		skip:      map[Stage]bool{},
	}
	ctx = services.WithEpisodeID(ctx, episodeID)
	if opts.TaskID > 0 {
		ctx = services.WithTaskID(ctx, opts.TaskID)
	}

	steps := []struct {
		stage Stage
		fn    stageFunc
	}{
		{StageResolve, o.resolve},
		{StageProbe, o.probe},
		{StageSegment, o.segment},
		{StageTranscribe, o.transcribe},
		{StageClean, o.clean},
		{StageSummarize, o.summarize},
		{StagePersist, o.persist},
		{StageIndex, o.index},
	}
	for _, step := range steps {
		if err := o.checkCanceled(ctx, opts); err != nil {
			return run.result(), err
		}
		if run.skip[step.stage] {
			run.cached = append(run.cached, step.stage)
			continue
		}
		if err := o.runStage(ctx, run, step.stage, step.fn); err != nil {
			run.failed = step.stage
			return run.result(), err
		}
	}
	return run.result(), nil
}

// Reindex re-runs the index stage from the stored script.
func (o *Orchestrator) Reindex(ctx context.Context, episodeID int64, stats *usage.Collector) (int, error) {
	ctx = services.WithEpisodeID(ctx, episodeID)
	episode, err := o.deps.Episodes.GetByID(ctx, episodeID)
	if err != nil {
		return 0, err
	}
	if episode == nil {
		return 0, services.Wrap(services.ErrNotFound, "index", "reindex", fmt.Sprintf("episode %d not found", episodeID), nil)
	}
	if episode.Script == "" {
		return 0, services.Wrap(services.ErrConsistency, "index", "reindex", fmt.Sprintf("episode %d has no cleaned script; process it first", episodeID), nil)
	}
	started := time.Now()
	chunks, err := o.deps.Indexer.IndexEpisode(ctx, episodeID, episode.Segments, episode.Script, stats)
	stats.RecordStage(string(StageIndex), time.Since(started))
	if err != nil {
		return 0, err
	}
	return chunks, nil
}

func (o *Orchestrator) runStage(ctx context.Context, run *runState, stage Stage, fn stageFunc) error {
	stageCtx := services.WithStage(ctx, string(stage))
	logger := logging.WithContext(stageCtx, o.logger)
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	o.deps.Emitter.Emit(events.Event{
		Type:      events.StageStarted,
		TaskID:    run.opts.TaskID,
		EpisodeID: run.episodeID,
		SourceURL: run.sourceURL(),
		Stage:     string(stage),
	})
	o.setStatus(stageCtx, run, string(stage))

	started := time.Now()
	err := fn(stageCtx, run)
	elapsed := time.Since(started)
	run.stats.RecordStage(string(stage), elapsed)
	if err != nil {
		details := services.Details(err)
		logging.ErrorWithContext(logger, "stage failed", "stage_failure",
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldErrorHint, details.Hint),
			logging.Duration("elapsed", elapsed),
			logging.Error(err),
		)
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", elapsed),
	)
	return nil
}

func (o *Orchestrator) checkCanceled(ctx context.Context, opts RunOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.Canceled == nil {
		return nil
	}
	canceled, err := opts.Canceled(ctx)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "cancel check failed", "cancel_check_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run continues; cancel requests may be observed late"),
		)
		return nil
	}
	if canceled {
		return ErrCanceled
	}
	return nil
}
