package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"podscribe/internal/cache"
	"podscribe/internal/cleaning"
	"podscribe/internal/episodes"
	"podscribe/internal/logging"
	"podscribe/internal/segment"
	"podscribe/internal/services"
	"podscribe/internal/services/asr"
	"podscribe/internal/summary"
	"podscribe/internal/transcript"
	"podscribe/internal/usage"
)

// runState is the data flowing between stages of one run.
type runState struct {
	episodeID int64
	opts      RunOptions
	stats     *usage.Collector
	skip      map[Stage]bool
	cached    []Stage
	failed    Stage

	episode       *episodes.Episode
	duration      float64
	probeFallback bool
	plan          []segment.Segment
	segments      []transcript.Segment
	script        string
	cleaning      *cleaning.Result
	summary       *summary.Summary
	chunks        int
}

// cachedScript is the cache payload for the clean stage.
type cachedScript struct {
	Script   string          `json:"script"`
	Cleaning cleaning.Result `json:"cleaning"`
}

func (r *runState) sourceURL() string {
	if r.episode == nil {
		return ""
	}
	return r.episode.SourceURL
}

func (r *runState) metrics() Metrics {
	return Metrics{
		Usage:         r.stats.Snapshot(),
		ProbeFallback: r.probeFallback,
		AudioSegments: len(r.plan),
		CachedStages:  append([]Stage(nil), r.cached...),
		FailedStage:   r.failed,
	}
}

func (r *runState) result() Result {
	res := Result{
		EpisodeID:          r.episodeID,
		SourceURL:          r.sourceURL(),
		DurationSeconds:    r.duration,
		TranscriptSegments: len(r.segments),
		ScriptChars:        len(r.script),
		Chunks:             r.chunks,
		Metrics:            r.metrics(),
	}
	if r.episode != nil {
		res.Title = r.episode.Title
	}
	if r.summary != nil && r.summary.Title != "" {
		res.Title = r.summary.Title
	}
	if r.cleaning != nil {
		res.CleaningMethod = string(r.cleaning.Method)
		res.CleaningReason = r.cleaning.Reason
	}
	return res
}

func (o *Orchestrator) resolve(ctx context.Context, run *runState) error {
	episode, err := o.deps.Episodes.GetByID(ctx, run.episodeID)
	if err != nil {
		return services.Wrap(services.ErrConsistency, string(StageResolve), "load episode", "Failed to load episode record", err)
	}
	if episode == nil {
		return services.Wrap(services.ErrNotFound, string(StageResolve), "load episode", fmt.Sprintf("episode %d not found", run.episodeID), nil)
	}
	run.episode = episode
	if run.opts.Refresh {
		return nil
	}

	o.reuseArtifacts(ctx, run)
	return nil
}

// reuseArtifacts marks stages whose output already exists. The cache is
// consulted first, then the stored episode record, which outlives an
// in-process cache; record hits are written back to the cache. Reuse stops
// at the first missing artifact since later stages depend on earlier ones.
func (o *Orchestrator) reuseArtifacts(ctx context.Context, run *runState) {
	episode := run.episode
	url := episode.SourceURL

	var segments []transcript.Segment
	switch {
	case o.cacheGetJSON(ctx, run, cache.TranscriptKey(url), &segments) && len(segments) > 0:
	case len(episode.Segments) > 0:
		segments = episode.Segments
		o.cacheSetJSON(ctx, cache.TranscriptKey(url), segments)
	default:
		return
	}
	run.segments = segments
	_, run.duration = transcript.Span(segments)
	if episode.DurationSeconds > 0 {
		run.duration = episode.DurationSeconds
	}
	run.skip[StageProbe] = true
	run.skip[StageSegment] = true
	run.skip[StageTranscribe] = true

	var script cachedScript
	switch {
	case o.cacheGetJSON(ctx, run, cache.ScriptKey(url), &script) && script.Script != "":
	case episode.Script != "":
		script = cachedScript{
			Script: episode.Script,
			Cleaning: cleaning.Result{
				Script: episode.Script,
				Method: cleaning.Method(episode.CleaningMethod),
				Reason: "stored script reused",
			},
		}
		o.cacheSetJSON(ctx, cache.ScriptKey(url), script)
	default:
		return
	}
	run.script = script.Script
	result := script.Cleaning
	result.Script = script.Script
	run.cleaning = &result
	run.skip[StageClean] = true

	var stored summary.Summary
	switch {
	case o.cacheGetJSON(ctx, run, cache.SummaryKey(url), &stored) && stored.Overview != "":
	case len(episode.Summary) > 0 && json.Unmarshal(episode.Summary, &stored) == nil && stored.Overview != "":
		o.cacheSetJSON(ctx, cache.SummaryKey(url), stored)
	default:
		return
	}
	run.summary = &stored
	run.skip[StageSummarize] = true
}

func (o *Orchestrator) probe(ctx context.Context, run *runState) error {
	duration, err := o.deps.Prober.Duration(ctx, run.episode.SourceURL)
	if err == nil && duration > 0 {
		run.duration = duration
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if o.settings.FallbackDuration <= 0 {
		return services.Wrap(services.ErrUpstream, string(StageProbe), "probe duration", "Audio duration unavailable and no fallback configured", err)
	}
	attrs := []logging.Attr{
		logging.Float64("fallback_seconds", o.settings.FallbackDuration),
		logging.String(logging.FieldImpact, "segment plan assumes the fallback duration; trailing audio may be skipped"),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	logging.WarnWithContext(logging.WithContext(ctx, o.logger), "duration probe failed; using fallback", "probe_fallback", attrs...)
	run.duration = o.settings.FallbackDuration
	run.probeFallback = true
	return nil
}

func (o *Orchestrator) segment(_ context.Context, run *runState) error {
	plan, err := segment.Plan(run.duration, o.settings.SegmentSeconds, o.settings.Limits)
	if err != nil {
		return services.Wrap(services.ErrValidation, string(StageSegment), "plan segments", "Failed to plan audio segments", err)
	}
	if len(plan) == 0 {
		return services.Wrap(services.ErrValidation, string(StageSegment), "plan segments", "Audio produced no segments", nil)
	}
	run.plan = plan
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, run *runState) error {
	parts := make([]transcript.Part, len(run.plan))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.settings.Concurrency)
	for i, seg := range run.plan {
		group.Go(func() error {
			part, err := o.deps.Transcriber.Transcribe(groupCtx, asr.Request{
				AudioURL: run.episode.SourceURL,
				Start:    seg.Start,
				Duration: seg.Duration,
			})
			run.stats.RecordASR(seg.Duration, err)
			if err != nil {
				return err
			}
			parts[i] = part
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	merged := transcript.Merge(parts)
	if len(merged) == 0 {
		return services.Wrap(services.ErrUpstream, string(StageTranscribe), "merge segments", "Speech recognition returned no text", nil)
	}
	run.segments = merged
	o.cacheSetJSON(ctx, cache.TranscriptKey(run.episode.SourceURL), merged)
	return nil
}

func (o *Orchestrator) clean(ctx context.Context, run *runState) error {
	result, err := o.deps.Cleaner.Clean(ctx, cleaning.Input{
		Segments: run.segments,
		Method:   run.opts.Method,
		Critical: run.opts.Critical,
	}, run.stats)
	if err != nil {
		return err
	}
	run.script = result.Script
	run.cleaning = &result
	o.cacheSetJSON(ctx, cache.ScriptKey(run.episode.SourceURL), cachedScript{Script: result.Script, Cleaning: result})
	return nil
}

func (o *Orchestrator) summarize(ctx context.Context, run *runState) error {
	generated, err := o.deps.Summarizer.Generate(ctx, run.script, run.stats)
	if err != nil {
		return err
	}
	run.summary = &generated
	o.cacheSetJSON(ctx, cache.SummaryKey(run.episode.SourceURL), generated)
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, run *runState) error {
	artifacts := episodes.Artifacts{
		Segments:        run.segments,
		Script:          run.script,
		DurationSeconds: run.duration,
		Metrics:         run.metrics(),
	}
	if run.cleaning != nil {
		artifacts.CleaningMethod = string(run.cleaning.Method)
	}
	if run.summary != nil {
		raw, err := json.Marshal(run.summary)
		if err != nil {
			return services.Wrap(services.ErrConsistency, string(StagePersist), "encode summary", "Failed to encode summary", err)
		}
		artifacts.Summary = raw
		artifacts.Title = run.summary.Title
	}
	if err := o.deps.Episodes.SaveArtifacts(ctx, run.episodeID, artifacts); err != nil {
		return services.Wrap(services.ErrConsistency, string(StagePersist), "save artifacts", "Failed to persist episode artifacts", err)
	}
	return nil
}

func (o *Orchestrator) index(ctx context.Context, run *runState) error {
	chunks, err := o.deps.Indexer.IndexEpisode(ctx, run.episodeID, run.segments, run.script, run.stats)
	if err != nil {
		return err
	}
	run.chunks = chunks
	o.setStatus(ctx, run, "ready")
	return nil
}

func (o *Orchestrator) setStatus(ctx context.Context, run *runState, status string) {
	if o.deps.Cache == nil || run.episode == nil {
		return
	}
	o.deps.Cache.Set(ctx, cache.StatusKey(run.episode.SourceURL), []byte(status), 0)
}

func (o *Orchestrator) cacheGetJSON(ctx context.Context, run *runState, key string, dst any) bool {
	if o.deps.Cache == nil {
		return false
	}
	hit := o.deps.Cache.GetJSON(ctx, key, dst)
	run.stats.RecordCache(hit)
	return hit
}

func (o *Orchestrator) cacheSetJSON(ctx context.Context, key string, value any) {
	if o.deps.Cache == nil {
		return
	}
	if err := o.deps.Cache.SetJSON(ctx, key, value, 0); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "cache write failed", "cache_write_failed",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "a rerun recomputes this artifact"),
		)
	}
}
