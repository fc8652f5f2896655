package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"podscribe/internal/cache"
	"podscribe/internal/cleaning"
	"podscribe/internal/episodes"
	"podscribe/internal/segment"
	"podscribe/internal/services"
	"podscribe/internal/services/asr"
	"podscribe/internal/summary"
	"podscribe/internal/testsupport"
	"podscribe/internal/transcript"
	"podscribe/internal/usage"
)

type fakeProber struct {
	duration float64
	err      error
}

func (p fakeProber) Duration(context.Context, string) (float64, error) {
	return p.duration, p.err
}

type fakeTranscriber struct {
	mu       sync.Mutex
	requests []asr.Request
	failAt   float64
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req asr.Request) (transcript.Part, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.failAt > 0 && req.Start == f.failAt {
		return transcript.Part{}, services.Wrap(services.ErrUpstream, "transcribe", "asr", "provider unavailable", nil)
	}
	return transcript.Part{
		Offset: req.Start,
		Segments: []transcript.Segment{{
			Start: req.Start,
			End:   req.Start + req.Duration,
			Text:  fmt.Sprintf("words from %.0f", req.Start),
		}},
	}, nil
}

func (f *fakeTranscriber) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeCleaner struct {
	calls atomic.Int32
	last  cleaning.Input
}

func (f *fakeCleaner) Clean(_ context.Context, in cleaning.Input, _ *usage.Collector) (cleaning.Result, error) {
	f.calls.Add(1)
	f.last = in
	script := strings.ToUpper(transcript.Text(in.Segments))
	return cleaning.Result{Script: script, Method: cleaning.MethodWhole, Rule: "fits-whole", Reason: "fits"}, nil
}

type fakeSummarizer struct {
	calls atomic.Int32
}

func (f *fakeSummarizer) Generate(context.Context, string, *usage.Collector) (summary.Summary, error) {
	f.calls.Add(1)
	return summary.Summary{Title: "Garage Origins", Overview: "How it started.", KeyPoints: []string{"started in a garage"}}, nil
}

type fakeIndexer struct {
	calls  atomic.Int32
	script string
}

func (f *fakeIndexer) IndexEpisode(_ context.Context, _ int64, _ []transcript.Segment, script string, _ *usage.Collector) (int, error) {
	f.calls.Add(1)
	f.script = script
	return 3, nil
}

type harness struct {
	orch        *Orchestrator
	store       *episodes.Store
	transcriber *fakeTranscriber
	cleaner     *fakeCleaner
	summarizer  *fakeSummarizer
	indexer     *fakeIndexer
	episode     *episodes.Episode
}

func newHarness(t *testing.T, prober DurationProber, c *cache.Cache) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenEpisodes(t, cfg)
	episode, err := store.Ensure(context.Background(), "https://example.com/feed/origins.mp3")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	h := &harness{
		store:       store,
		transcriber: &fakeTranscriber{},
		cleaner:     &fakeCleaner{},
		summarizer:  &fakeSummarizer{},
		indexer:     &fakeIndexer{},
		episode:     episode,
	}
	h.orch = New(Deps{
		Episodes:    store,
		Prober:      prober,
		Transcriber: h.transcriber,
		Cleaner:     h.cleaner,
		Summarizer:  h.summarizer,
		Indexer:     h.indexer,
		Cache:       c,
	}, Settings{
		FallbackDuration: 90,
		SegmentSeconds:   60,
		Limits:           segment.Limits{MinSeconds: 10, MaxSeconds: 100},
		Concurrency:      2,
	})
	return h
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Options{
		MemoryEntries: 32,
		TTLs:          cache.TTLs{Status: time.Hour, Transcript: time.Hour, Artifact: time.Hour},
	})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return c
}

func TestRunProcessesEveryStage(t *testing.T) {
	h := newHarness(t, fakeProber{duration: 250}, nil)
	ctx := context.Background()

	result, err := h.orch.Run(ctx, h.episode.ID, RunOptions{TaskID: 7, Critical: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.transcriber.calls(); got != 5 {
		t.Fatalf("expected 5 transcription calls, got %d", got)
	}
	if result.Metrics.AudioSegments != 5 || result.Metrics.Usage.ASRCalls != 5 {
		t.Fatalf("unexpected metrics %+v", result.Metrics)
	}
	if result.Metrics.Usage.ASRAudioSeconds != 250 {
		t.Fatalf("expected 250 audio seconds, got %v", result.Metrics.Usage.ASRAudioSeconds)
	}
	if result.TranscriptSegments != 5 || result.Chunks != 3 || result.Title != "Garage Origins" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !h.cleaner.last.Critical {
		t.Fatal("expected critical flag to reach the cleaner")
	}
	for _, stage := range Stages {
		if _, ok := result.Metrics.Usage.StageMillis[string(stage)]; !ok {
			t.Fatalf("missing timing for stage %s", stage)
		}
	}

	stored, err := h.store.GetByID(ctx, h.episode.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	wantScript := "WORDS FROM 0 WORDS FROM 60 WORDS FROM 120 WORDS FROM 180 WORDS FROM 240"
	if stored.Script != wantScript {
		t.Fatalf("unexpected script %q", stored.Script)
	}
	if stored.Title != "Garage Origins" || stored.CleaningMethod != "whole" || stored.DurationSeconds != 250 {
		t.Fatalf("unexpected stored episode %+v", stored)
	}
	if len(stored.Segments) != 5 || stored.Segments[4].Start != 240 || stored.Segments[4].End != 250 {
		t.Fatalf("unexpected stored segments %+v", stored.Segments)
	}
	var persisted summary.Summary
	if err := json.Unmarshal(stored.Summary, &persisted); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if persisted.Overview != "How it started." {
		t.Fatalf("unexpected summary %+v", persisted)
	}
	if h.indexer.script != wantScript {
		t.Fatalf("indexer received %q", h.indexer.script)
	}
}

func TestRunReusesCachedArtifacts(t *testing.T) {
	c := newTestCache(t)
	h := newHarness(t, fakeProber{duration: 50}, c)
	ctx := context.Background()

	if _, err := h.orch.Run(ctx, h.episode.ID, RunOptions{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := h.orch.Run(ctx, h.episode.ID, RunOptions{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if h.transcriber.calls() != 1 || h.cleaner.calls.Load() != 1 || h.summarizer.calls.Load() != 1 {
		t.Fatalf("expected cached rerun, got asr=%d clean=%d summary=%d",
			h.transcriber.calls(), h.cleaner.calls.Load(), h.summarizer.calls.Load())
	}
	wantCached := []Stage{StageProbe, StageSegment, StageTranscribe, StageClean, StageSummarize}
	if !slices.Equal(second.Metrics.CachedStages, wantCached) {
		t.Fatalf("unexpected cached stages %v", second.Metrics.CachedStages)
	}
	if second.CleaningMethod != "whole" || second.Title != "Garage Origins" || second.Metrics.Usage.CacheHits != 3 {
		t.Fatalf("unexpected cached result %+v", second)
	}
	if h.indexer.calls.Load() != 2 {
		t.Fatalf("expected index stage to run on every pass, got %d", h.indexer.calls.Load())
	}
	if status, ok := c.Get(ctx, cache.StatusKey(h.episode.SourceURL)); !ok || string(status) != "ready" {
		t.Fatalf("unexpected status entry %q (%v)", status, ok)
	}

	if _, err := h.orch.Run(ctx, h.episode.ID, RunOptions{Refresh: true}); err != nil {
		t.Fatalf("refresh Run: %v", err)
	}
	if h.transcriber.calls() != 2 || h.cleaner.calls.Load() != 2 {
		t.Fatal("expected refresh to recompute every stage")
	}
}

func TestRunResumesFromStoredEpisodeWithColdCache(t *testing.T) {
	h := newHarness(t, fakeProber{duration: 50}, newTestCache(t))
	ctx := context.Background()
	if _, err := h.orch.Run(ctx, h.episode.ID, RunOptions{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// A restarted daemon shares the episode store but not the memory tier.
	cold := newTestCache(t)
	deps := h.orch.deps
	deps.Cache = cold
	restarted := New(deps, h.orch.settings)

	result, err := restarted.Run(ctx, h.episode.ID, RunOptions{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if h.transcriber.calls() != 1 || h.cleaner.calls.Load() != 1 || h.summarizer.calls.Load() != 1 {
		t.Fatalf("expected stored artifacts to be reused, got asr=%d clean=%d summary=%d",
			h.transcriber.calls(), h.cleaner.calls.Load(), h.summarizer.calls.Load())
	}
	wantCached := []Stage{StageProbe, StageSegment, StageTranscribe, StageClean, StageSummarize}
	if !slices.Equal(result.Metrics.CachedStages, wantCached) {
		t.Fatalf("unexpected cached stages %v", result.Metrics.CachedStages)
	}
	if result.CleaningMethod != "whole" || result.Title != "Garage Origins" || result.DurationSeconds != 50 {
		t.Fatalf("unexpected resumed result %+v", result)
	}
	if h.indexer.script != "WORDS FROM 0" {
		t.Fatalf("indexer received %q", h.indexer.script)
	}

	var segments []transcript.Segment
	if !cold.GetJSON(ctx, cache.TranscriptKey(h.episode.SourceURL), &segments) || len(segments) != 1 {
		t.Fatalf("expected the stored transcript to be written back, got %+v", segments)
	}
	var script cachedScript
	if !cold.GetJSON(ctx, cache.ScriptKey(h.episode.SourceURL), &script) || script.Script != "WORDS FROM 0" {
		t.Fatalf("expected the stored script to be written back, got %+v", script)
	}
}

func TestRunFallsBackWhenProbeFails(t *testing.T) {
	h := newHarness(t, fakeProber{err: errors.New("ffprobe missing")}, nil)

	result, err := h.orch.Run(context.Background(), h.episode.ID, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Metrics.ProbeFallback || result.DurationSeconds != 90 {
		t.Fatalf("expected fallback duration, got %+v", result)
	}
	if h.transcriber.calls() != 1 || h.transcriber.requests[0].Duration != 90 {
		t.Fatalf("expected a single 90s segment, got %+v", h.transcriber.requests)
	}
}

func TestRunFailsProbeWithoutFallback(t *testing.T) {
	h := newHarness(t, fakeProber{err: errors.New("ffprobe missing")}, nil)
	h.orch.settings.FallbackDuration = 0

	result, err := h.orch.Run(context.Background(), h.episode.ID, RunOptions{})
	if !errors.Is(err, services.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if result.Metrics.FailedStage != StageProbe {
		t.Fatalf("expected probe failure, got %q", result.Metrics.FailedStage)
	}
}

func TestRunStopsOnTranscriptionFailure(t *testing.T) {
	h := newHarness(t, fakeProber{duration: 250}, nil)
	h.transcriber.failAt = 120
	ctx := context.Background()

	result, err := h.orch.Run(ctx, h.episode.ID, RunOptions{})
	if !errors.Is(err, services.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if result.Metrics.FailedStage != StageTranscribe || result.Metrics.Usage.ASRFailures != 1 {
		t.Fatalf("unexpected metrics %+v", result.Metrics)
	}
	if h.cleaner.calls.Load() != 0 {
		t.Fatal("cleaner should not run after a transcription failure")
	}
	stored, err := h.store.GetByID(ctx, h.episode.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Script != "" || len(stored.Segments) != 0 {
		t.Fatalf("expected nothing persisted, got %+v", stored)
	}
}

func TestRunObservesCancelBetweenStages(t *testing.T) {
	h := newHarness(t, fakeProber{duration: 50}, nil)
	var checks atomic.Int32
	canceled := func(context.Context) (bool, error) {
		// Resolve runs, then the request is seen before probe.
		return checks.Add(1) > 1, nil
	}

	result, err := h.orch.Run(context.Background(), h.episode.ID, RunOptions{Canceled: canceled})
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if h.transcriber.calls() != 0 {
		t.Fatal("transcription should not start after cancel")
	}
	if result.SourceURL != h.episode.SourceURL {
		t.Fatalf("expected resolved source URL, got %q", result.SourceURL)
	}
}

func TestRunIgnoresCancelCheckErrors(t *testing.T) {
	h := newHarness(t, fakeProber{duration: 50}, nil)
	canceled := func(context.Context) (bool, error) {
		return false, errors.New("database is locked")
	}
	if _, err := h.orch.Run(context.Background(), h.episode.ID, RunOptions{Canceled: canceled}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunMissingEpisode(t *testing.T) {
	h := newHarness(t, fakeProber{duration: 50}, nil)
	_, err := h.orch.Run(context.Background(), h.episode.ID+100, RunOptions{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReindex(t *testing.T) {
	h := newHarness(t, fakeProber{duration: 50}, nil)
	ctx := context.Background()

	if _, err := h.orch.Reindex(ctx, h.episode.ID+100, nil); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.orch.Reindex(ctx, h.episode.ID, nil); !errors.Is(err, services.ErrConsistency) {
		t.Fatalf("expected consistency error before processing, got %v", err)
	}
	if _, err := h.orch.Run(ctx, h.episode.ID, RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	chunks, err := h.orch.Reindex(ctx, h.episode.ID, usage.New(usage.Prices{}))
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if chunks != 3 || h.indexer.calls.Load() != 2 {
		t.Fatalf("unexpected reindex outcome chunks=%d calls=%d", chunks, h.indexer.calls.Load())
	}
}
