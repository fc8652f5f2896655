package episodes_test

import (
	"context"
	"encoding/json"
	"testing"

	"podscribe/internal/episodes"
	"podscribe/internal/testsupport"
	"podscribe/internal/transcript"
)

func TestEnsureIsIdempotentPerURL(t *testing.T) {
	store := testsupport.MustOpenEpisodes(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first, err := store.Ensure(ctx, "https://cdn.example.com/shows/deep-dive_042.mp3")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if first.Title != "deep dive 042" {
		t.Fatalf("unexpected derived title %q", first.Title)
	}
	second, err := store.Ensure(ctx, "https://cdn.example.com/shows/deep-dive_042.mp3")
	if err != nil {
		t.Fatalf("Ensure again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same episode, got %d and %d", first.ID, second.ID)
	}
}

func TestSaveArtifactsKeepsEarlierValues(t *testing.T) {
	store := testsupport.MustOpenEpisodes(t, testsupport.NewConfig(t))
	ctx := context.Background()
	ep, err := store.Ensure(ctx, "https://example.com/ep.mp3")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	segments := []transcript.Segment{{Start: 0, End: 5, Text: "hello", Speaker: "A"}}
	if err := store.SaveArtifacts(ctx, ep.ID, episodes.Artifacts{
		Segments:        segments,
		Script:          "Hello.",
		DurationSeconds: 5,
		CleaningMethod:  "whole",
		Metrics:         map[string]int{"asr_calls": 1},
	}); err != nil {
		t.Fatalf("SaveArtifacts: %v", err)
	}
	if err := store.SaveArtifacts(ctx, ep.ID, episodes.Artifacts{
		Title:   "Episode One",
		Summary: json.RawMessage(`{"title":"Episode One"}`),
	}); err != nil {
		t.Fatalf("SaveArtifacts summary: %v", err)
	}

	got, err := store.GetByID(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Script != "Hello." || got.CleaningMethod != "whole" || got.DurationSeconds != 5 {
		t.Fatalf("expected first-run artifacts to survive, got %+v", got)
	}
	if got.Title != "Episode One" || string(got.Summary) != `{"title":"Episode One"}` {
		t.Fatalf("expected summary update, got title=%q summary=%s", got.Title, got.Summary)
	}
	if len(got.Segments) != 1 || got.Segments[0].Speaker != "A" {
		t.Fatalf("unexpected segments %+v", got.Segments)
	}

	titles, err := store.Titles(ctx, []int64{ep.ID, 999})
	if err != nil || titles[ep.ID] != "Episode One" || len(titles) != 1 {
		t.Fatalf("unexpected titles %v (%v)", titles, err)
	}
	if err := store.SaveArtifacts(ctx, 999, episodes.Artifacts{Script: "x"}); err == nil {
		t.Fatal("expected missing episode to fail")
	}
}

func TestAccessLog(t *testing.T) {
	store := testsupport.MustOpenEpisodes(t, testsupport.NewConfig(t))
	ctx := context.Background()
	for _, kind := range []string{"episode_read", "answer_served"} {
		if err := store.RecordAccess(ctx, episodes.AccessEvent{Type: kind, EpisodeID: 3}); err != nil {
			t.Fatalf("RecordAccess: %v", err)
		}
	}
	if err := store.RecordAccess(ctx, episodes.AccessEvent{Type: "episode_read", EpisodeID: 4}); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	log, err := store.AccessLog(ctx, 3, 0)
	if err != nil {
		t.Fatalf("AccessLog: %v", err)
	}
	if len(log) != 2 || log[0].Type != "answer_served" {
		t.Fatalf("unexpected access log %+v", log)
	}
	all, err := store.AccessLog(ctx, 0, 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 events, got %d (%v)", len(all), err)
	}
}

func TestTitleFromURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/":                      "example.com",
		"https://example.com/a/b/my%20show-ep1.m4a": "my show ep1",
		"https://example.com/feed/episode":          "episode",
	}
	for input, want := range tests {
		if got := episodes.TitleFromURL(input); got != want {
			t.Errorf("TitleFromURL(%q) = %q, want %q", input, got, want)
		}
	}
}
