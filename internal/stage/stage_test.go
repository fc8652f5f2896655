package stage

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestCheckAll(t *testing.T) {
	checkers := []Checker{
		CheckFunc{Label: "queue", Check: func(context.Context) error { return nil }},
		CheckFunc{Label: "ffprobe", Check: func(context.Context) error { return errors.New("binary not found") }},
		CheckFunc{Label: "llm"},
		nil,
	}
	results := CheckAll(context.Background(), checkers...)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results["queue"].Ready || !results["llm"].Ready {
		t.Fatalf("unexpected results %+v", results)
	}
	probe := results["ffprobe"]
	if probe.Ready || probe.Detail != "binary not found" || probe.Name != "ffprobe" {
		t.Fatalf("unexpected ffprobe health %+v", probe)
	}
	ready, failing := Ready(results)
	if ready || !slices.Equal(failing, []string{"ffprobe"}) {
		t.Fatalf("expected ffprobe to fail readiness, got %v %v", ready, failing)
	}
}

func TestReadyWhenEmpty(t *testing.T) {
	ready, failing := Ready(nil)
	if !ready || len(failing) != 0 {
		t.Fatalf("expected empty result set to be ready, got %v %v", ready, failing)
	}
}
