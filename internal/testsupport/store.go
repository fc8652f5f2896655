package testsupport

import (
	"testing"

	"podscribe/internal/config"
	"podscribe/internal/episodes"
	"podscribe/internal/queue"
)

// MustOpenStore opens the task queue for cfg and closes it when the test ends.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenEpisodes opens the episode store for cfg and closes it when the test ends.
func MustOpenEpisodes(t testing.TB, cfg *config.Config) *episodes.Store {
	t.Helper()
	store, err := episodes.Open(cfg)
	if err != nil {
		t.Fatalf("episodes.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
