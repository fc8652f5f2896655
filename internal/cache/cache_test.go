package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"podscribe/internal/config"
)

func testTTLs() TTLs {
	return TTLs{Status: time.Minute, Transcript: time.Hour, Artifact: 24 * time.Hour}
}

func newLocalCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Options{MemoryEntries: 16, TTLs: testTTLs()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func newRedisCache(t *testing.T, s *miniredis.Miniredis) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	c, err := New(Options{MemoryEntries: 16, TTLs: testTTLs(), Remote: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetThenGetSkipsComputation(t *testing.T) {
	ctx := context.Background()
	c := newLocalCache(t)
	key := ScriptKey("https://example.com/ep1.mp3")

	c.Set(ctx, key, []byte("cleaned"), 0)

	calls := 0
	value, cached, err := c.Remember(ctx, key, 0, func(context.Context) ([]byte, error) {
		calls++
		return []byte("recomputed"), nil
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if calls != 0 || !cached || string(value) != "cleaned" {
		t.Fatalf("expected cached value without compute, got %q cached=%v calls=%d", value, cached, calls)
	}
}

func TestRememberStoresComputedValue(t *testing.T) {
	ctx := context.Background()
	c := newLocalCache(t)

	value, cached, err := c.Remember(ctx, "summary:x", 0, func(context.Context) ([]byte, error) {
		return []byte("v1"), nil
	})
	if err != nil || cached || string(value) != "v1" {
		t.Fatalf("unexpected first Remember: %q cached=%v err=%v", value, cached, err)
	}
	got, ok := c.Get(ctx, "summary:x")
	if !ok || string(got) != "v1" {
		t.Fatalf("expected stored value, got %q ok=%v", got, ok)
	}
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	c := newLocalCache(t)
	boom := errors.New("boom")

	if _, _, err := c.Remember(ctx, "script:x", 0, func(context.Context) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := c.Get(ctx, "script:x"); ok {
		t.Fatal("failed computation should not be cached")
	}
}

func TestRememberCollapsesConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	c := newLocalCache(t)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, _, err := c.Remember(ctx, "transcript:x", 0, func(context.Context) ([]byte, error) {
				calls.Add(1)
				<-release
				return []byte("t"), nil
			})
			if err != nil || string(value) != "t" {
				t.Errorf("unexpected result %q err=%v", value, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected a single computation, got %d", calls.Load())
	}
}

func TestLocalEntriesExpire(t *testing.T) {
	ctx := context.Background()
	c := newLocalCache(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set(ctx, StatusKey("u"), []byte("RUNNING"), 0)
	if _, ok := c.Get(ctx, StatusKey("u")); !ok {
		t.Fatal("expected fresh status entry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, StatusKey("u")); ok {
		t.Fatal("expected status entry to expire after its short TTL")
	}
}

func TestTTLsByCategory(t *testing.T) {
	ttls := TTLsFromConfig(config.Cache{StatusTTLSeconds: 60, TranscriptTTLSeconds: 3600, ArtifactTTLSeconds: 7200})
	cases := []struct {
		key  string
		want time.Duration
	}{
		{StatusKey("u"), time.Minute},
		{TranscriptKey("u"), time.Hour},
		{ScriptKey("u"), 2 * time.Hour},
		{SummaryKey("u"), 2 * time.Hour},
		{"other", time.Minute},
	}
	for _, tc := range cases {
		if got := ttls.For(tc.key); got != tc.want {
			t.Errorf("For(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestRemoteHitIsPromoted(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	writer := newRedisCache(t, s)
	reader := newRedisCache(t, s)
	key := ScriptKey("https://example.com/a.mp3")

	writer.Set(ctx, key, []byte("shared"), 0)
	if !s.Exists(redisNamespace + key) {
		t.Fatal("expected write-through to redis")
	}
	if ttl := s.TTL(redisNamespace + key); ttl != 24*time.Hour {
		t.Fatalf("expected artifact ttl in redis, got %v", ttl)
	}

	got, ok := reader.Get(ctx, key)
	if !ok || string(got) != "shared" {
		t.Fatalf("expected remote hit, got %q ok=%v", got, ok)
	}
	s.Del(redisNamespace + key)
	got, ok = reader.Get(ctx, key)
	if !ok || string(got) != "shared" {
		t.Fatalf("expected promoted local hit, got %q ok=%v", got, ok)
	}
	stats := reader.Stats()
	if stats.RemoteHits != 1 || stats.LocalHits != 1 || !stats.Remote {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDeleteRemovesBothTiers(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	c := newRedisCache(t, s)

	c.Set(ctx, "status:u", []byte("x"), 0)
	c.Delete(ctx, "status:u")
	if s.Exists(redisNamespace + "status:u") {
		t.Fatal("expected redis key removed")
	}
	if _, ok := c.Get(ctx, "status:u"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestRemoteFailureFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	c := newRedisCache(t, s)
	s.SetError("ERR simulated outage")

	c.Set(ctx, "script:u", []byte("local"), 0)
	got, ok := c.Get(ctx, "script:u")
	if !ok || string(got) != "local" {
		t.Fatalf("expected local value despite redis failure, got %q ok=%v", got, ok)
	}
	if _, ok := c.Get(ctx, "script:missing"); ok {
		t.Fatal("expected miss when redis fails")
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := newLocalCache(t)
	type summary struct {
		Title string   `json:"title"`
		Items []string `json:"items"`
	}

	if err := c.SetJSON(ctx, "summary:u", summary{Title: "t", Items: []string{"a"}}, 0); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got summary
	if !c.GetJSON(ctx, "summary:u", &got) || got.Title != "t" || len(got.Items) != 1 {
		t.Fatalf("unexpected GetJSON result %+v", got)
	}

	c.Set(ctx, "summary:bad", []byte("{"), 0)
	if c.GetJSON(ctx, "summary:bad", &got) {
		t.Fatal("expected undecodable entry to miss")
	}
	if _, ok := c.Get(ctx, "summary:bad"); ok {
		t.Fatal("expected undecodable entry to be dropped")
	}

	calls := 0
	compute := func(context.Context) (summary, error) {
		calls++
		return summary{Title: "computed"}, nil
	}
	first, cached, err := RememberJSON(ctx, c, "summary:v", 0, compute)
	if err != nil || cached || first.Title != "computed" {
		t.Fatalf("unexpected first RememberJSON %+v cached=%v err=%v", first, cached, err)
	}
	second, cached, err := RememberJSON(ctx, c, "summary:v", 0, compute)
	if err != nil || !cached || second.Title != "computed" || calls != 1 {
		t.Fatalf("unexpected second RememberJSON %+v cached=%v calls=%d err=%v", second, cached, calls, err)
	}
}

func TestNewFromConfigWithoutRedisRunsLocal(t *testing.T) {
	cfg := config.Default().Cache
	cfg.RedisAddr = "127.0.0.1:1"
	c, err := NewFromConfig(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer c.Close()
	if c.Stats().Remote {
		t.Fatal("expected unreachable redis to be disabled")
	}
}
