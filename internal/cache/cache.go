package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"podscribe/internal/config"
	"podscribe/internal/logging"
)

const redisNamespace = "podscribe:"

type entry struct {
	value   []byte
	expires time.Time
}

// Options configures a Cache.
type Options struct {
	MemoryEntries int
	TTLs          TTLs
	// Remote is the shared tier. Nil disables it.
	Remote *redis.Client
	Logger *slog.Logger
}

// Stats reports hit and miss counts since creation.
type Stats struct {
	LocalHits  int64 `json:"local_hits"`
	RemoteHits int64 `json:"remote_hits"`
	Misses     int64 `json:"misses"`
	Entries    int   `json:"entries"`
	Remote     bool  `json:"remote"`
}

// Cache is a two-tier byte cache.
type Cache struct {
	local  *lru.Cache[string, entry]
	remote *redis.Client
	ttls   TTLs
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time

	localHits  atomic.Int64
	remoteHits atomic.Int64
	misses     atomic.Int64
}

// New builds a cache from options.
func New(opts Options) (*Cache, error) {
	size := opts.MemoryEntries
	if size <= 0 {
		size = 128
	}
	local, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		local:  local,
		remote: opts.Remote,
		ttls:   opts.TTLs,
		logger: logging.NewComponentLogger(logger, "cache"),
		now:    time.Now,
	}, nil
}

// NewFromConfig builds a cache and, when configured, connects the Redis tier.
// An unreachable Redis is logged and the cache runs local-only.
func NewFromConfig(ctx context.Context, cfg config.Cache, logger *slog.Logger) (*Cache, error) {
	opts := Options{
		MemoryEntries: cfg.MemoryEntries,
		TTLs:          TTLsFromConfig(cfg),
		Logger:        logger,
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			if logger != nil {
				logger.Warn("redis tier unavailable; using in-process cache only",
					logging.String("redis_addr", cfg.RedisAddr),
					logging.Error(err),
					logging.String(logging.FieldEventType, "cache_remote_unavailable"),
					logging.String(logging.FieldErrorHint, "check cache.redis_addr or start redis"),
					logging.String(logging.FieldImpact, "cache is not shared between daemons"),
				)
			}
			_ = client.Close()
		} else {
			opts.Remote = client
		}
	}
	return New(opts)
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.remote == nil {
		return nil
	}
	return c.remote.Close()
}

// TTLFor returns the category TTL for key.
func (c *Cache) TTLFor(key string) time.Duration {
	return c.ttls.For(key)
}

// Get returns the cached value for key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := c.getLocal(key); ok {
		c.localHits.Add(1)
		return value, true
	}
	if c.remote == nil {
		c.misses.Add(1)
		return nil, false
	}
	value, err := c.remote.Get(ctx, redisNamespace+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logRemoteFailure("get", key, err)
		}
		c.misses.Add(1)
		return nil, false
	}
	c.remoteHits.Add(1)
	c.setLocal(key, value, c.ttls.For(key))
	return value, true
}

// Set stores value in both tiers. A zero ttl selects the category TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttls.For(key)
	}
	c.setLocal(key, value, ttl)
	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, redisNamespace+key, value, ttl).Err(); err != nil {
		c.logRemoteFailure("set", key, err)
	}
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.local.Remove(key)
	if c.remote == nil {
		return
	}
	if err := c.remote.Del(ctx, redisNamespace+key).Err(); err != nil {
		c.logRemoteFailure("delete", key, err)
	}
}

// GetJSON decodes a cached JSON value into dst.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("discarding undecodable cache entry",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldEventType, "cache_decode_failed"),
		)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON encodes value as JSON and stores it.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	c.Set(ctx, key, raw, ttl)
	return nil
}

// Remember returns the cached value for key or computes and stores it.
// Concurrent callers for the same key share one computation. The boolean
// reports whether the value came from the cache.
func (c *Cache) Remember(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if value, ok := c.Get(ctx, key); ok {
		return value, true, nil
	}
	type outcome struct {
		value  []byte
		cached bool
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		if value, ok := c.getLocal(key); ok {
			return outcome{value: value, cached: true}, nil
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, value, ttl)
		return outcome{value: value}, nil
	})
	if err != nil {
		return nil, false, err
	}
	out := result.(outcome)
	return out.value, out.cached, nil
}

// Stats returns hit counters and the local entry count.
func (c *Cache) Stats() Stats {
	return Stats{
		LocalHits:  c.localHits.Load(),
		RemoteHits: c.remoteHits.Load(),
		Misses:     c.misses.Load(),
		Entries:    c.local.Len(),
		Remote:     c.remote != nil,
	}
}

func (c *Cache) getLocal(key string) ([]byte, bool) {
	item, ok := c.local.Get(key)
	if !ok {
		return nil, false
	}
	if !item.expires.IsZero() && !c.now().Before(item.expires) {
		c.local.Remove(key)
		return nil, false
	}
	return item.value, true
}

func (c *Cache) setLocal(key string, value []byte, ttl time.Duration) {
	item := entry{value: value}
	if ttl > 0 {
		item.expires = c.now().Add(ttl)
	}
	c.local.Add(key, item)
}

func (c *Cache) logRemoteFailure(op, key string, err error) {
	c.logger.Warn("redis tier operation failed; continuing",
		logging.String("operation", op),
		logging.String("key", key),
		logging.Error(err),
		logging.String(logging.FieldEventType, "cache_remote_failed"),
		logging.String(logging.FieldImpact, "value served from or written to the in-process tier only"),
	)
}
