package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RememberJSON is Remember for JSON-encodable values.
func RememberJSON[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	raw, cached, err := c.Remember(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return zero, false, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		c.Delete(ctx, key)
		return zero, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return out, cached, nil
}
