package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle is a fixed-window attempt counter in Redis. The window starts at the first counted
// attempt for a key.
type Throttle struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewThrottle allows limit attempts per key within window. A limit <= 0 disables throttling.
func NewThrottle(rdb *redis.Client, prefix string, limit int64, window time.Duration) *Throttle {
	return &Throttle{rdb: rdb, prefix: "throttle:" + prefix + ":", limit: limit, window: window}
}

// Allow counts one attempt for key and reports whether it is within the limit.
func (t *Throttle) Allow(ctx context.Context, key string) (bool, error) {
	if t.limit <= 0 {
		return true, nil
	}
	n, err := t.incr(ctx, key)
	if err != nil {
		return false, err
	}
	return n <= t.limit, nil
}

// Exceeded reports whether key has used up its attempts, without counting one.
func (t *Throttle) Exceeded(ctx context.Context, key string) (bool, error) {
	if t.limit <= 0 {
		return false, nil
	}
	n, err := t.rdb.Get(ctx, t.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= t.limit, nil
}

// Hit counts one attempt for key.
func (t *Throttle) Hit(ctx context.Context, key string) error {
	if t.limit <= 0 {
		return nil
	}
	_, err := t.incr(ctx, key)
	return err
}

// Reset forgets every attempt counted for key.
func (t *Throttle) Reset(ctx context.Context, key string) error {
	if t.limit <= 0 {
		return nil
	}
	return t.rdb.Del(ctx, t.key(key)).Err()
}

func (t *Throttle) incr(ctx context.Context, key string) (int64, error) {
	k := t.key(key)
	n, err := t.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := t.rdb.Expire(ctx, k, t.window).Err(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (t *Throttle) key(key string) string {
	return t.prefix + strings.ToLower(strings.TrimSpace(key))
}
