package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	dom "taskboard/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tasks:"

// TaskCache caches per-owner task listings in Redis.
//
// Every owner has a version counter that is part of each listing key. Writes bump it, so a
// listing read from the database before a write can only be stored under the old version,
// where no later reader looks.
type TaskCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTaskCache returns a new TaskCache.
func NewTaskCache(rdb *redis.Client, ttl time.Duration) *TaskCache {
	return &TaskCache{rdb: rdb, ttl: ttl}
}

// Version returns the owner's current listing version; 0 until the first invalidation.
func (c *TaskCache) Version(ctx context.Context, ownerID int64) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKey(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// GetList returns the cached listing for (owner, version, filter), or nil on a miss.
func (c *TaskCache) GetList(ctx context.Context, ownerID, version int64, f dom.TaskFilter) ([]dom.Task, error) {
	b, err := c.rdb.Get(ctx, listKey(ownerID, version, f)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	list := []dom.Task{}
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetList stores a listing read while version was current.
func (c *TaskCache) SetList(ctx context.Context, ownerID, version int64, f dom.TaskFilter, list []dom.Task) error {
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, listKey(ownerID, version, f), b, c.ttl).Err()
}

// InvalidateOwner bumps the owner's version, then deletes the listings cached so far.
func (c *TaskCache) InvalidateOwner(ctx context.Context, ownerID int64) error {
	if err := c.rdb.Incr(ctx, versionKey(ownerID)).Err(); err != nil {
		return err
	}
	iter := c.rdb.Scan(ctx, 0, ownerPrefix(ownerID)+"list:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func ownerPrefix(ownerID int64) string {
	return keyPrefix + strconv.FormatInt(ownerID, 10) + ":"
}

func versionKey(ownerID int64) string {
	return ownerPrefix(ownerID) + "ver"
}

// listKey encodes the filter so different filters never share an entry.
func listKey(ownerID, version int64, f dom.TaskFilter) string {
	return ownerPrefix(ownerID) + "list:" + strconv.FormatInt(version, 10) + ":" +
		strconv.Quote(f.Status) + ":" + strconv.Quote(f.Category) + ":" + strconv.Quote(normalizeQuery(f.Query))
}

func normalizeQuery(q string) string {
	return strings.TrimSpace(strings.ToLower(q))
}
