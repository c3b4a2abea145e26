package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix = "cache:task:"
	cacheTTL    = 5 * time.Minute
)

// WithCache attaches a Redis read cache for task lookups. Any mutating
// repository call invalidates the whole prefix; cache errors are swallowed.
func (d *DB) WithCache(client *redis.Client) *DB {
	d.cache = client
	return d
}

func (d *DB) taskFromCache(ctx context.Context, id string) *Task {
	if d.cache == nil {
		return nil
	}
	raw, err := d.cache.Get(ctx, cachePrefix+id).Result()
	if err != nil {
		return nil
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil
	}
	return &t
}

func (d *DB) taskToCache(ctx context.Context, t *Task) {
	if d.cache == nil || t == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return
	}
	d.cache.Set(ctx, cachePrefix+t.ID, payload, cacheTTL)
}

func (d *DB) invalidateTaskCache(ctx context.Context) {
	if d.cache == nil {
		return
	}
	iter := d.cache.Scan(ctx, 0, cachePrefix+"*", 50).Iterator()
	for iter.Next(ctx) {
		d.cache.Del(ctx, iter.Val())
	}
}
