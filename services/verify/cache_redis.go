package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"ppbverify-backend/lib/scrapers/ppb"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares verified records between replicas. Records are
// stored as JSON under a versioned, register-scoped prefix so a schema
// change never reads stale shapes.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewRedisCache(url string, register ppb.Kind, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisCache{
		client: redis.NewClient(opts),
		prefix: fmt.Sprintf("ppb:verify:v1:%s:", register),
		ttl:    ttl,
	}, nil
}

func (c *RedisCache) key(identifier string) string {
	return c.prefix + identifier
}

func (c *RedisCache) Get(ctx context.Context, key string) (ppb.Record, bool) {
	payload, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.WarnContext(ctx, "redis get failed, treating as miss", "key", key, "err", err)
		}
		c.misses.Add(1)
		return ppb.Record{}, false
	}

	var record ppb.Record
	if err := json.Unmarshal(payload, &record); err != nil {
		slog.WarnContext(ctx, "corrupt cached record, treating as miss", "key", key, "err", err)
		c.misses.Add(1)
		return ppb.Record{}, false
	}

	c.hits.Add(1)
	return record, true
}

func (c *RedisCache) Put(ctx context.Context, key string, record ppb.Record) {
	payload, err := json.Marshal(record)
	if err != nil {
		slog.WarnContext(ctx, "could not marshal record for cache", "key", key, "err", err)
		return
	}
	if err := c.client.Set(ctx, c.key(key), payload, c.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "redis set failed, record not cached", "key", key, "err", err)
	}
}

func (c *RedisCache) Stats(ctx context.Context) Stats {
	stats := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 500).Result()
		if err != nil {
			slog.WarnContext(ctx, "redis scan failed during stats", "err", err)
			break
		}
		stats.Size += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return stats
}

// Clear deletes the namespaced keys and resets the counters.
func (c *RedisCache) Clear(ctx context.Context) {
	defer func() {
		c.hits.Store(0)
		c.misses.Store(0)
	}()

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 500).Result()
		if err != nil {
			slog.WarnContext(ctx, "redis scan failed during clear", "err", err)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				slog.WarnContext(ctx, "redis del failed during clear", "err", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
