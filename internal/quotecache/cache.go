// Package quotecache stores the latest feed record per instrument in Redis.
//
// The cache is strictly best-effort: it feeds initial snapshots to newly
// subscribing clients and the REST quote fallback. The relay core runs
// unchanged without it.
package quotecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finverse/feedrelay/internal/model"
)

const keyPrefix = "quote:"

// Cache holds the latest record per instrument key with a TTL.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	updates chan model.FeedRecord
}

// New connects to Redis and pings it.
func New(ctx context.Context, addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Cache{
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger,
		updates: make(chan model.FeedRecord, 1024),
	}, nil
}

// Run consumes offered records and writes them to Redis until ctx is done.
// Keeping writes on a single goroutine keeps the upstream receive loop free
// of Redis round-trip latency.
func (c *Cache) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-c.updates:
			if err := c.put(ctx, rec); err != nil {
				c.logger.Debug("quote cache write failed", "key", rec.Key, "error", err)
			}
		}
	}
}

// Offer hands a record to the cache writer without blocking. When the
// update queue is full the record is dropped; a later record for the same
// key supersedes it anyway.
func (c *Cache) Offer(rec model.FeedRecord) {
	select {
	case c.updates <- rec:
	default:
	}
}

func (c *Cache) put(ctx context.Context, rec model.FeedRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return c.rdb.Set(ctx, keyPrefix+rec.Key, data, c.ttl).Err()
}

// Get returns the latest cached record for key, if any.
func (c *Cache) Get(ctx context.Context, key string) (model.FeedRecord, bool, error) {
	var rec model.FeedRecord

	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, false, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, true, nil
}

// Ping verifies the Redis connection is healthy.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
