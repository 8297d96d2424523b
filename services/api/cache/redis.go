package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// scanBatch bounds each SCAN round trip so an invalidation never holds the
// backend in a single unbounded iteration.
const scanBatch = 1000

// Redis is the production Store backed by a shared Redis instance.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedis connects to Redis using a URL (redis://host:port/db). The cache
// is advisory, so an unreachable backend at startup is logged rather than
// fatal; every operation degrades per the Store contract.
func NewRedis(url string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, serving without cache until it recovers",
			zap.String("addr", opts.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", opts.Addr))
	}

	return &Redis{rdb: rdb, logger: logger}, nil
}

// Close releases the client resources.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Get retrieves a cached payload.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, Lookup) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, Miss
		}
		r.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, Unavailable
	}
	return val, Hit
}

// Set stores a payload with the given TTL, best-effort.
func (r *Redis) Set(ctx context.Context, key string, payload any, ttl time.Duration) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("cache payload not serializable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes the given keys, best-effort.
func (r *Redis) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warn("cache delete failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
}

// DeletePattern scans for keys matching pattern in bounded batches and
// deletes them. The error is returned so the caller can fall back to its
// fixed invalidation set.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
