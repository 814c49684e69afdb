// Package remote implements the shared remote cache layer on Redis.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/pixcache/internal/cache"
	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/internal/utils"
)

const scanBatch = 1000

// Config configures the remote layer.
type Config struct {
	KeyPrefix  string
	DefaultTTL time.Duration
	// OperationTimeout bounds every Redis round trip. A timeout counts as a layer failure.
	OperationTimeout time.Duration
	Priority         int
	Resilience       ResilienceConfig
	Logger           *zap.Logger
}

// Layer stores values in Redis under KeyPrefix with native TTLs.
type Layer struct {
	client     redis.Cmdable
	resilience *Resilience
	counters   cache.Counters
	prefix     string
	defaultTTL time.Duration
	priority   int
	logger     *zap.Logger
}

var (
	_ cache.Layer   = (*Layer)(nil)
	_ cache.Expirer = (*Layer)(nil)
)

// New creates a remote layer on top of client.
func New(client redis.Cmdable, cfg Config) (*Layer, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	res, err := NewResilience("pixcache-redis", cfg.Resilience, cfg.OperationTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create resilience: %w", err)
	}

	return &Layer{
		client:     client,
		resilience: res,
		prefix:     cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
		priority:   cfg.Priority,
		logger:     cfg.Logger.With(zap.String("layer", cache.RemoteLayerName)),
	}, nil
}

func (l *Layer) redisKey(key string) string {
	return l.prefix + key
}

// Get retrieves a value from Redis.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := l.resilience.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = l.client.Get(ctx, l.redisKey(key)).Bytes()
		return err
	})

	switch {
	case errors.Is(err, redis.Nil):
		l.counters.Misses.Inc()
		return nil, false, nil
	case err != nil:
		l.counters.Errors.Inc()
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	l.counters.Hits.Inc()
	return data, true, nil
}

// Set stores value with ttl, or the layer default when ttl is not positive.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiration := utils.GetExpirationTime(l.defaultTTL, ttl)
	if err := l.resilience.Execute(ctx, func(ctx context.Context) error {
		return l.client.Set(ctx, l.redisKey(key), value, expiration).Err()
	}); err != nil {
		l.counters.Errors.Inc()
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (l *Layer) Delete(ctx context.Context, key string) error {
	if err := l.resilience.Execute(ctx, func(ctx context.Context) error {
		return l.client.Del(ctx, l.redisKey(key)).Err()
	}); err != nil {
		l.counters.Errors.Inc()
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Exists reports whether key is present.
func (l *Layer) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	if err := l.resilience.Execute(ctx, func(ctx context.Context) error {
		var err error
		n, err = l.client.Exists(ctx, l.redisKey(key)).Result()
		return err
	}); err != nil {
		l.counters.Errors.Inc()
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// TTL reports the time key has left using PTTL.
func (l *Layer) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	if err := l.resilience.Execute(ctx, func(ctx context.Context) error {
		var err error
		ttl, err = l.client.PTTL(ctx, l.redisKey(key)).Result()
		return err
	}); err != nil {
		return 0, fmt.Errorf("redis pttl failed: %w", err)
	}

	// -2: no such key, -1: no expiry
	switch {
	case ttl == -2:
		return 0, models.ErrKeyNotFound
	case ttl < 0:
		return 0, nil
	}
	return ttl, nil
}

// Clear removes every key under the layer prefix. Keys of other tenants of
// the same Redis database are left alone.
func (l *Layer) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		var keys []string
		if err := l.resilience.Execute(ctx, func(ctx context.Context) error {
			var err error
			keys, cursor, err = l.client.Scan(ctx, cursor, l.prefix+"*", scanBatch).Result()
			return err
		}); err != nil {
			l.counters.Errors.Inc()
			return fmt.Errorf("redis scan failed: %w", err)
		}

		if len(keys) > 0 {
			if err := l.resilience.Execute(ctx, func(ctx context.Context) error {
				return l.client.Del(ctx, keys...).Err()
			}); err != nil {
				l.counters.Errors.Inc()
				return fmt.Errorf("redis delete failed: %w", err)
			}
		}

		if cursor == 0 {
			return nil
		}
	}
}

// Stats returns the layer counters. Keys is counted with SCAN and left at
// zero when Redis is unreachable.
func (l *Layer) Stats(ctx context.Context) models.LayerStats {
	var total int64
	var cursor uint64
	for {
		var keys []string
		err := l.resilience.Execute(ctx, func(ctx context.Context) error {
			var err error
			keys, cursor, err = l.client.Scan(ctx, cursor, l.prefix+"*", scanBatch).Result()
			return err
		})
		if err != nil {
			l.logger.Warn("Failed to count remote keys", zap.Error(err))
			total = 0
			break
		}
		total += int64(len(keys))
		if cursor == 0 {
			break
		}
	}
	return l.counters.Snapshot(cache.RemoteLayerName, total, 0)
}

// Name returns the layer name.
func (l *Layer) Name() string { return cache.RemoteLayerName }

// Priority returns the layer priority.
func (l *Layer) Priority() int { return l.priority }
