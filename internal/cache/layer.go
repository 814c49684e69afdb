// Package cache defines the contract shared by every backing store that
// takes part in the layered cache.
package cache

import (
	"context"
	"time"

	"go.uber.org/atomic"

	"goflare.io/pixcache/internal/models"
)

// Layer names and default priorities. Lower priority numbers are checked first.
const (
	MemoryLayerName = "memory"
	RemoteLayerName = "redis"
	FileLayerName   = "file"

	MemoryPriority = 0
	RemotePriority = 1
	FilePriority   = 2
)

// Layer is one backing store in the cascade.
//
// Failures are local to the layer: implementations return errors rather than
// panicking, and the manager treats an error as a miss (or no-op) for that
// layer only. Get reports a miss as (nil, false, nil).
type Layer interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) models.LayerStats
	Name() string
	Priority() int
}

// Expirer is implemented by layers that can report how long a key has left.
// TTL returns 0 for keys without expiry, models.ErrKeyNotFound for absent
// keys and models.ErrEntryExpired for keys past their expiry.
type Expirer interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Counters are the per-layer operation counters. Only the owning layer writes them.
type Counters struct {
	Hits   atomic.Int64
	Misses atomic.Int64
	Errors atomic.Int64
}

// Snapshot builds LayerStats from the counters plus layer-specific gauges.
func (c *Counters) Snapshot(layer string, keys, memoryUsage int64) models.LayerStats {
	hits := c.Hits.Load()
	misses := c.Misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return models.LayerStats{
		Layer:       layer,
		Hits:        hits,
		Misses:      misses,
		Keys:        keys,
		HitRate:     hitRate,
		MemoryUsage: memoryUsage,
		Errors:      c.Errors.Load(),
	}
}

// Reset zeroes the counters.
func (c *Counters) Reset() {
	c.Hits.Store(0)
	c.Misses.Store(0)
	c.Errors.Store(0)
}
