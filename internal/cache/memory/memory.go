// Package memory implements the in-process cache layer on top of Ristretto.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"goflare.io/pixcache/internal/cache"
	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/internal/utils"
)

const (
	avgItemSize    = 4 * 1024
	minNumCounters = 1000
)

// Config configures the memory layer.
type Config struct {
	MaxSize    int64
	DefaultTTL time.Duration
	Priority   int
	Logger     *zap.Logger
}

// Layer is the fastest layer: a cost-bounded in-process cache.
type Layer struct {
	cache      *ristretto.Cache
	tracker    *Tracker
	counters   cache.Counters
	defaultTTL time.Duration
	priority   int
	logger     *zap.Logger
}

var (
	_ cache.Layer   = (*Layer)(nil)
	_ cache.Expirer = (*Layer)(nil)
)

// New creates a memory layer bounded to cfg.MaxSize bytes of payload.
func New(cfg Config) (*Layer, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("memory layer max size must be positive, got %d", cfg.MaxSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := &Layer{
		tracker:    NewTracker(cfg.Logger),
		defaultTTL: cfg.DefaultTTL,
		priority:   cfg.Priority,
		logger:     cfg.Logger.With(zap.String("layer", cache.MemoryLayerName)),
	}

	numCounters := cfg.MaxSize / avgItemSize * 10
	if numCounters < minNumCounters {
		numCounters = minNumCounters
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        numCounters,
		MaxCost:            cfg.MaxSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
		OnEvict:            l.untrack,
		OnReject:           l.untrack,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}
	l.cache = c

	return l, nil
}

func (l *Layer) untrack(item *ristretto.Item) {
	if entry, ok := item.Value.(*models.Entry); ok {
		l.tracker.Remove(entry.Key)
	}
}

// Get retrieves a cached value.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		l.counters.Errors.Inc()
		return nil, false, err
	}

	value, found := l.cache.Get(key)
	if !found {
		l.counters.Misses.Inc()
		l.tracker.Remove(key)
		return nil, false, nil
	}

	entry, ok := value.(*models.Entry)
	if !ok {
		l.logger.Error("Invalid cache entry type", zap.String("key", key))
		l.counters.Errors.Inc()
		return nil, false, fmt.Errorf("invalid memory entry type for key: %s", key)
	}

	if entry.IsExpired() {
		l.cache.Del(key)
		l.tracker.Remove(key)
		l.counters.Misses.Inc()
		return nil, false, nil
	}

	l.counters.Hits.Inc()
	return entry.Data, true, nil
}

// Set stores value. A non-positive ttl falls back to the layer default; a zero
// default never expires.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		l.counters.Errors.Inc()
		return err
	}

	expiration := utils.GetExpirationTime(l.defaultTTL, ttl)
	var expiresAt time.Time
	if expiration > 0 {
		expiresAt = time.Now().Add(expiration)
	}

	entry := models.NewEntry(key, value, expiresAt)
	if !l.cache.SetWithTTL(key, entry, int64(len(value)), expiration) {
		l.logger.Warn("Ristretto SetWithTTL failed", zap.String("key", key))
		l.counters.Errors.Inc()
		return models.ErrSetFailed
	}
	// Make the write visible to the next Get.
	l.cache.Wait()

	if _, found := l.cache.Get(key); !found {
		return models.ErrSetFailed
	}
	l.tracker.Add(key, int64(len(value)))
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (l *Layer) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.cache.Del(key)
	l.tracker.Remove(key)
	return nil
}

// Exists reports whether key is present and not expired.
func (l *Layer) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	value, found := l.cache.Get(key)
	if !found {
		return false, nil
	}
	entry, ok := value.(*models.Entry)
	return ok && !entry.IsExpired(), nil
}

// TTL reports the time key has left.
func (l *Layer) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	value, found := l.cache.Get(key)
	if !found {
		return 0, models.ErrKeyNotFound
	}
	entry, ok := value.(*models.Entry)
	if !ok {
		return 0, fmt.Errorf("invalid memory entry type for key: %s", key)
	}
	return entry.Remaining()
}

// Clear drops every entry.
func (l *Layer) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.cache.Clear()
	l.tracker.Reset()
	return nil
}

// Stats returns the layer counters with key count and payload bytes.
func (l *Layer) Stats(_ context.Context) models.LayerStats {
	keys, bytes := l.tracker.Totals()
	return l.counters.Snapshot(cache.MemoryLayerName, keys, bytes)
}

// Name returns the layer name.
func (l *Layer) Name() string { return cache.MemoryLayerName }

// Priority returns the layer priority.
func (l *Layer) Priority() int { return l.priority }

// Close releases the Ristretto goroutines.
func (l *Layer) Close() {
	l.cache.Close()
}
