// Package multi implements the manager that presents an ordered set of cache
// layers as a single cache.
package multi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/pixcache/internal/cache"
	"goflare.io/pixcache/internal/config"
	"goflare.io/pixcache/internal/keys"
	"goflare.io/pixcache/internal/metrics"
	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/pkg/serialization"
)

// AggregateLayer is the layer label used for manager-level observations.
const AggregateLayer = "multi-layer"

// ErrNoLayers is returned when the manager is built without any layer.
var ErrNoLayers = errors.New("multi-layer cache needs at least one layer")

// Manager cascades reads through its layers in priority order and fans
// writes out to all of them. Layer failures never reach the caller.
type Manager struct {
	layers     []cache.Layer
	popularity *Popularity
	ttl        AdaptiveTTL
	preloadN   int

	encoder func(io.Writer) serialization.Encoder
	decoder func(io.Reader) serialization.Decoder

	recorder metrics.Recorder
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewManager sorts layers ascending by priority and builds the manager.
func NewManager(cfg *config.Config, layers []cache.Layer, recorder metrics.Recorder) (*Manager, error) {
	if len(layers) == 0 {
		return nil, ErrNoLayers
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	sorted := make([]cache.Layer, len(layers))
	copy(sorted, layers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	m := &Manager{
		layers: sorted,
		ttl: AdaptiveTTL{
			Enabled: cfg.Cache.AdaptiveTTL.Enabled,
			MinTTL:  cfg.Cache.AdaptiveTTL.MinTTL,
			MaxTTL:  cfg.Cache.AdaptiveTTL.MaxTTL,
		},
		preloadN: cfg.Cache.Preloading.TopN,
		encoder:  cfg.Serialization.Encoder,
		decoder:  cfg.Serialization.Decoder,
		recorder: recorder,
		tracer:   otel.Tracer("cache"),
		logger:   cfg.Logger,
	}
	if m.encoder == nil || m.decoder == nil {
		m.encoder, m.decoder = serialization.JSONEncoder, serialization.JSONDecoder
	}
	if cfg.Cache.Preloading.Enabled || cfg.Cache.AdaptiveTTL.Enabled {
		m.popularity = NewPopularity(cfg.Cache.Preloading.MaxTrackedKeys)
	}

	names := make([]string, len(sorted))
	for i, l := range sorted {
		names[i] = l.Name()
	}
	m.logger.Info("Multi-layer cache ready", zap.Strings("layers", names))
	return m, nil
}

// Layers returns the layers in lookup order.
func (m *Manager) Layers() []cache.Layer {
	return m.layers
}

// Get looks the key up layer by layer. On a hit every faster layer is
// backfilled before the value is returned. The error is non-nil only when
// the key cannot be built.
func (m *Manager) Get(ctx context.Context, namespace, id string, params keys.Params) ([]byte, bool, error) {
	key, err := keys.Generate(namespace, id, params)
	if err != nil {
		return nil, false, err
	}
	value, found := m.GetKey(ctx, key)
	return value, found, nil
}

// GetKey is Get for an already generated key.
func (m *Manager) GetKey(ctx context.Context, key string) ([]byte, bool) {
	ctx, span := m.tracer.Start(ctx, "Manager.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	var count int64
	if m.popularity != nil {
		count = m.popularity.Increment(key)
	}

	value, index := m.lookup(ctx, key)
	if index < 0 {
		m.recorder.ObserveCacheOperation("get", AggregateLayer, metrics.OutcomeMiss, time.Since(start))
		return nil, false
	}

	if index > 0 {
		m.backfill(ctx, key, value, m.layers[:index], m.backfillTTL(ctx, m.layers[index], key, count))
	}

	layer := m.layers[index].Name()
	span.SetAttributes(attribute.String("layer", layer))
	m.recorder.ObserveCacheOperation("get", layer, metrics.OutcomeHit, time.Since(start))
	return value, true
}

// lookup returns the value and the index of the first layer holding key, or -1.
func (m *Manager) lookup(ctx context.Context, key string) ([]byte, int) {
	for i, layer := range m.layers {
		value, found, err := layer.Get(ctx, key)
		if err != nil {
			m.layerFailed("get", layer, key, err)
			continue
		}
		if found {
			return value, i
		}
	}
	return nil, -1
}

// backfillTTL is the adaptive TTL for count accesses, capped at what the
// entry has left in source. Zero keeps each layer's default.
func (m *Manager) backfillTTL(ctx context.Context, source cache.Layer, key string, count int64) time.Duration {
	ttl := m.ttl.For(count)
	if ttl <= 0 {
		return 0
	}
	expirer, ok := source.(cache.Expirer)
	if !ok {
		return ttl
	}

	remaining, err := expirer.TTL(ctx, key)
	switch {
	case err != nil:
		m.logger.Debug("Source TTL unavailable",
			zap.String("layer", source.Name()), zap.String("key", key), zap.Error(err))
	case remaining > 0 && remaining < ttl:
		return remaining
	}
	return ttl
}

func (m *Manager) backfill(ctx context.Context, key string, value []byte, targets []cache.Layer, ttl time.Duration) int {
	return m.fanOut(ctx, "backfill", key, targets, func(ctx context.Context, l cache.Layer) error {
		return l.Set(ctx, key, value, ttl)
	})
}

// fanOut runs fn on every layer concurrently and waits for all of them.
// Failures are logged per layer; the number of failed layers is returned.
func (m *Manager) fanOut(ctx context.Context, op, key string, layers []cache.Layer, fn func(context.Context, cache.Layer) error) int {
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, layer := range layers {
		g.Go(func() error {
			if err := fn(gctx, layer); err != nil {
				failed.Inc()
				m.layerFailed(op, layer, key, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func (m *Manager) layerFailed(op string, layer cache.Layer, key string, err error) {
	m.logger.Warn("Cache layer operation failed",
		zap.String("operation", op),
		zap.String("layer", layer.Name()),
		zap.String("key", key),
		zap.Error(err))
	m.recorder.ObserveCacheOperation(op, layer.Name(), metrics.OutcomeError, 0)
}

// Set writes value to every layer concurrently. A failing layer does not
// fail the call; only an invalid key does.
func (m *Manager) Set(ctx context.Context, namespace, id string, value []byte, ttl time.Duration, params keys.Params) error {
	key, err := keys.Generate(namespace, id, params)
	if err != nil {
		return err
	}
	m.SetKey(ctx, key, value, ttl)
	return nil
}

// SetKey is Set for an already generated key.
func (m *Manager) SetKey(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, span := m.tracer.Start(ctx, "Manager.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	failed := m.fanOut(ctx, "set", key, m.layers, func(ctx context.Context, l cache.Layer) error {
		return l.Set(ctx, key, value, ttl)
	})
	m.recorder.ObserveCacheOperation("set", AggregateLayer, outcome(failed, len(m.layers)), time.Since(start))
}

// GetObject decodes a cached value into v with the configured serialization.
func (m *Manager) GetObject(ctx context.Context, namespace, id string, params keys.Params, v any) (bool, error) {
	data, found, err := m.Get(ctx, namespace, id, params)
	if err != nil || !found {
		return false, err
	}
	if err := serialization.Unmarshal(m.decoder, data, v); err != nil {
		return false, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return true, nil
}

// SetObject encodes v with the configured serialization and stores it.
func (m *Manager) SetObject(ctx context.Context, namespace, id string, v any, ttl time.Duration, params keys.Params) error {
	data, err := serialization.Marshal(m.encoder, v)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	return m.Set(ctx, namespace, id, data, ttl, params)
}

// Delete removes the key from every layer and from popularity tracking.
func (m *Manager) Delete(ctx context.Context, namespace, id string, params keys.Params) error {
	key, err := keys.Generate(namespace, id, params)
	if err != nil {
		return err
	}

	ctx, span := m.tracer.Start(ctx, "Manager.Delete", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	failed := m.fanOut(ctx, "delete", key, m.layers, func(ctx context.Context, l cache.Layer) error {
		return l.Delete(ctx, key)
	})
	if m.popularity != nil {
		m.popularity.Remove(key)
	}
	m.recorder.ObserveCacheOperation("delete", AggregateLayer, outcome(failed, len(m.layers)), time.Since(start))
	return nil
}

// Clear empties every layer and resets popularity tracking.
func (m *Manager) Clear(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "Manager.Clear")
	defer span.End()
	start := time.Now()

	failed := m.fanOut(ctx, "clear", "*", m.layers, func(ctx context.Context, l cache.Layer) error {
		return l.Clear(ctx)
	})
	if m.popularity != nil {
		m.popularity.Reset()
	}
	m.recorder.ObserveCacheOperation("clear", AggregateLayer, outcome(failed, len(m.layers)), time.Since(start))
}

// Exists reports whether any layer holds the key, stopping at the first that does.
func (m *Manager) Exists(ctx context.Context, namespace, id string, params keys.Params) (bool, error) {
	key, err := keys.Generate(namespace, id, params)
	if err != nil {
		return false, err
	}

	ctx, span := m.tracer.Start(ctx, "Manager.Exists", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	for _, layer := range m.layers {
		ok, err := layer.Exists(ctx, key)
		if err != nil {
			m.layerFailed("exists", layer, key, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// GetStats aggregates the stats of every layer.
func (m *Manager) GetStats(ctx context.Context) models.ManagerStats {
	stats := models.ManagerStats{
		Layers:               make([]models.LayerStats, 0, len(m.layers)),
		LayerHitDistribution: make(map[string]float64, len(m.layers)),
	}

	for _, layer := range m.layers {
		s := layer.Stats(ctx)
		stats.Layers = append(stats.Layers, s)
		stats.TotalHits += s.Hits
		stats.TotalMisses += s.Misses
	}

	if total := stats.TotalHits + stats.TotalMisses; total > 0 {
		stats.OverallHitRate = float64(stats.TotalHits) / float64(total)
	}
	for _, s := range stats.Layers {
		var share float64
		if stats.TotalHits > 0 {
			share = float64(s.Hits) / float64(stats.TotalHits)
		}
		stats.LayerHitDistribution[s.Layer] = share
	}
	if m.popularity != nil {
		stats.TrackedPopularKeys = m.popularity.Len()
	}
	return stats
}

// PreloadPopularKeys promotes the most accessed keys: each is looked up from
// the slowest layer to the fastest and, on the first hit, written into every
// faster layer. It returns the number of keys promoted.
func (m *Manager) PreloadPopularKeys(ctx context.Context) int {
	if m.popularity == nil {
		return 0
	}

	ctx, span := m.tracer.Start(ctx, "Manager.PreloadPopularKeys")
	defer span.End()

	promoted := 0
	for _, key := range m.popularity.Top(m.preloadN) {
		if ctx.Err() != nil {
			break
		}
		if m.promote(ctx, key) {
			promoted++
		}
	}

	span.SetAttributes(attribute.Int("promoted", promoted))
	m.logger.Debug("Preloaded popular keys", zap.Int("promoted", promoted))
	return promoted
}

func (m *Manager) promote(ctx context.Context, key string) bool {
	for i := len(m.layers) - 1; i >= 0; i-- {
		value, found, err := m.layers[i].Get(ctx, key)
		if err != nil {
			m.layerFailed("preload", m.layers[i], key, err)
			continue
		}
		if !found {
			continue
		}
		if i > 0 {
			m.backfill(ctx, key, value, m.layers[:i], m.backfillTTL(ctx, m.layers[i], key, m.popularity.Count(key)))
		}
		return true
	}
	return false
}

// Warmup runs a cascading lookup for each key so that values held by slower
// layers are copied into faster ones. It returns the number of keys found.
func (m *Manager) Warmup(ctx context.Context, rawKeys []string) int {
	found := 0
	for _, key := range rawKeys {
		if ctx.Err() != nil {
			break
		}
		value, index := m.lookup(ctx, key)
		if index < 0 {
			continue
		}
		found++
		if index > 0 {
			m.backfill(ctx, key, value, m.layers[:index], 0)
		}
	}
	m.logger.Info("Cache warmup finished", zap.Int("requested", len(rawKeys)), zap.Int("found", found))
	return found
}

func outcome(failed, total int) string {
	if total > 0 && failed == total {
		return metrics.OutcomeError
	}
	return metrics.OutcomeOK
}
