// Package pixcache is the layered cache and storage management engine of an
// image-serving edge cache.
//
// A Cache combines an in-process memory layer, an optional shared Redis layer
// and a durable file layer behind one get/set API, and keeps the file layer's
// directory within its limits through monitoring, eviction and retention
// cleanup jobs.
package pixcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/pixcache/internal/cache"
	"goflare.io/pixcache/internal/cache/file"
	"goflare.io/pixcache/internal/cache/memory"
	"goflare.io/pixcache/internal/cache/multi"
	"goflare.io/pixcache/internal/cache/remote"
	"goflare.io/pixcache/internal/config"
	"goflare.io/pixcache/internal/keys"
	"goflare.io/pixcache/internal/metrics"
	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/internal/scheduler"
	"goflare.io/pixcache/internal/storage/cleanup"
	"goflare.io/pixcache/internal/storage/eviction"
	"goflare.io/pixcache/internal/storage/monitor"
)

// Job names.
const (
	JobStorageScan         = "storage-scan"
	JobStorageCleanup      = "storage-cleanup"
	JobStorageOptimization = "storage-optimization"
	JobCachePreload        = "cache-preload"
	JobFilterRebuild       = "file-filter-rebuild"
)

// Params are the optional parameters folded into a cache key.
type Params = keys.Params

// Re-exported result types.
type (
	Stats           = models.ManagerStats
	StorageStats    = models.StorageStats
	ThresholdCheck  = models.ThresholdCheck
	EvictionResult  = models.EvictionResult
	CleanupResult   = models.CleanupResult
	RetentionPolicy = models.RetentionPolicy
)

// ImageParams builds key parameters for a transcoded image variant.
func ImageParams(width, height int, format string, quality int) Params {
	return keys.ImageParams(width, height, format, quality)
}

// Cache is the composition root: it owns every layer, service and job.
type Cache struct {
	cfg *config.Config

	manager   *multi.Manager
	memory    *memory.Layer
	file      *file.Layer
	redis     redis.UniversalClient
	ownsRedis bool

	monitor   *monitor.Service
	eviction  *eviction.Service
	cleanup   *cleanup.Service
	scheduler *scheduler.Scheduler

	recorder   metrics.Recorder
	collector  *metrics.Collector
	logger     *zap.Logger
	ownsLogger bool
}

// New builds the cache from the default configuration and opts, runs the
// initial storage scan and starts the scheduler.
func New(ctx context.Context, opts ...Option) (*Cache, error) {
	s := &settings{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// A Config passed with WithConfig brings its own logger.
	ownsLogger := s.logger == nil && s.cfg == nil
	if ownsLogger {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		s.configOpts = append([]config.Option{config.WithLogger(logger)}, s.configOpts...)
	}

	cfg, err := resolveConfig(s)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}

	c := &Cache{
		cfg:        cfg,
		recorder:   s.recorder,
		logger:     cfg.Logger,
		ownsLogger: ownsLogger,
	}
	if c.recorder == nil {
		collector, err := metrics.NewCollector("pixcache")
		if err != nil {
			return nil, err
		}
		c.collector = collector
		c.recorder = collector
	}

	layers, err := c.buildLayers(ctx, s)
	if err != nil {
		c.closeLayers()
		return nil, err
	}

	c.manager, err = multi.NewManager(cfg, layers, c.recorder)
	if err != nil {
		c.closeLayers()
		return nil, fmt.Errorf("failed to initialize cache manager: %w", err)
	}

	if c.file != nil {
		if err := c.buildStorage(ctx); err != nil {
			c.closeLayers()
			return nil, err
		}
	}

	if err := c.buildScheduler(); err != nil {
		c.closeLayers()
		return nil, err
	}
	c.scheduler.Start()
	return c, nil
}

func resolveConfig(s *settings) (*config.Config, error) {
	switch {
	case s.cfg != nil:
		for _, opt := range s.configOpts {
			if err := opt(s.cfg); err != nil {
				return nil, err
			}
		}
		if err := s.cfg.Serialization.Resolve(); err != nil {
			return nil, err
		}
		return s.cfg, s.cfg.Validate()
	case s.configFile != "":
		return config.Load(s.configFile, s.configOpts...)
	default:
		return config.NewConfig(s.configOpts...)
	}
}

func (c *Cache) buildLayers(ctx context.Context, s *settings) ([]cache.Layer, error) {
	cfg := c.cfg
	var layers []cache.Layer

	if cfg.Cache.Memory.Enabled {
		l, err := memory.New(memory.Config{
			MaxSize:    cfg.Cache.Memory.MaxSize,
			DefaultTTL: cfg.Cache.Memory.DefaultTTL,
			Priority:   cache.MemoryPriority,
			Logger:     c.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize memory layer: %w", err)
		}
		c.memory = l
		layers = append(layers, l)
	}

	if cfg.Cache.Remote.Enabled {
		c.redis = s.redis
		if c.redis == nil {
			c.redis = redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.Remote.Addr,
				Password: cfg.Cache.Remote.Password,
				DB:       cfg.Cache.Remote.DB,
			})
			c.ownsRedis = true
		}
		// An unreachable Redis is a layer failure, not a startup failure.
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.logger.Warn("Redis is not reachable, remote layer will fail until it is",
				zap.String("addr", cfg.Cache.Remote.Addr), zap.Error(err))
		}

		r := cfg.Resilience
		l, err := remote.New(c.redis, remote.Config{
			KeyPrefix:        cfg.Cache.Remote.KeyPrefix,
			DefaultTTL:       cfg.Cache.Remote.DefaultTTL,
			OperationTimeout: cfg.Cache.Remote.OperationTimeout,
			Priority:         cache.RemotePriority,
			Resilience: remote.ResilienceConfig{
				MaxRetries:          r.MaxRetries,
				InitialInterval:     r.InitialInterval,
				MaxInterval:         r.MaxInterval,
				Multiplier:          r.Multiplier,
				RandomizationFactor: r.RandomizationFactor,
				BreakerMaxFailures:  r.BreakerMaxFailures,
				BreakerTimeout:      r.BreakerTimeout,
			},
			Logger: c.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize remote layer: %w", err)
		}
		layers = append(layers, l)
	}

	if cfg.Cache.File.Enabled {
		l, err := file.New(file.Config{
			Directory:              cfg.Cache.File.Directory,
			DefaultTTL:             cfg.Cache.File.DefaultTTL,
			Priority:               cache.FilePriority,
			BloomExpectedItems:     cfg.Cache.File.BloomExpectedItems,
			BloomFalsePositiveRate: cfg.Cache.File.BloomFalsePositiveRate,
			Logger:                 c.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file layer: %w", err)
		}
		c.file = l
		layers = append(layers, l)
	}

	return layers, nil
}

func (c *Cache) buildStorage(ctx context.Context) error {
	cfg := c.cfg
	mon, err := monitor.New(monitor.Config{
		Directory:         c.file.Directory(),
		WarningSize:       cfg.Storage.WarningSize,
		CriticalSize:      cfg.Storage.CriticalSize,
		WarningFileCount:  cfg.Storage.WarningFileCount,
		CriticalFileCount: cfg.Storage.CriticalFileCount,
		MaxFileAge:        cfg.Storage.MaxFileAge(),
		TopPatterns:       cfg.Storage.TopPatterns,
		Recorder:          c.recorder,
		Logger:            c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage monitor: %w", err)
	}
	c.monitor = mon
	c.file.SetObserver(mon)

	if err := mon.ScanStorageDirectory(ctx); err != nil {
		c.logger.Warn("Initial storage scan failed", zap.Error(err))
	}

	c.eviction = eviction.New(mon, eviction.Config{
		Strategy: cfg.Storage.Eviction.Strategy,
		Options: eviction.Options{
			MaxFileAge:      cfg.Storage.MaxFileAge(),
			Aggressiveness:  cfg.Storage.Eviction.Aggressiveness,
			PreservePopular: cfg.Storage.Eviction.PreservePopular,
			MinAccessCount:  cfg.Storage.Eviction.MinAccessCount,
		},
		Recorder: c.recorder,
		Logger:   c.logger,
	})

	c.cleanup, err = cleanup.New(mon, c.eviction, cleanup.Config{
		Policies: cfg.Storage.Cleanup.Policies,
		DryRun:   cfg.Storage.Cleanup.DryRun,
		Recorder: c.recorder,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage cleanup: %w", err)
	}
	return nil
}

func (c *Cache) buildScheduler() error {
	cfg := c.cfg
	c.scheduler = scheduler.New(scheduler.Config{
		Disabled: cfg.Scheduler.Disabled,
		Logger:   c.logger,
	})

	type entry struct {
		name string
		spec string
		fn   scheduler.Func
	}
	var jobs []entry

	if cfg.Cache.Preloading.Enabled {
		jobs = append(jobs, entry{JobCachePreload, scheduler.Every(cfg.Cache.Preloading.Interval), func(ctx context.Context) error {
			c.manager.PreloadPopularKeys(ctx)
			return nil
		}})
	}

	if c.monitor != nil {
		jobs = append(jobs,
			entry{JobStorageScan, scheduler.Every(cfg.Storage.ScanInterval), c.monitor.ScanStorageDirectory},
			entry{JobFilterRebuild, scheduler.Every(cfg.Storage.ScanInterval), c.file.RebuildFilter},
		)
		if cfg.Storage.Cleanup.Enabled {
			jobs = append(jobs,
				entry{JobStorageCleanup, cfg.Storage.Cleanup.CronSchedule, c.cleanup.ScheduledCleanup},
				entry{JobStorageOptimization, scheduler.Every(cfg.Storage.Cleanup.OptimizationInterval), c.cleanup.ScheduledOptimization},
			)
		}
	}

	for _, j := range jobs {
		if err := c.scheduler.Add(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// Key returns the cache key for (namespace, id, params).
func (c *Cache) Key(namespace, id string, params Params) (string, error) {
	return keys.Generate(namespace, id, params)
}

// Get returns the cached bytes. A miss is (nil, false, nil).
func (c *Cache) Get(ctx context.Context, namespace, id string, params Params) ([]byte, bool, error) {
	return c.manager.Get(ctx, namespace, id, params)
}

// Set stores value in every layer. ttl <= 0 uses each layer's default.
func (c *Cache) Set(ctx context.Context, namespace, id string, value []byte, ttl time.Duration, params Params) error {
	return c.manager.Set(ctx, namespace, id, value, ttl, params)
}

// GetObject decodes a cached value into v.
func (c *Cache) GetObject(ctx context.Context, namespace, id string, params Params, v any) (bool, error) {
	return c.manager.GetObject(ctx, namespace, id, params, v)
}

// SetObject encodes v and stores it.
func (c *Cache) SetObject(ctx context.Context, namespace, id string, v any, ttl time.Duration, params Params) error {
	return c.manager.SetObject(ctx, namespace, id, v, ttl, params)
}

// Delete removes the value from every layer.
func (c *Cache) Delete(ctx context.Context, namespace, id string, params Params) error {
	return c.manager.Delete(ctx, namespace, id, params)
}

// Exists reports whether any layer holds the value.
func (c *Cache) Exists(ctx context.Context, namespace, id string, params Params) (bool, error) {
	return c.manager.Exists(ctx, namespace, id, params)
}

// Clear empties every layer.
func (c *Cache) Clear(ctx context.Context) {
	c.manager.Clear(ctx)
}

// Stats aggregates per-layer statistics.
func (c *Cache) Stats(ctx context.Context) Stats {
	return c.manager.GetStats(ctx)
}

// Warmup copies the given keys from slower layers into faster ones.
func (c *Cache) Warmup(ctx context.Context, rawKeys []string) int {
	return c.manager.Warmup(ctx, rawKeys)
}

// PreloadPopularKeys promotes the most requested keys now.
func (c *Cache) PreloadPopularKeys(ctx context.Context) int {
	return c.manager.PreloadPopularKeys(ctx)
}

// StorageStats derives statistics from the cache directory.
func (c *Cache) StorageStats(ctx context.Context) (StorageStats, error) {
	if c.monitor == nil {
		return StorageStats{}, ErrStorageDisabled
	}
	return c.monitor.GetStorageStats(ctx)
}

// CheckThresholds evaluates the storage limits.
func (c *Cache) CheckThresholds(ctx context.Context) (ThresholdCheck, error) {
	if c.monitor == nil {
		return ThresholdCheck{}, ErrStorageDisabled
	}
	return c.monitor.CheckThresholds(ctx)
}

// PerformEviction evicts with the configured strategy. targetSize <= 0 evicts
// 20% of the stored bytes.
func (c *Cache) PerformEviction(ctx context.Context, targetSize int64) (EvictionResult, error) {
	if c.eviction == nil {
		return EvictionResult{}, ErrStorageDisabled
	}
	return c.eviction.PerformEviction(ctx, targetSize), nil
}

// PerformCleanup applies the named retention policies, or every enabled one.
func (c *Cache) PerformCleanup(ctx context.Context, policies []string, dryRun bool) (CleanupResult, error) {
	if c.cleanup == nil {
		return CleanupResult{}, ErrStorageDisabled
	}
	return c.cleanup.PerformCleanup(ctx, policies, dryRun)
}

// Cleanup exposes retention policy management.
func (c *Cache) Cleanup() *cleanup.Service {
	return c.cleanup
}

// Eviction exposes strategy registration.
func (c *Cache) Eviction() *eviction.Service {
	return c.eviction
}

// Scheduler exposes the background jobs.
func (c *Cache) Scheduler() *scheduler.Scheduler {
	return c.scheduler
}

// MetricsHandler serves the Prometheus metrics, or nil with WithMetrics.
func (c *Cache) MetricsHandler() http.Handler {
	if c.collector == nil {
		return nil
	}
	return c.collector.Handler()
}

// Close stops the scheduler and releases the layers.
func (c *Cache) Close(ctx context.Context) error {
	var errs []error
	if c.scheduler != nil {
		if err := c.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop scheduler: %w", err))
		}
	}
	if err := c.closeLayers(); err != nil {
		errs = append(errs, err)
	}
	if c.ownsLogger {
		// Sync fails on terminals; nothing to report.
		_ = c.logger.Sync()
	}
	return errors.Join(errs...)
}

func (c *Cache) closeLayers() error {
	if c.memory != nil {
		c.memory.Close()
	}
	if c.redis != nil && c.ownsRedis {
		if err := c.redis.Close(); err != nil {
			return fmt.Errorf("failed to close redis client: %w", err)
		}
	}
	return nil
}
