// Package eviction removes cached files chosen by a named selection strategy.
package eviction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/pixcache/internal/metrics"
	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/internal/storage"
)

const (
	warningTargetRatio  = 0.2
	criticalTargetRatio = 0.4
)

// Monitor is the part of the monitoring service eviction depends on.
type Monitor interface {
	Directory() string
	DefaultEvictionTarget(ctx context.Context) (int64, error)
	GetEvictionCandidates(ctx context.Context, targetSize int64) ([]models.EvictionCandidate, error)
	CheckThresholds(ctx context.Context) (models.ThresholdCheck, error)
	Forget(name string)
}

// Config configures the eviction service.
type Config struct {
	Strategy string
	Options
	Recorder metrics.Recorder
	Logger   *zap.Logger
}

// Service runs eviction passes against the monitored directory.
type Service struct {
	monitor  Monitor
	strategy string

	mu         sync.RWMutex
	strategies map[string]Strategy

	recorder metrics.Recorder
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New creates the service with the built-in strategies registered.
func New(monitor Monitor, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Strategy == "" {
		cfg.Strategy = Intelligent
	}

	return &Service{
		monitor:    monitor,
		strategy:   cfg.Strategy,
		strategies: builtins(cfg.Options),
		recorder:   cfg.Recorder,
		tracer:     otel.Tracer("storage"),
		logger:     cfg.Logger.With(zap.String("component", "eviction")),
	}
}

// RegisterStrategy adds or replaces a strategy.
func (s *Service) RegisterStrategy(name string, strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[name] = strategy
}

// Strategies lists the registered strategy names.
func (s *Service) Strategies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Strategy returns the configured strategy name.
func (s *Service) Strategy() string {
	return s.strategy
}

// PerformEviction evicts with the configured strategy.
func (s *Service) PerformEviction(ctx context.Context, targetSize int64) models.EvictionResult {
	return s.PerformEvictionWith(ctx, s.strategy, targetSize)
}

// PerformEvictionWith asks the monitor for the lowest scoring files covering
// targetSize, lets the named strategy choose among them and deletes the
// choice. targetSize <= 0 targets 20% of the stored bytes. Per-file failures
// are collected in the result; an unknown strategy yields a result with no
// work done and a single error.
func (s *Service) PerformEvictionWith(ctx context.Context, strategy string, targetSize int64) models.EvictionResult {
	ctx, span := s.tracer.Start(ctx, "Eviction.Perform", trace.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Int64("target_size", targetSize)))
	defer span.End()

	start := time.Now()
	result := models.EvictionResult{Strategy: strategy, Errors: []string{}}

	s.mu.RLock()
	selectFn, ok := s.strategies[strategy]
	s.mu.RUnlock()
	if !ok {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %q", models.ErrUnknownStrategy, strategy))
		result.Duration = time.Since(start)
		s.logger.Error("Eviction aborted", zap.String("strategy", strategy), zap.Error(models.ErrUnknownStrategy))
		return result
	}

	target := targetSize
	if target <= 0 {
		var err error
		if target, err = s.monitor.DefaultEvictionTarget(ctx); err != nil {
			return s.failed(result, start, err)
		}
	}
	if target <= 0 {
		result.Duration = time.Since(start)
		return result
	}

	candidates, err := s.monitor.GetEvictionCandidates(ctx, target)
	if err != nil {
		return s.failed(result, start, err)
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	dir := s.monitor.Directory()
	for _, c := range selectFn(candidates, target) {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			break
		}
		freed, removed, err := storage.RemoveArtifact(dir, c.FileName)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			s.logger.Warn("Failed to evict file", zap.String("file", c.FileName), zap.Error(err))
			continue
		}
		s.monitor.Forget(c.FileName)
		if removed {
			result.FilesEvicted++
			result.SizeFreed += freed
		}
	}

	result.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("files_evicted", result.FilesEvicted))
	s.recorder.ObserveEviction(result)
	s.logger.Info("Eviction finished",
		zap.String("strategy", strategy),
		zap.Int("files", result.FilesEvicted),
		zap.Int64("bytes", result.SizeFreed),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration))
	return result
}

func (s *Service) failed(result models.EvictionResult, start time.Time, err error) models.EvictionResult {
	result.Errors = append(result.Errors, err.Error())
	result.Duration = time.Since(start)
	s.logger.Error("Eviction aborted", zap.String("strategy", result.Strategy), zap.Error(err))
	return result
}

// PerformThresholdBasedEviction evicts 20% of the stored bytes on warning and
// 40% on critical. It returns nil when storage is healthy.
func (s *Service) PerformThresholdBasedEviction(ctx context.Context) (*models.EvictionResult, error) {
	check, err := s.monitor.CheckThresholds(ctx)
	if err != nil {
		return nil, err
	}

	var ratio float64
	switch check.Status {
	case models.StatusCritical:
		ratio = criticalTargetRatio
	case models.StatusWarning:
		ratio = warningTargetRatio
	default:
		return nil, nil
	}

	target := int64(float64(check.Stats.TotalSize) * ratio)
	s.logger.Info("Threshold eviction triggered",
		zap.String("status", string(check.Status)),
		zap.Int64("target", target))
	result := s.PerformEviction(ctx, target)
	return &result, nil
}
