// Package cleanup applies named retention policies to the cache directory and
// falls back to threshold eviction when storage stays under pressure.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/pixcache/internal/metrics"
	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/internal/storage"
)

// Monitor is the part of the monitoring service cleanup depends on.
type Monitor interface {
	Directory() string
	ScanStorageDirectory(ctx context.Context) error
	Forget(name string)
}

// Evictor runs threshold-based eviction.
type Evictor interface {
	PerformThresholdBasedEviction(ctx context.Context) (*models.EvictionResult, error)
}

// Config configures the cleanup service.
type Config struct {
	Policies []models.RetentionPolicy
	// DryRun applies to scheduled runs.
	DryRun   bool
	Recorder metrics.Recorder
	Logger   *zap.Logger
}

// Service owns the ordered retention policies. Only one run is active at a time.
type Service struct {
	monitor Monitor
	evictor Evictor
	dryRun  bool

	mu       sync.RWMutex
	policies []*policy

	running  atomic.Bool
	now      func() time.Time
	recorder metrics.Recorder
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New creates the service with the given policies, in order.
func New(monitor Monitor, evictor Evictor, cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.Nop{}
	}

	s := &Service{
		monitor:  monitor,
		evictor:  evictor,
		dryRun:   cfg.DryRun,
		now:      time.Now,
		recorder: cfg.Recorder,
		tracer:   otel.Tracer("storage"),
		logger:   cfg.Logger.With(zap.String("component", "cleanup")),
	}
	for _, p := range cfg.Policies {
		if err := s.AddPolicy(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddPolicy appends a policy. Names are unique.
func (s *Service) AddPolicy(p models.RetentionPolicy) error {
	compiled, err := compile(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(p.Name) >= 0 {
		return fmt.Errorf("%w: %s", models.ErrPolicyExists, p.Name)
	}
	s.policies = append(s.policies, compiled)
	return nil
}

// UpdatePolicy replaces the policy with the same name, keeping its position.
func (s *Service) UpdatePolicy(p models.RetentionPolicy) error {
	compiled, err := compile(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(p.Name)
	if i < 0 {
		return fmt.Errorf("%w: %s", models.ErrUnknownPolicy, p.Name)
	}
	s.policies[i] = compiled
	return nil
}

// RemovePolicy deletes the named policy.
func (s *Service) RemovePolicy(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", models.ErrUnknownPolicy, name)
	}
	s.policies = append(s.policies[:i], s.policies[i+1:]...)
	return nil
}

// Policies returns a copy of the policies in order.
func (s *Service) Policies() []models.RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RetentionPolicy, len(s.policies))
	for i, p := range s.policies {
		out[i] = p.RetentionPolicy
	}
	return out
}

func (s *Service) indexOf(name string) int {
	for i, p := range s.policies {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// IsRunning reports whether a cleanup run is in progress.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// selectPolicies returns the enabled policies, or exactly the named ones
// (enabled or not). Unknown names are returned separately.
func (s *Service) selectPolicies(names []string) ([]*policy, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(names) == 0 {
		out := make([]*policy, 0, len(s.policies))
		for _, p := range s.policies {
			if p.Enabled {
				out = append(out, p)
			}
		}
		return out, nil
	}

	var (
		out     []*policy
		unknown []string
	)
	for _, name := range names {
		if i := s.indexOf(name); i >= 0 {
			out = append(out, s.policies[i])
		} else {
			unknown = append(unknown, name)
		}
	}
	return out, unknown
}

// PerformCleanup applies the selected policies in order. With dryRun the
// result reports what would be removed and nothing is deleted. A real run
// that leaves storage above its thresholds continues with threshold eviction.
// It fails with ErrCleanupInProgress while another run is active.
func (s *Service) PerformCleanup(ctx context.Context, names []string, dryRun bool) (models.CleanupResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return models.CleanupResult{DryRun: dryRun}, models.ErrCleanupInProgress
	}
	defer s.running.Store(false)

	ctx, span := s.tracer.Start(ctx, "Cleanup.Perform", trace.WithAttributes(attribute.Bool("dry_run", dryRun)))
	defer span.End()

	start := time.Now()
	result := models.CleanupResult{
		DryRun:          dryRun,
		Errors:          []string{},
		PoliciesApplied: []string{},
	}

	policies, unknown := s.selectPolicies(names)
	for _, name := range unknown {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", models.ErrUnknownPolicy, name))
	}

	dir := s.monitor.Directory()
	claimed := make(map[string]struct{})
	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			break
		}

		files, err := storage.ListFiles(dir)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("policy %s: %v", p.Name, err))
			continue
		}

		s.apply(p, files, claimed, dir, dryRun, &result)
		result.PoliciesApplied = append(result.PoliciesApplied, p.Name)
	}

	if !dryRun && s.evictor != nil {
		eviction, err := s.evictor.PerformThresholdBasedEviction(ctx)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("threshold eviction: %v", err))
		} else if eviction != nil {
			result.Eviction = eviction
			result.FilesRemoved += eviction.FilesEvicted
			result.SizeFreed += eviction.SizeFreed
			result.Errors = append(result.Errors, eviction.Errors...)
		}
	}

	result.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("files_removed", result.FilesRemoved))
	s.recorder.ObserveCleanup(result)
	s.logger.Info("Cleanup finished",
		zap.Bool("dry_run", dryRun),
		zap.Strings("policies", result.PoliciesApplied),
		zap.Int("files", result.FilesRemoved),
		zap.Int64("bytes", result.SizeFreed),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (s *Service) apply(p *policy, files []storage.FileEntry, claimed map[string]struct{}, dir string, dryRun bool, result *models.CleanupResult) {
	for _, f := range p.selectFiles(files, claimed, s.now()) {
		claimed[f.Name] = struct{}{}

		if dryRun {
			s.logger.Debug("Would remove file", zap.String("policy", p.Name), zap.String("file", f.Name))
			result.FilesRemoved++
			result.SizeFreed += f.Size
			continue
		}

		freed, removed, err := storage.RemoveArtifact(dir, f.Name)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("policy %s: %v", p.Name, err))
			continue
		}
		s.monitor.Forget(f.Name)
		if removed {
			result.FilesRemoved++
			result.SizeFreed += freed
		}
	}
}

// ScheduledCleanup runs every enabled policy with the configured dry-run mode.
func (s *Service) ScheduledCleanup(ctx context.Context) error {
	_, err := s.PerformCleanup(ctx, nil, s.dryRun)
	return err
}

// ScheduledOptimization rescans the directory and evicts if thresholds are
// breached. It does nothing while a cleanup run is active.
func (s *Service) ScheduledOptimization(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return models.ErrCleanupInProgress
	}
	defer s.running.Store(false)

	if err := s.monitor.ScanStorageDirectory(ctx); err != nil {
		return err
	}
	if s.evictor == nil {
		return nil
	}
	result, err := s.evictor.PerformThresholdBasedEviction(ctx)
	if err != nil {
		return err
	}
	if result != nil {
		s.logger.Info("Storage optimization evicted files",
			zap.Int("files", result.FilesEvicted),
			zap.Int64("bytes", result.SizeFreed))
	}
	return nil
}
