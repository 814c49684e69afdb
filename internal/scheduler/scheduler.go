// Package scheduler runs the named background jobs of the cache.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
)

// Func is the body of a job.
type Func func(ctx context.Context) error

// Config configures the scheduler.
type Config struct {
	// Disabled keeps every job registered but never triggers it on schedule.
	// RunNow still works.
	Disabled bool
	Logger   *zap.Logger
}

type job struct {
	name string
	spec string
	fn   Func
}

// Scheduler owns the cron runner and the registered jobs.
type Scheduler struct {
	cron     *cron.Cron
	disabled bool

	mu   sync.Mutex
	jobs map[string]job

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// New creates a stopped scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger.With(zap.String("component", "scheduler"))
	adapter := cronLogger{logger.Sugar()}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		disabled: cfg.Disabled,
		jobs:     make(map[string]job),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Every returns a schedule firing at a fixed interval.
func Every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// Add registers a job under a standard cron expression or descriptor.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	j := job{name: name, spec: spec, fn: fn}
	s.jobs[name] = j
	if s.disabled {
		s.logger.Debug("Schedules disabled, job not scheduled", zap.String("job", name))
		return nil
	}

	if _, err := s.cron.AddFunc(spec, func() { s.run(s.ctx, j) }); err != nil {
		delete(s.jobs, name)
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, j job) error {
	start := time.Now()
	err := j.fn(ctx)
	if err != nil {
		s.logger.Warn("Job failed",
			zap.String("job", j.name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	s.logger.Debug("Job finished", zap.String("job", j.name), zap.Duration("duration", time.Since(start)))
	return nil
}

// RunNow runs a job synchronously, regardless of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Disabled reports whether schedules are turned off.
func (s *Scheduler) Disabled() bool {
	return s.disabled
}

// Start begins triggering jobs on their schedules.
func (s *Scheduler) Start() {
	if s.disabled {
		return
	}
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Strings("jobs", s.Jobs()))
}

// Stop cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
