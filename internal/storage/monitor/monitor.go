// Package monitor tracks per-file access patterns in the cache directory and
// evaluates storage pressure.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/pixcache/internal/metrics"
	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/internal/storage"
)

const (
	defaultTargetRatio = 0.2
	defaultTopPatterns = 10
	bytesPerMB         = 1024 * 1024
)

// Config configures the monitoring service.
type Config struct {
	Directory         string
	WarningSize       int64
	CriticalSize      int64
	WarningFileCount  int
	CriticalFileCount int
	MaxFileAge        time.Duration
	TopPatterns       int
	Recorder          metrics.Recorder
	Logger            *zap.Logger
}

// Service owns the access-pattern index of the cache directory. The index is
// populated by the startup scan, updated by scans and by access and write
// notifications, and never persisted: the directory is the source of truth.
type Service struct {
	cfg      Config
	mu       sync.RWMutex
	patterns map[string]*models.AccessPattern
	scans    singleflight.Group
	now      func() time.Time
	recorder metrics.Recorder
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New creates the service. The index stays empty until the first scan.
func New(cfg Config) (*Service, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("monitor: directory cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.Nop{}
	}
	if cfg.TopPatterns <= 0 {
		cfg.TopPatterns = defaultTopPatterns
	}
	if err := storage.EnsureDir(cfg.Directory); err != nil {
		return nil, err
	}

	return &Service{
		cfg:      cfg,
		patterns: make(map[string]*models.AccessPattern),
		now:      time.Now,
		recorder: cfg.Recorder,
		tracer:   otel.Tracer("storage"),
		logger:   cfg.Logger.With(zap.String("component", "storage-monitor")),
	}, nil
}

// Directory returns the monitored directory.
func (s *Service) Directory() string {
	return s.cfg.Directory
}

// ScanStorageDirectory reconciles the index with the directory: sizes are
// refreshed, new files are added and entries for vanished files are dropped.
// Access counts and last access times of known files are left untouched.
// Concurrent calls share one scan.
func (s *Service) ScanStorageDirectory(ctx context.Context) error {
	_, err, _ := s.scans.Do("scan", func() (any, error) {
		return nil, s.scan(ctx)
	})
	return err
}

func (s *Service) scan(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "Monitor.Scan", trace.WithAttributes(attribute.String("directory", s.cfg.Directory)))
	defer span.End()
	start := time.Now()

	files, err := storage.ListFiles(s.cfg.Directory)
	if err != nil {
		s.logger.Error("Storage scan failed", zap.Error(err))
		return err
	}

	seen := make(map[string]struct{}, len(files))

	s.mu.Lock()
	for _, f := range files {
		seen[f.Name] = struct{}{}
		if p, ok := s.patterns[f.Name]; ok {
			p.Size = f.Size
			p.Extension = f.Extension
			continue
		}
		s.patterns[f.Name] = &models.AccessPattern{
			FileName:     f.Name,
			LastAccessed: f.ModTime,
			AccessCount:  1,
			Size:         f.Size,
			Extension:    f.Extension,
		}
	}
	removed := 0
	for name := range s.patterns {
		if _, ok := seen[name]; !ok {
			delete(s.patterns, name)
			removed++
		}
	}
	tracked := len(s.patterns)
	s.mu.Unlock()

	s.recorder.ObserveStorage(s.summarize(files), "")
	span.SetAttributes(attribute.Int("files", len(files)))
	s.logger.Debug("Storage scan finished",
		zap.Int("files", len(files)),
		zap.Int("tracked", tracked),
		zap.Int("removed", removed),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// GetStorageStats derives totals from the directory itself, so the result
// is current even when no scan has run recently.
func (s *Service) GetStorageStats(_ context.Context) (models.StorageStats, error) {
	files, err := storage.ListFiles(s.cfg.Directory)
	if err != nil {
		return models.StorageStats{FileTypes: map[string]int{}}, err
	}
	return s.summarize(files), nil
}

func (s *Service) summarize(files []storage.FileEntry) models.StorageStats {
	stats := models.StorageStats{FileTypes: make(map[string]int)}

	for _, f := range files {
		stats.TotalFiles++
		stats.TotalSize += f.Size
		stats.FileTypes[f.Extension]++
		if stats.OldestFile.IsZero() || f.ModTime.Before(stats.OldestFile) {
			stats.OldestFile = f.ModTime
		}
		if f.ModTime.After(stats.NewestFile) {
			stats.NewestFile = f.ModTime
		}
	}
	if stats.TotalFiles > 0 {
		stats.AverageFileSize = stats.TotalSize / int64(stats.TotalFiles)
	}

	patterns := s.Patterns()
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].AccessCount == patterns[j].AccessCount {
			return patterns[i].FileName < patterns[j].FileName
		}
		return patterns[i].AccessCount > patterns[j].AccessCount
	})
	if len(patterns) > s.cfg.TopPatterns {
		patterns = patterns[:s.cfg.TopPatterns]
	}
	stats.AccessPatterns = patterns
	return stats
}

// CheckThresholds evaluates current stats against the configured limits.
// The status is the worst of all matching conditions.
func (s *Service) CheckThresholds(ctx context.Context) (models.ThresholdCheck, error) {
	stats, err := s.GetStorageStats(ctx)
	if err != nil {
		return models.ThresholdCheck{Status: models.StatusHealthy, Stats: stats}, err
	}

	check := models.ThresholdCheck{Status: models.StatusHealthy, Stats: stats}
	escalate := func(status models.ThresholdStatus, issue string) {
		check.Issues = append(check.Issues, issue)
		if severity(status) > severity(check.Status) {
			check.Status = status
		}
	}

	switch {
	case s.cfg.CriticalSize > 0 && stats.TotalSize >= s.cfg.CriticalSize:
		escalate(models.StatusCritical, fmt.Sprintf("storage size %s exceeds critical threshold %s",
			humanize.IBytes(uint64(stats.TotalSize)), humanize.IBytes(uint64(s.cfg.CriticalSize))))
	case s.cfg.WarningSize > 0 && stats.TotalSize >= s.cfg.WarningSize:
		escalate(models.StatusWarning, fmt.Sprintf("storage size %s exceeds warning threshold %s",
			humanize.IBytes(uint64(stats.TotalSize)), humanize.IBytes(uint64(s.cfg.WarningSize))))
	}

	switch {
	case s.cfg.CriticalFileCount > 0 && stats.TotalFiles >= s.cfg.CriticalFileCount:
		escalate(models.StatusCritical, fmt.Sprintf("file count %s exceeds critical threshold %s",
			humanize.Comma(int64(stats.TotalFiles)), humanize.Comma(int64(s.cfg.CriticalFileCount))))
	case s.cfg.WarningFileCount > 0 && stats.TotalFiles >= s.cfg.WarningFileCount:
		escalate(models.StatusWarning, fmt.Sprintf("file count %s exceeds warning threshold %s",
			humanize.Comma(int64(stats.TotalFiles)), humanize.Comma(int64(s.cfg.WarningFileCount))))
	}

	if s.cfg.MaxFileAge > 0 {
		if stale := s.countOlderThan(s.cfg.MaxFileAge); stale > 0 {
			escalate(models.StatusWarning, fmt.Sprintf("%d files not accessed for more than %d days",
				stale, int(s.cfg.MaxFileAge.Hours()/24)))
		}
	}

	s.recorder.ObserveStorage(stats, check.Status)
	if check.Status != models.StatusHealthy {
		s.logger.Warn("Storage thresholds breached",
			zap.String("status", string(check.Status)),
			zap.Strings("issues", check.Issues))
	}
	return check, nil
}

func severity(status models.ThresholdStatus) int {
	switch status {
	case models.StatusCritical:
		return 2
	case models.StatusWarning:
		return 1
	default:
		return 0
	}
}

func (s *Service) countOlderThan(age time.Duration) int {
	cutoff := s.now().Add(-age)
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.patterns {
		if p.LastAccessed.Before(cutoff) {
			n++
		}
	}
	return n
}

// CalculateEvictionScore scores a pattern; lower scores are evicted first.
//
//	age    = min(daysSinceLastAccess*10, 1000)
//	access = max(1000 - accessCount*10, 0)
//	size   = min(sizeMB, 100)
func (s *Service) CalculateEvictionScore(p models.AccessPattern) float64 {
	ageDays := s.now().Sub(p.LastAccessed).Hours() / 24
	ageScore := math.Min(ageDays*10, 1000)
	accessScore := math.Max(1000-float64(p.AccessCount)*10, 0)
	sizeScore := math.Min(float64(p.Size)/bytesPerMB, 100)
	return ageScore + accessScore + sizeScore
}

// RankedCandidates scores every tracked file and sorts them ascending by score.
func (s *Service) RankedCandidates(_ context.Context) []models.EvictionCandidate {
	patterns := s.Patterns()
	candidates := make([]models.EvictionCandidate, len(patterns))
	for i, p := range patterns {
		candidates[i] = models.EvictionCandidate{AccessPattern: p, Score: s.CalculateEvictionScore(p)}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].FileName < candidates[j].FileName
		}
		return candidates[i].Score < candidates[j].Score
	})
	return candidates
}

// DefaultEvictionTarget is 20% of the bytes currently in the directory.
func (s *Service) DefaultEvictionTarget(ctx context.Context) (int64, error) {
	stats, err := s.GetStorageStats(ctx)
	if err != nil {
		return 0, err
	}
	return int64(float64(stats.TotalSize) * defaultTargetRatio), nil
}

// GetEvictionCandidates returns the lowest scoring files whose combined size
// reaches targetSize. A non-positive target means DefaultEvictionTarget.
func (s *Service) GetEvictionCandidates(ctx context.Context, targetSize int64) ([]models.EvictionCandidate, error) {
	if targetSize <= 0 {
		var err error
		if targetSize, err = s.DefaultEvictionTarget(ctx); err != nil {
			return nil, err
		}
	}
	if targetSize <= 0 {
		return nil, nil
	}

	var (
		selected []models.EvictionCandidate
		total    int64
	)
	for _, c := range s.RankedCandidates(ctx) {
		if total >= targetSize {
			break
		}
		selected = append(selected, c)
		total += c.Size
	}
	return selected, nil
}

// RecordFileAccess counts one access to a tracked file. Untracked files are ignored.
func (s *Service) RecordFileAccess(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.patterns[name]; ok {
		p.AccessCount++
		p.LastAccessed = s.now()
	}
}

// RecordFileWrite tracks a file written by the cache, or refreshes its size.
func (s *Service) RecordFileWrite(name string, size int64) {
	if storage.IsReserved(name) || storage.IsMetadata(name) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.patterns[name]; ok {
		p.Size = size
		p.LastAccessed = s.now()
		return
	}
	s.patterns[name] = &models.AccessPattern{
		FileName:     name,
		LastAccessed: s.now(),
		AccessCount:  1,
		Size:         size,
		Extension:    storage.Extension(name),
	}
}

// Forget drops a file from the index after it has been deleted.
func (s *Service) Forget(name string) {
	s.mu.Lock()
	delete(s.patterns, name)
	s.mu.Unlock()
}

// Pattern returns a copy of the pattern tracked for name.
func (s *Service) Pattern(name string) (models.AccessPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.patterns[name]; ok {
		return *p, true
	}
	return models.AccessPattern{}, false
}

// Patterns returns a copy of the whole index.
func (s *Service) Patterns() []models.AccessPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AccessPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, *p)
	}
	return out
}
