package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"goflare.io/pixcache/internal/models"
)

const mb = 1024 * 1024

func writeFile(t *testing.T, dir, name string, size int, modTime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	if !modTime.IsZero() {
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.Directory == "" {
		cfg.Directory = t.TempDir()
	}
	cfg.Logger = zaptest.NewLogger(t)
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func sortedPatterns(s *Service) []models.AccessPattern {
	patterns := s.Patterns()
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].FileName < patterns[j].FileName })
	return patterns
}

func TestScan_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Config{})
	dir := s.Directory()
	writeFile(t, dir, "a.png", 100, time.Now().Add(-time.Hour))
	writeFile(t, dir, "b.webp", 200, time.Time{})
	writeFile(t, dir, "a.meta.json", 50, time.Time{})
	writeFile(t, dir, ".gitkeep", 0, time.Time{})

	require.NoError(t, s.ScanStorageDirectory(ctx))
	first := sortedPatterns(s)
	require.NoError(t, s.ScanStorageDirectory(ctx))
	second := sortedPatterns(s)

	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, "a.png", first[0].FileName)
	assert.Equal(t, int64(1), first[0].AccessCount)
	assert.Equal(t, "png", first[0].Extension)
}

func TestScan_RefreshesSizeKeepsCountAndDropsVanished(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Config{})
	dir := s.Directory()
	writeFile(t, dir, "a.png", 100, time.Time{})
	writeFile(t, dir, "b.png", 100, time.Time{})
	require.NoError(t, s.ScanStorageDirectory(ctx))

	s.RecordFileAccess("a.png")
	s.RecordFileAccess("a.png")
	before, ok := s.Pattern("a.png")
	require.True(t, ok)

	writeFile(t, dir, "a.png", 300, time.Time{})
	require.NoError(t, os.Remove(filepath.Join(dir, "b.png")))
	require.NoError(t, s.ScanStorageDirectory(ctx))

	after, ok := s.Pattern("a.png")
	require.True(t, ok)
	assert.Equal(t, int64(300), after.Size)
	assert.Equal(t, int64(3), after.AccessCount)
	assert.Equal(t, before.LastAccessed, after.LastAccessed)

	_, ok = s.Pattern("b.png")
	assert.False(t, ok)
}

func TestRecordFileAccess_IgnoresUntracked(t *testing.T) {
	s := newTestService(t, Config{})
	s.RecordFileAccess("ghost.png")
	_, ok := s.Pattern("ghost.png")
	assert.False(t, ok)

	s.RecordFileWrite("new.png", 10)
	s.RecordFileWrite("new.meta.json", 10)
	p, ok := s.Pattern("new.png")
	require.True(t, ok)
	assert.Equal(t, int64(1), p.AccessCount)
	assert.Len(t, s.Patterns(), 1)

	s.Forget("new.png")
	assert.Empty(t, s.Patterns())
}

func TestGetStorageStats_ReadsDirectory(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Config{TopPatterns: 1})
	dir := s.Directory()
	old := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	recent := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeFile(t, dir, "a.png", 100, old)
	writeFile(t, dir, "b.png", 300, recent)
	require.NoError(t, s.ScanStorageDirectory(ctx))
	s.RecordFileAccess("b.png")

	// Not yet scanned, still counted.
	writeFile(t, dir, "c.jpg", 200, recent)

	stats, err := s.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalFiles)
	assert.Equal(t, int64(600), stats.TotalSize)
	assert.Equal(t, int64(200), stats.AverageFileSize)
	assert.True(t, stats.OldestFile.Equal(old))
	assert.True(t, stats.NewestFile.Equal(recent))
	assert.Equal(t, map[string]int{"png": 2, "jpg": 1}, stats.FileTypes)
	require.Len(t, stats.AccessPatterns, 1)
	assert.Equal(t, "b.png", stats.AccessPatterns[0].FileName)
}

func TestGetStorageStats_MissingDirectoryIsEmpty(t *testing.T) {
	s := newTestService(t, Config{Directory: filepath.Join(t.TempDir(), "cache")})
	require.NoError(t, os.RemoveAll(s.Directory()))

	stats, err := s.GetStorageStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFiles)
}

func TestCheckThresholds_Escalation(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		status models.ThresholdStatus
	}{
		{"below warning", 50, models.StatusHealthy},
		{"between warning and critical", 150, models.StatusWarning},
		{"at critical", 200, models.StatusCritical},
		{"above critical", 500, models.StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, Config{WarningSize: 100, CriticalSize: 200})
			writeFile(t, s.Directory(), "f.bin", tt.size, time.Time{})

			check, err := s.CheckThresholds(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.status, check.Status)
			if tt.status == models.StatusHealthy {
				assert.Empty(t, check.Issues)
			} else {
				assert.Len(t, check.Issues, 1)
			}
		})
	}
}

func TestCheckThresholds_FileCountAndAge(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Config{WarningFileCount: 2, CriticalFileCount: 3, MaxFileAge: 24 * time.Hour})
	dir := s.Directory()
	writeFile(t, dir, "a.png", 1, time.Now().Add(-72*time.Hour))
	writeFile(t, dir, "b.png", 1, time.Time{})
	require.NoError(t, s.ScanStorageDirectory(ctx))

	check, err := s.CheckThresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, check.Status)
	assert.Len(t, check.Issues, 2)

	writeFile(t, dir, "c.png", 1, time.Time{})
	check, err = s.CheckThresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCritical, check.Status)
}

func TestCalculateEvictionScore(t *testing.T) {
	s := newTestService(t, Config{})
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	tests := []struct {
		name    string
		pattern models.AccessPattern
		want    float64
	}{
		{
			name:    "fresh unpopular small",
			pattern: models.AccessPattern{LastAccessed: now, AccessCount: 1, Size: 0},
			want:    0 + 990 + 0,
		},
		{
			name:    "five days, 50 hits, 10MB",
			pattern: models.AccessPattern{LastAccessed: now.Add(-5 * 24 * time.Hour), AccessCount: 50, Size: 10 * mb},
			want:    50 + 500 + 10,
		},
		{
			name:    "caps",
			pattern: models.AccessPattern{LastAccessed: now.Add(-400 * 24 * time.Hour), AccessCount: 500, Size: 500 * mb},
			want:    1000 + 0 + 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.CalculateEvictionScore(tt.pattern), 1e-9)
		})
	}
}

func TestGetEvictionCandidates(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Config{})
	dir := s.Directory()
	now := time.Now()
	writeFile(t, dir, "popular.png", 400, now)
	writeFile(t, dir, "rare.png", 400, now)
	writeFile(t, dir, "mid.png", 200, now)
	require.NoError(t, s.ScanStorageDirectory(ctx))
	for range 50 {
		s.RecordFileAccess("popular.png")
	}
	for range 10 {
		s.RecordFileAccess("mid.png")
	}

	ranked := s.RankedCandidates(ctx)
	require.Len(t, ranked, 3)
	assert.Equal(t, "popular.png", ranked[0].FileName)
	assert.Equal(t, "mid.png", ranked[1].FileName)
	assert.Equal(t, "rare.png", ranked[2].FileName)

	target, err := s.DefaultEvictionTarget(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), target)

	// Default target is 20% of 1000 bytes: the first candidate covers it.
	candidates, err := s.GetEvictionCandidates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	candidates, err = s.GetEvictionCandidates(ctx, 500)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestScan_ConcurrentCallsShareWork(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, Config{})
	writeFile(t, s.Directory(), "a.png", 1, time.Time{})

	errs := make(chan error, 8)
	for range 8 {
		go func() { errs <- s.ScanStorageDirectory(ctx) }()
	}
	for range 8 {
		require.NoError(t, <-errs)
	}
	assert.Len(t, s.Patterns(), 1)
}
