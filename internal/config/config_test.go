package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"goflare.io/pixcache/pkg/serialization"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Cache.Memory.Enabled)
	assert.False(t, cfg.Cache.Remote.Enabled)
	assert.True(t, cfg.Cache.File.Enabled)
	assert.Equal(t, "intelligent", cfg.Storage.Eviction.Strategy)
	assert.Equal(t, Moderate, cfg.Storage.Eviction.Aggressiveness)
	assert.Equal(t, 30*24*time.Hour, cfg.Storage.MaxFileAge())
	assert.Len(t, cfg.Storage.Cleanup.Policies, 4)
	assert.Equal(t, serialization.JSONType, cfg.Serialization.Type)
	assert.NotNil(t, cfg.Serialization.Encoder)
	assert.NotNil(t, cfg.Logger)
}

func TestNewConfig_Options(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg, err := NewConfig(
		WithLogger(logger),
		WithDirectory("/tmp/pix"),
		WithMemorySize(1024),
		WithRemote("redis:6379"),
		WithPreloading(time.Minute, 5),
		WithEviction("lru", Aggressive),
		WithSchedulesDisabled(),
	)
	require.NoError(t, err)

	assert.Same(t, logger, cfg.Logger)
	assert.Equal(t, "/tmp/pix", cfg.Cache.File.Directory)
	assert.Equal(t, int64(1024), cfg.Cache.Memory.MaxSize)
	assert.True(t, cfg.Cache.Remote.Enabled)
	assert.Equal(t, "redis:6379", cfg.Cache.Remote.Addr)
	assert.True(t, cfg.Cache.Preloading.Enabled)
	assert.Equal(t, 5, cfg.Cache.Preloading.TopN)
	assert.Equal(t, "lru", cfg.Storage.Eviction.Strategy)
	assert.True(t, cfg.Scheduler.Disabled)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		option  Option
		wantErr error
	}{
		{"empty directory", WithDirectory(""), ErrMissingDirectory},
		{"thresholds inverted", WithThresholds(10, 5, 1, 2), ErrInvalidThresholds},
		{"file counts inverted", WithThresholds(1, 2, 10, 5), ErrInvalidThresholds},
		{"unknown aggressiveness", WithEviction("lru", "reckless"), ErrInvalidAggression},
		{"no layers", func(c *Config) error {
			c.Cache.Memory.Enabled = false
			c.Cache.File.Enabled = false
			return nil
		}, ErrNoLayers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.option)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixcache.yaml")
	content := `
cache:
  memory:
    max_size: 1048576
    default_ttl: 10m
  file:
    directory: /var/cache/pix
storage:
  warning_size: 100
  critical_size: 200
  eviction:
    strategy: lfu
    aggressiveness: conservative
  cleanup:
    cron_schedule: "*/5 * * * *"
    policies:
      - name: only-temp
        pattern: '\.tmp$'
        max_age_days: 1
        enabled: true
serialization:
  type: gob
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(1048576), cfg.Cache.Memory.MaxSize)
	assert.Equal(t, 10*time.Minute, cfg.Cache.Memory.DefaultTTL)
	assert.Equal(t, "/var/cache/pix", cfg.Cache.File.Directory)
	assert.Equal(t, int64(200), cfg.Storage.CriticalSize)
	assert.Equal(t, "lfu", cfg.Storage.Eviction.Strategy)
	assert.Equal(t, Conservative, cfg.Storage.Eviction.Aggressiveness)
	assert.Equal(t, "*/5 * * * *", cfg.Storage.Cleanup.CronSchedule)
	require.Len(t, cfg.Storage.Cleanup.Policies, 1)
	assert.Equal(t, "only-temp", cfg.Storage.Cleanup.Policies[0].Name)
	assert.Equal(t, serialization.GobType, cfg.Serialization.Type)

	// Untouched keys keep their defaults.
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.File.DefaultTTL)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serialization:\n  type: xml\n"), 0o600))
	_, err = Load(path)
	assert.ErrorIs(t, err, serialization.ErrUnsupportedType)
}
