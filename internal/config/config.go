package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/pkg/serialization"
)

// Aggressiveness levels of the intelligent eviction strategy.
const (
	Conservative = "conservative"
	Moderate     = "moderate"
	Aggressive   = "aggressive"
)

// Config is the full configuration of the edge cache.
type Config struct {
	Cache         CacheConfig         `yaml:"cache"`
	Storage       StorageConfig       `yaml:"storage"`
	Resilience    ResilienceConfig    `yaml:"resilience"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Serialization SerializationConfig `yaml:"serialization"`
	Logger        *zap.Logger         `yaml:"-"`
}

// CacheConfig 緩存層相關配置
type CacheConfig struct {
	Memory      MemoryConfig      `yaml:"memory"`
	Remote      RemoteConfig      `yaml:"remote"`
	File        FileConfig        `yaml:"file"`
	Preloading  PreloadingConfig  `yaml:"preloading"`
	AdaptiveTTL AdaptiveTTLConfig `yaml:"adaptive_ttl"`
}

// MemoryConfig configures the in-process layer.
type MemoryConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSize    int64         `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// RemoteConfig configures the shared Redis layer.
type RemoteConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addr             string        `yaml:"addr"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	KeyPrefix        string        `yaml:"key_prefix"`
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// FileConfig configures the on-disk layer.
type FileConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Directory              string        `yaml:"directory"`
	DefaultTTL             time.Duration `yaml:"default_ttl"`
	BloomExpectedItems     uint          `yaml:"bloom_expected_items"`
	BloomFalsePositiveRate float64       `yaml:"bloom_false_positive_rate"`
}

// PreloadingConfig configures popularity tracking and preloading.
type PreloadingConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	TopN           int           `yaml:"top_n"`
	MaxTrackedKeys int           `yaml:"max_tracked_keys"`
}

// AdaptiveTTLConfig 自適應 TTL 配置, applied to backfilled values.
type AdaptiveTTLConfig struct {
	Enabled bool          `yaml:"enabled"`
	MinTTL  time.Duration `yaml:"min_ttl"`
	MaxTTL  time.Duration `yaml:"max_ttl"`
}

// StorageConfig configures monitoring thresholds, eviction and cleanup.
type StorageConfig struct {
	WarningSize       int64          `yaml:"warning_size"`
	CriticalSize      int64          `yaml:"critical_size"`
	WarningFileCount  int            `yaml:"warning_file_count"`
	CriticalFileCount int            `yaml:"critical_file_count"`
	MaxFileAgeDays    int            `yaml:"max_file_age_days"`
	ScanInterval      time.Duration  `yaml:"scan_interval"`
	TopPatterns       int            `yaml:"top_patterns"`
	Eviction          EvictionConfig `yaml:"eviction"`
	Cleanup           CleanupConfig  `yaml:"cleanup"`
}

// MaxFileAge returns MaxFileAgeDays as a duration.
func (s StorageConfig) MaxFileAge() time.Duration {
	return time.Duration(s.MaxFileAgeDays) * 24 * time.Hour
}

// EvictionConfig configures the eviction strategy.
type EvictionConfig struct {
	Strategy        string `yaml:"strategy"`
	Aggressiveness  string `yaml:"aggressiveness"`
	PreservePopular bool   `yaml:"preserve_popular"`
	MinAccessCount  int64  `yaml:"min_access_count"`
}

// CleanupConfig configures retention-policy cleanup.
type CleanupConfig struct {
	Enabled              bool                     `yaml:"enabled"`
	CronSchedule         string                   `yaml:"cron_schedule"`
	DryRun               bool                     `yaml:"dry_run"`
	OptimizationInterval time.Duration            `yaml:"optimization_interval"`
	Policies             []models.RetentionPolicy `yaml:"policies"`
}

// ResilienceConfig 用於設置重試和熔斷器
type ResilienceConfig struct {
	MaxRetries          int           `yaml:"max_retries"`
	InitialInterval     time.Duration `yaml:"initial_interval"`
	MaxInterval         time.Duration `yaml:"max_interval"`
	Multiplier          float64       `yaml:"multiplier"`
	RandomizationFactor float64       `yaml:"randomization_factor"`
	BreakerMaxFailures  uint32        `yaml:"breaker_max_failures"`
	BreakerTimeout      time.Duration `yaml:"breaker_timeout"`
}

// SchedulerConfig controls the background jobs.
type SchedulerConfig struct {
	// Disabled turns every schedule off, e.g. in tests and CI.
	Disabled bool `yaml:"disabled"`
}

// SerializationConfig 序列化相關配置
type SerializationConfig struct {
	Type    string                                `yaml:"type"`
	Encoder func(io.Writer) serialization.Encoder `yaml:"-"`
	Decoder func(io.Reader) serialization.Decoder `yaml:"-"`
}

// Resolve sets Encoder and Decoder from Type.
func (s *SerializationConfig) Resolve() error {
	codec, err := serialization.Lookup(s.Type)
	if err != nil {
		return err
	}
	s.Type = codec.Type
	s.Encoder = codec.NewEncoder
	s.Decoder = codec.NewDecoder
	return nil
}

// Option 函數類型
type Option func(*Config) error

var (
	ErrNoLayers           = errors.New("at least one cache layer must be enabled")
	ErrInvalidThresholds  = errors.New("critical thresholds must not be below warning thresholds")
	ErrInvalidAggression  = errors.New("aggressiveness must be conservative, moderate or aggressive")
	ErrMissingDirectory   = errors.New("file cache directory cannot be empty")
	ErrInvalidAdaptiveTTL = errors.New("adaptive ttl min must not exceed max")
)

// DefaultPolicies are the retention policies applied when none are configured.
func DefaultPolicies() []models.RetentionPolicy {
	return []models.RetentionPolicy{
		{
			Name:       "stale-cache-files",
			Pattern:    `\.(json|cache)$`,
			MaxAgeDays: 30,
			Enabled:    true,
		},
		{
			Name:       "large-images",
			Pattern:    `\.(jpe?g|png|webp|avif|gif|tiff?)$`,
			MaxAgeDays: 7,
			MaxSize:    1 << 30,
			Enabled:    true,
		},
		{
			Name:       "temp-files",
			Pattern:    `\.tmp$`,
			MaxAgeDays: 1,
			Enabled:    true,
		},
		{
			Name:          "preserve-recent",
			MaxAgeDays:    90,
			PreserveCount: 100,
			Enabled:       true,
		},
	}
}

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	cfg := &Config{
		Cache: CacheConfig{
			Memory: MemoryConfig{
				Enabled:    true,
				MaxSize:    256 * 1024 * 1024, // 256MB
				DefaultTTL: time.Hour,
			},
			Remote: RemoteConfig{
				Enabled:          false,
				Addr:             "localhost:6379",
				KeyPrefix:        "pixcache:",
				DefaultTTL:       24 * time.Hour,
				OperationTimeout: 500 * time.Millisecond,
			},
			File: FileConfig{
				Enabled:                true,
				Directory:              "./cache",
				DefaultTTL:             7 * 24 * time.Hour,
				BloomExpectedItems:     100000,
				BloomFalsePositiveRate: 0.01,
			},
			Preloading: PreloadingConfig{
				Enabled:        false,
				Interval:       5 * time.Minute,
				TopN:           50,
				MaxTrackedKeys: 10000,
			},
			AdaptiveTTL: AdaptiveTTLConfig{
				Enabled: true,
				MinTTL:  time.Minute,
				MaxTTL:  time.Hour,
			},
		},
		Storage: StorageConfig{
			WarningSize:       5 * 1024 * 1024 * 1024,  // 5GB
			CriticalSize:      10 * 1024 * 1024 * 1024, // 10GB
			WarningFileCount:  50000,
			CriticalFileCount: 100000,
			MaxFileAgeDays:    30,
			ScanInterval:      time.Hour,
			TopPatterns:       10,
			Eviction: EvictionConfig{
				Strategy:        "intelligent",
				Aggressiveness:  Moderate,
				PreservePopular: true,
				MinAccessCount:  10,
			},
			Cleanup: CleanupConfig{
				Enabled:              true,
				CronSchedule:         "0 2 * * *",
				OptimizationInterval: 6 * time.Hour,
				Policies:             DefaultPolicies(),
			},
		},
		Resilience: ResilienceConfig{
			MaxRetries:          3,
			InitialInterval:     100 * time.Millisecond,
			MaxInterval:         time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.1,
			BreakerMaxFailures:  5,
			BreakerTimeout:      30 * time.Second,
		},
		Serialization: SerializationConfig{Type: serialization.JSONType},
		Logger:        zap.NewNop(),
	}

	// 應用所有選項
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Serialization.Resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML file on top of the defaults.
func Load(path string, options ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	fromFile := func(c *Config) error {
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		return nil
	}
	return NewConfig(append([]Option{fromFile}, options...)...)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if !c.Cache.Memory.Enabled && !c.Cache.Remote.Enabled && !c.Cache.File.Enabled {
		return ErrNoLayers
	}
	if c.Cache.File.Enabled && c.Cache.File.Directory == "" {
		return ErrMissingDirectory
	}
	if c.Storage.CriticalSize < c.Storage.WarningSize || c.Storage.CriticalFileCount < c.Storage.WarningFileCount {
		return ErrInvalidThresholds
	}
	switch c.Storage.Eviction.Aggressiveness {
	case Conservative, Moderate, Aggressive:
	default:
		return ErrInvalidAggression
	}
	if c.Cache.AdaptiveTTL.Enabled && c.Cache.AdaptiveTTL.MinTTL > c.Cache.AdaptiveTTL.MaxTTL {
		return ErrInvalidAdaptiveTTL
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithDirectory sets the file layer directory.
func WithDirectory(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return ErrMissingDirectory
		}
		c.Cache.File.Directory = dir
		return nil
	}
}

// WithMemorySize sets the memory layer budget in bytes.
func WithMemorySize(size int64) Option {
	return func(c *Config) error {
		if size <= 0 {
			return errors.New("memory size must be greater than 0")
		}
		c.Cache.Memory.MaxSize = size
		return nil
	}
}

// WithRemote enables the Redis layer at addr.
func WithRemote(addr string) Option {
	return func(c *Config) error {
		c.Cache.Remote.Enabled = true
		c.Cache.Remote.Addr = addr
		return nil
	}
}

// WithPreloading enables popularity preloading.
func WithPreloading(interval time.Duration, topN int) Option {
	return func(c *Config) error {
		if interval <= 0 || topN <= 0 {
			return errors.New("preloading interval and top n must be positive")
		}
		c.Cache.Preloading.Enabled = true
		c.Cache.Preloading.Interval = interval
		c.Cache.Preloading.TopN = topN
		return nil
	}
}

// WithEviction sets the eviction strategy and aggressiveness.
func WithEviction(strategy, aggressiveness string) Option {
	return func(c *Config) error {
		c.Storage.Eviction.Strategy = strategy
		c.Storage.Eviction.Aggressiveness = aggressiveness
		return nil
	}
}

// WithThresholds sets the size and file count thresholds.
func WithThresholds(warningSize, criticalSize int64, warningFiles, criticalFiles int) Option {
	return func(c *Config) error {
		c.Storage.WarningSize = warningSize
		c.Storage.CriticalSize = criticalSize
		c.Storage.WarningFileCount = warningFiles
		c.Storage.CriticalFileCount = criticalFiles
		return nil
	}
}

// WithSchedulesDisabled turns every background schedule off.
func WithSchedulesDisabled() Option {
	return func(c *Config) error {
		c.Scheduler.Disabled = true
		return nil
	}
}
