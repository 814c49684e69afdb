package pixcache

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/pixcache/internal/config"
	"goflare.io/pixcache/internal/metrics"
)

type settings struct {
	cfg        *config.Config
	configFile string
	configOpts []config.Option
	redis      redis.UniversalClient
	recorder   metrics.Recorder
	logger     *zap.Logger
}

// Option 定義初始化 Cache 的選項
type Option func(*settings) error

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) error {
		s.logger = logger
		s.configOpts = append(s.configOpts, config.WithLogger(logger))
		return nil
	}
}

// WithConfig starts from a prepared configuration instead of the defaults.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) error {
		if cfg == nil {
			return errors.New("config cannot be nil")
		}
		s.cfg = cfg
		return nil
	}
}

// WithConfigFile loads the configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(s *settings) error {
		s.configFile = path
		return nil
	}
}

// WithDirectory sets the file layer directory.
func WithDirectory(dir string) Option {
	return func(s *settings) error {
		s.configOpts = append(s.configOpts, config.WithDirectory(dir))
		return nil
	}
}

// WithMemorySize sets the memory layer budget in bytes.
func WithMemorySize(size int64) Option {
	return func(s *settings) error {
		s.configOpts = append(s.configOpts, config.WithMemorySize(size))
		return nil
	}
}

// WithRedis enables the remote layer on an existing client. The client is
// not closed by Cache.Close.
func WithRedis(client redis.UniversalClient) Option {
	return func(s *settings) error {
		if client == nil {
			return errors.New("redis client cannot be nil")
		}
		s.redis = client
		s.configOpts = append(s.configOpts, func(c *config.Config) error {
			c.Cache.Remote.Enabled = true
			return nil
		})
		return nil
	}
}

// WithPreloading enables popularity preloading.
func WithPreloading(interval time.Duration, topN int) Option {
	return func(s *settings) error {
		s.configOpts = append(s.configOpts, config.WithPreloading(interval, topN))
		return nil
	}
}

// WithEviction sets the eviction strategy and aggressiveness.
func WithEviction(strategy, aggressiveness string) Option {
	return func(s *settings) error {
		s.configOpts = append(s.configOpts, config.WithEviction(strategy, aggressiveness))
		return nil
	}
}

// WithMetrics sends observations to recorder instead of a private collector.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(s *settings) error {
		s.recorder = recorder
		return nil
	}
}

// WithSchedulesDisabled keeps background jobs from running on their schedules.
func WithSchedulesDisabled() Option {
	return func(s *settings) error {
		s.configOpts = append(s.configOpts, config.WithSchedulesDisabled())
		return nil
	}
}

// WithSerialization 設置序列化方式 ("json" or "gob")
func WithSerialization(serializer string) Option {
	return func(s *settings) error {
		s.configOpts = append(s.configOpts, func(c *config.Config) error {
			c.Serialization.Type = serializer
			return nil
		})
		return nil
	}
}
