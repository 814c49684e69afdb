package remote

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"goflare.io/pixcache/internal/retrier"
)

// ResilienceConfig configures retries and the circuit breaker around Redis.
type ResilienceConfig struct {
	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	BreakerMaxFailures  uint32
	BreakerTimeout      time.Duration
}

// Resilience wraps remote calls with a per-operation timeout, retries and a circuit breaker.
type Resilience struct {
	breaker *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	timeout time.Duration
}

// NewResilience creates a new Resilience instance.
func NewResilience(name string, cfg ResilienceConfig, timeout time.Duration) (*Resilience, error) {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	r, err := retrier.New(retrier.Config{
		Attempts:   attempts,
		Initial:    cfg.InitialInterval,
		Max:        cfg.MaxInterval,
		Multiplier: cfg.Multiplier,
		Jitter:     cfg.RandomizationFactor,
		Backoff:    retrier.Exponential,
		Retryable:  isRetryable,
	})
	if err != nil {
		return nil, err
	}

	maxFailures := cfg.BreakerMaxFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return maxFailures > 0 && counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	})

	return &Resilience{
		breaker: breaker,
		retrier: r,
		timeout: timeout,
	}, nil
}

// Execute runs fn under the operation timeout, retrier and breaker.
func (r *Resilience) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	_, err := r.breaker.Execute(func() (any, error) {
		return nil, r.retrier.Run(ctx, func() error {
			return fn(ctx)
		})
	})
	return err
}

// State returns the breaker state, mostly for diagnostics.
func (r *Resilience) State() gobreaker.State {
	return r.breaker.State()
}

func isRetryable(err error) bool {
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return retrier.IsTemporary(err)
}
