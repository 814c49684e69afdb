// Package retrier repeats remote calls that fail with transient errors.
package retrier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff selects how the wait between attempts grows.
type Backoff int

const (
	Exponential Backoff = iota // Initial * Multiplier^n
	Linear                     // Initial * (n+1)
	Fibonacci                  // Initial * fib(n+1)
)

var (
	ErrInvalidAttempts   = errors.New("retrier: attempts must be at least 1")
	ErrInvalidInterval   = errors.New("retrier: initial interval must be at least 1ms")
	ErrInvalidMultiplier = errors.New("retrier: multiplier must be at least 1")
	ErrInvalidJitter     = errors.New("retrier: jitter must be within [0, 1]")
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Config configures a Retrier. Attempts counts the first call.
type Config struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
	Backoff    Backoff
	// Retryable classifies errors; IsTemporary when nil.
	Retryable func(error) bool
}

// Retrier runs a call up to Attempts times, sleeping between failures.
type Retrier struct {
	cfg Config

	mu  sync.Mutex
	fib []time.Duration
}

// New validates cfg and returns a Retrier. Max below Initial is raised to Initial.
func New(cfg Config) (*Retrier, error) {
	switch {
	case cfg.Attempts < 1:
		return nil, ErrInvalidAttempts
	case cfg.Initial < time.Millisecond:
		return nil, ErrInvalidInterval
	case cfg.Multiplier < 1:
		return nil, ErrInvalidMultiplier
	case cfg.Jitter < 0 || cfg.Jitter > 1:
		return nil, ErrInvalidJitter
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Retryable == nil {
		cfg.Retryable = IsTemporary
	}
	return &Retrier{cfg: cfg, fib: []time.Duration{0, cfg.Initial}}, nil
}

// Run calls fn until it succeeds or returns a non-retryable error. A
// cancelled ctx interrupts the wait and is returned as is.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	var err error
	for attempt := range r.cfg.Attempts {
		if err = fn(); err == nil {
			return nil
		}
		if !r.cfg.Retryable(err) {
			return err
		}
		if attempt == r.cfg.Attempts-1 {
			break
		}

		timer := time.NewTimer(r.wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, r.cfg.Attempts, err)
}

func (r *Retrier) wait(attempt int) time.Duration {
	var d float64
	switch r.cfg.Backoff {
	case Linear:
		d = float64(r.cfg.Initial) * float64(attempt+1)
	case Fibonacci:
		d = float64(r.fibonacci(attempt + 1))
	default:
		d = float64(r.cfg.Initial) * math.Pow(r.cfg.Multiplier, float64(attempt))
	}
	d = math.Min(d, float64(r.cfg.Max))
	return time.Duration(d + rand.Float64()*r.cfg.Jitter*d)
}

// fibonacci memoises the capped sequence Initial, Initial, 2*Initial, ...
func (r *Retrier) fibonacci(n int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.fib) <= n {
		next := min(r.fib[len(r.fib)-1]+r.fib[len(r.fib)-2], r.cfg.Max)
		r.fib = append(r.fib, next)
	}
	return r.fib[n]
}
