package eviction

import (
	"sort"
	"time"

	"goflare.io/pixcache/internal/models"
)

// Strategy names.
const (
	LRU         = "lru"
	LFU         = "lfu"
	SizeBased   = "size-based"
	AgeBased    = "age-based"
	Intelligent = "intelligent"
)

// countFraction is the share of candidates taken when no size target is given.
const countFraction = 0.2

var aggressiveness = map[string]float64{
	"conservative": 0.8,
	"moderate":     1.0,
	"aggressive":   1.5,
}

// Strategy selects which candidates to evict to free targetSize bytes.
// It must not mutate candidates.
type Strategy func(candidates []models.EvictionCandidate, targetSize int64) []models.EvictionCandidate

// Options parameterise the built-in strategies.
type Options struct {
	MaxFileAge      time.Duration
	Aggressiveness  string
	PreservePopular bool
	MinAccessCount  int64
	Now             func() time.Time
}

func builtins(opts Options) map[string]Strategy {
	return map[string]Strategy{
		LRU: func(c []models.EvictionCandidate, target int64) []models.EvictionCandidate {
			return takeUntil(sortedBy(c, func(a, b models.EvictionCandidate) bool {
				return a.LastAccessed.Before(b.LastAccessed)
			}), target)
		},
		LFU: func(c []models.EvictionCandidate, target int64) []models.EvictionCandidate {
			return takeUntil(sortedBy(c, func(a, b models.EvictionCandidate) bool {
				return a.AccessCount < b.AccessCount
			}), target)
		},
		SizeBased: func(c []models.EvictionCandidate, target int64) []models.EvictionCandidate {
			return takeUntil(sortedBy(c, func(a, b models.EvictionCandidate) bool {
				return a.Size > b.Size
			}), target)
		},
		AgeBased: func(c []models.EvictionCandidate, target int64) []models.EvictionCandidate {
			cutoff := opts.Now().Add(-opts.MaxFileAge)
			old := filter(c, func(e models.EvictionCandidate) bool {
				return e.LastAccessed.Before(cutoff)
			})
			return takeUntil(sortedBy(old, func(a, b models.EvictionCandidate) bool {
				return a.LastAccessed.Before(b.LastAccessed)
			}), target)
		},
		Intelligent: func(c []models.EvictionCandidate, target int64) []models.EvictionCandidate {
			if opts.PreservePopular {
				c = filter(c, func(e models.EvictionCandidate) bool {
					return e.AccessCount < opts.MinAccessCount
				})
			}
			multiplier, ok := aggressiveness[opts.Aggressiveness]
			if !ok {
				multiplier = 1.0
			}
			if target > 0 {
				target = int64(float64(target) * multiplier)
			}
			// Candidates arrive ranked by eviction score.
			return takeUntil(c, target)
		},
	}
}

func sortedBy(c []models.EvictionCandidate, less func(a, b models.EvictionCandidate) bool) []models.EvictionCandidate {
	out := make([]models.EvictionCandidate, len(c))
	copy(out, c)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func filter(c []models.EvictionCandidate, keep func(models.EvictionCandidate) bool) []models.EvictionCandidate {
	out := make([]models.EvictionCandidate, 0, len(c))
	for _, e := range c {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// takeUntil returns the shortest prefix whose size reaches target. Without a
// target it returns the first fifth of the list, at least one entry.
func takeUntil(c []models.EvictionCandidate, target int64) []models.EvictionCandidate {
	if len(c) == 0 {
		return nil
	}
	if target <= 0 {
		n := max(int(float64(len(c))*countFraction), 1)
		return c[:n]
	}

	var total int64
	for i, e := range c {
		total += e.Size
		if total >= target {
			return c[:i+1]
		}
	}
	return c
}
