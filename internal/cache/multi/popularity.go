package multi

import (
	"sort"
	"sync"

	"go.uber.org/atomic"

	"goflare.io/pixcache/internal/utils"
)

const (
	defaultShardCount     = 16
	defaultMaxTrackedKeys = 10000
)

type popularityShard struct {
	mu     sync.RWMutex
	counts map[string]*atomic.Int64
}

// Popularity counts gets per key. Once more than maxKeys keys are tracked it
// is pruned to the most accessed half.
type Popularity struct {
	shards  []*popularityShard
	size    atomic.Int64
	maxKeys int
	pruneMu sync.Mutex
}

// NewPopularity creates a tracker bounded to maxKeys entries.
func NewPopularity(maxKeys int) *Popularity {
	if maxKeys <= 0 {
		maxKeys = defaultMaxTrackedKeys
	}
	p := &Popularity{
		shards:  make([]*popularityShard, defaultShardCount),
		maxKeys: maxKeys,
	}
	for i := range p.shards {
		p.shards[i] = &popularityShard{counts: make(map[string]*atomic.Int64)}
	}
	return p
}

func (p *Popularity) shard(key string) *popularityShard {
	return p.shards[utils.ShardIndex(uint64(len(p.shards)), key)]
}

// Increment adds one access to key and returns the new count.
func (p *Popularity) Increment(key string) int64 {
	s := p.shard(key)

	s.mu.RLock()
	counter, ok := s.counts[key]
	s.mu.RUnlock()
	if ok {
		return counter.Inc()
	}

	s.mu.Lock()
	counter, ok = s.counts[key]
	if !ok {
		counter = atomic.NewInt64(0)
		s.counts[key] = counter
		p.size.Inc()
	}
	s.mu.Unlock()

	n := counter.Inc()
	if p.size.Load() > int64(p.maxKeys) {
		p.prune()
	}
	return n
}

// Count returns the access count of key.
func (p *Popularity) Count(key string) int64 {
	s := p.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if counter, ok := s.counts[key]; ok {
		return counter.Load()
	}
	return 0
}

// Remove forgets key.
func (p *Popularity) Remove(key string) {
	s := p.shard(key)
	s.mu.Lock()
	if _, ok := s.counts[key]; ok {
		delete(s.counts, key)
		p.size.Dec()
	}
	s.mu.Unlock()
}

// Len returns the number of tracked keys.
func (p *Popularity) Len() int {
	return int(p.size.Load())
}

// Reset forgets every key.
func (p *Popularity) Reset() {
	for _, s := range p.shards {
		s.mu.Lock()
		p.size.Sub(int64(len(s.counts)))
		s.counts = make(map[string]*atomic.Int64)
		s.mu.Unlock()
	}
}

type keyCount struct {
	key   string
	count int64
}

func (p *Popularity) snapshot() []keyCount {
	all := make([]keyCount, 0, p.Len())
	for _, s := range p.shards {
		s.mu.RLock()
		for k, c := range s.counts {
			all = append(all, keyCount{key: k, count: c.Load()})
		}
		s.mu.RUnlock()
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count == all[j].count {
			return all[i].key < all[j].key
		}
		return all[i].count > all[j].count
	})
	return all
}

// Top returns up to n keys, most accessed first.
func (p *Popularity) Top(n int) []string {
	all := p.snapshot()
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, kc := range all {
		out[i] = kc.key
	}
	return out
}

func (p *Popularity) prune() {
	if !p.pruneMu.TryLock() {
		return
	}
	defer p.pruneMu.Unlock()

	if p.size.Load() <= int64(p.maxKeys) {
		return
	}

	all := p.snapshot()
	keep := make(map[string]struct{}, p.maxKeys/2)
	for _, kc := range all[:min(len(all), p.maxKeys/2)] {
		keep[kc.key] = struct{}{}
	}

	for _, s := range p.shards {
		s.mu.Lock()
		for k := range s.counts {
			if _, ok := keep[k]; !ok {
				delete(s.counts, k)
				p.size.Dec()
			}
		}
		s.mu.Unlock()
	}
}
