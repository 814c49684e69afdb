package file

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter answers "definitely not on disk" without touching the file system.
type BloomFilter struct {
	mu                sync.RWMutex
	filter            *bloom.BloomFilter
	expectedItems     uint
	falsePositiveRate float64

	// keys added since BeginRebuild; nil when no rebuild is running
	pending map[string]struct{}
}

// NewBloomFilter creates an empty filter sized for expectedItems.
func NewBloomFilter(expectedItems uint, falsePositiveRate float64) *BloomFilter {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	return &BloomFilter{
		filter:            bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
	}
}

// Add records key.
func (bf *BloomFilter) Add(key string) {
	bf.mu.Lock()
	bf.filter.AddString(key)
	if bf.pending != nil {
		bf.pending[key] = struct{}{}
	}
	bf.mu.Unlock()
}

// BeginRebuild starts remembering added keys so that the next Replace keeps
// them even if the caller's listing missed them.
func (bf *BloomFilter) BeginRebuild() {
	bf.mu.Lock()
	bf.pending = make(map[string]struct{})
	bf.mu.Unlock()
}

// AbortRebuild stops remembering added keys and keeps the current filter.
func (bf *BloomFilter) AbortRebuild() {
	bf.mu.Lock()
	bf.pending = nil
	bf.mu.Unlock()
}

// Test reports whether key may have been added.
func (bf *BloomFilter) Test(key string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.TestString(key)
}

// Replace swaps in a fresh filter holding keys plus every key added since
// BeginRebuild.
func (bf *BloomFilter) Replace(keys []string) {
	size := uint(len(keys))
	if size < bf.expectedItems {
		size = bf.expectedItems
	}
	next := bloom.NewWithEstimates(size, bf.falsePositiveRate)
	for _, key := range keys {
		next.AddString(key)
	}

	bf.mu.Lock()
	for key := range bf.pending {
		next.AddString(key)
	}
	bf.filter = next
	bf.pending = nil
	bf.mu.Unlock()
}

// Reset empties the filter. A running rebuild still carries its pending keys.
func (bf *BloomFilter) Reset() {
	next := bloom.NewWithEstimates(bf.expectedItems, bf.falsePositiveRate)
	bf.mu.Lock()
	bf.filter = next
	bf.mu.Unlock()
}
