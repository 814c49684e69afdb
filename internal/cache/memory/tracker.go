package memory

import (
	"sync"

	"go.uber.org/zap"
)

// Tracker tracks the keys held by the layer together with their sizes.
type Tracker struct {
	trackedKeys sync.Map
	logger      *zap.Logger
}

// NewTracker creates a new Tracker instance.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// Add tracks key with its payload size.
func (t *Tracker) Add(key string, size int64) {
	t.trackedKeys.Store(key, size)
}

// Remove stops tracking key.
func (t *Tracker) Remove(key string) {
	t.trackedKeys.Delete(key)
}

// Reset drops every tracked key.
func (t *Tracker) Reset() {
	t.trackedKeys.Range(func(k, _ any) bool {
		t.trackedKeys.Delete(k)
		return true
	})
}

// Totals returns the number of tracked keys and the sum of their sizes.
func (t *Tracker) Totals() (keys, bytes int64) {
	t.trackedKeys.Range(func(k, v any) bool {
		size, ok := v.(int64)
		if !ok {
			t.logger.Warn("Invalid size type in Tracker", zap.Any("key", k))
			return true
		}
		keys++
		bytes += size
		return true
	})
	return keys, bytes
}
