package multi

import (
	"math"
	"time"
)

// AdaptiveTTL derives backfill TTLs from access frequency: keys accessed
// 100 times or more get MaxTTL, unseen keys get MinTTL.
type AdaptiveTTL struct {
	Enabled bool
	MinTTL  time.Duration
	MaxTTL  time.Duration
}

// For returns the TTL for a key accessed count times. Zero means the layer default.
func (a AdaptiveTTL) For(count int64) time.Duration {
	if !a.Enabled {
		return 0
	}
	frequency := math.Min(float64(max(count, 0))/100.0, 1.0)
	return a.MinTTL + time.Duration(float64(a.MaxTTL-a.MinTTL)*frequency)
}
