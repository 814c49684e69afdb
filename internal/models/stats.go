package models

// LayerStats is a point-in-time view of a single cache layer's counters.
type LayerStats struct {
	Layer       string  `json:"layer"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Keys        int64   `json:"keys"`
	HitRate     float64 `json:"hit_rate"`
	MemoryUsage int64   `json:"memory_usage,omitempty"`
	Errors      int64   `json:"errors"`
}

// ManagerStats aggregates the stats of every layer behind the manager.
type ManagerStats struct {
	Layers               []LayerStats       `json:"layers"`
	TotalHits            int64              `json:"total_hits"`
	TotalMisses          int64              `json:"total_misses"`
	OverallHitRate       float64            `json:"overall_hit_rate"`
	LayerHitDistribution map[string]float64 `json:"layer_hit_distribution"`
	TrackedPopularKeys   int                `json:"tracked_popular_keys"`
}
