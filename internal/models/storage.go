package models

import "time"

// AccessPattern tracks how a single cached file on disk is used.
type AccessPattern struct {
	FileName     string    `json:"file_name"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
	Size         int64     `json:"size"`
	Extension    string    `json:"extension"`
}

// StorageStats is derived from the cache directory on demand and never persisted.
type StorageStats struct {
	TotalFiles      int             `json:"total_files"`
	TotalSize       int64           `json:"total_size"`
	AverageFileSize int64           `json:"average_file_size"`
	OldestFile      time.Time       `json:"oldest_file"`
	NewestFile      time.Time       `json:"newest_file"`
	FileTypes       map[string]int  `json:"file_types"`
	AccessPatterns  []AccessPattern `json:"access_patterns"`
}

// EvictionCandidate is an AccessPattern scored for eviction. Lower scores go first.
type EvictionCandidate struct {
	AccessPattern
	Score float64 `json:"score"`
}

// ThresholdStatus is the storage health level.
type ThresholdStatus string

const (
	StatusHealthy  ThresholdStatus = "healthy"
	StatusWarning  ThresholdStatus = "warning"
	StatusCritical ThresholdStatus = "critical"
)

// ThresholdCheck is computed fresh on each check.
type ThresholdCheck struct {
	Status ThresholdStatus `json:"status"`
	Issues []string        `json:"issues"`
	Stats  StorageStats    `json:"stats"`
}

// EvictionResult reports the outcome of one eviction run.
type EvictionResult struct {
	FilesEvicted int           `json:"files_evicted"`
	SizeFreed    int64         `json:"size_freed"`
	Errors       []string      `json:"errors"`
	Strategy     string        `json:"strategy"`
	Duration     time.Duration `json:"duration"`
}

// RetentionPolicy selects files for removal by name pattern, age and size budget.
type RetentionPolicy struct {
	Name string `json:"name" yaml:"name"`
	// Pattern is a regular expression matched against file names. Empty matches all.
	Pattern string `json:"pattern,omitempty" yaml:"pattern"`
	// MaxAgeDays is the minimum age, by modification time, for a file to qualify.
	MaxAgeDays int `json:"max_age_days" yaml:"max_age_days"`
	// MaxSize caps the bytes removed by one pass of this policy. 0 means unbounded.
	MaxSize       int64 `json:"max_size,omitempty" yaml:"max_size"`
	PreserveCount int   `json:"preserve_count,omitempty" yaml:"preserve_count"`
	Enabled       bool  `json:"enabled" yaml:"enabled"`
}

// CleanupResult accumulates the outcome of a cleanup run across policies.
type CleanupResult struct {
	FilesRemoved    int             `json:"files_removed"`
	SizeFreed       int64           `json:"size_freed"`
	Errors          []string        `json:"errors"`
	PoliciesApplied []string        `json:"policies_applied"`
	DryRun          bool            `json:"dry_run"`
	Duration        time.Duration   `json:"duration"`
	Eviction        *EvictionResult `json:"eviction,omitempty"`
}
