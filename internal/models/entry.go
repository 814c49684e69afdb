package models

import (
	"time"
)

// Entry represents a value held by an in-process layer.
type Entry struct {
	Key        string
	Data       []byte
	Expiration time.Time
}

// NewEntry creates a new Entry. A zero expiration never expires.
func NewEntry(key string, data []byte, expiration time.Time) *Entry {
	return &Entry{
		Key:        key,
		Data:       data,
		Expiration: expiration,
	}
}

// IsExpired checks if the entry has expired.
func (e *Entry) IsExpired() bool {
	return !e.Expiration.IsZero() && time.Now().After(e.Expiration)
}

// Remaining returns the time left before expiry, or 0 for entries that never expire.
func (e *Entry) Remaining() (time.Duration, error) {
	if e.Expiration.IsZero() {
		return 0, nil
	}
	left := time.Until(e.Expiration)
	if left <= 0 {
		return 0, ErrEntryExpired
	}
	return left, nil
}
