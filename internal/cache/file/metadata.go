package file

import (
	"encoding/json"
	"time"
)

// Metadata is the companion record stored next to each content file.
type Metadata struct {
	Key         string    `json:"key"`
	FileName    string    `json:"file_name"`
	Size        int64     `json:"size"`
	Format      string    `json:"format"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the entry has passed its expiry. A zero expiry never expires.
func (m *Metadata) IsExpired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

func (m *Metadata) marshal() ([]byte, error) {
	return json.Marshal(m)
}

func unmarshalMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
