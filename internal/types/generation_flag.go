package types

import "time"

// GenerationFlag is an advisory lease marking a course id as being generated.
// An expired flag must be treated as inactive and cleaned up lazily.
type GenerationFlag struct {
	Active    bool      `json:"active"`
	Timestamp time.Time `json:"timestamp"`
}

func (f GenerationFlag) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(f.Timestamp) > ttl
}
