package domain

import "time"

// Run identifies one batch execution. Sinks tag everything they persist with it.
type Run struct {
	ID        string
	StartedAt time.Time
	Feature   string
	Season    Season
}
