package models

import "time"

// UsageSnapshot is one observation of a usage window's percentage.
// Snapshots are immutable once recorded and belong to a series keyed
// by (provider, metric label).
type UsageSnapshot struct {
	Timestamp time.Time
	Percent   float64
	ResetsAt  string // ISO 8601, empty when the window reports no reset
}
