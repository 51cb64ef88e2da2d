// Package models defines the canonical data types shared across services.
package models

// MetricKind discriminates the metric line union.
type MetricKind int

const (
	// MetricProgress is a bounded usage window (used out of limit).
	MetricProgress MetricKind = iota
	// MetricText is a free-form value with no bounded limit (balances, credits).
	MetricText
	// MetricBadge is a short status indicator (no-data states).
	MetricBadge
)

// FormatKind describes how a Progress line's numbers should be rendered.
type FormatKind int

const (
	// FormatPercent renders used/limit as a percentage.
	FormatPercent FormatKind = iota
	// FormatDollars renders used/limit as currency amounts.
	FormatDollars
	// FormatCount renders used/limit as plain counts with an optional suffix.
	FormatCount
)

// MetricLine is the normalized, provider-agnostic usage unit.
// Exactly one of the Progress/Text/Badge field groups is meaningful,
// selected by Kind.
type MetricLine struct {
	Kind  MetricKind
	Label string

	// Progress fields.
	Used     float64
	Limit    float64
	Format   FormatKind
	Suffix   string // unit suffix for FormatCount lines
	ResetsAt string // ISO 8601, empty when the window reports no reset
	PeriodMs int64  // billing window length in ms, 0 when unknown

	// Text fields.
	Value string

	// Badge fields.
	Status string
	Color  string
}

// Progress builds a bounded usage line.
func Progress(label string, used, limit float64, format FormatKind) MetricLine {
	if used < 0 {
		used = 0
	}
	if limit < 0 {
		limit = 0
	}
	return MetricLine{
		Kind:   MetricProgress,
		Label:  label,
		Used:   used,
		Limit:  limit,
		Format: format,
	}
}

// Text builds an unbounded display line.
func Text(label, value string) MetricLine {
	return MetricLine{Kind: MetricText, Label: label, Value: value}
}

// Badge builds a short status line.
func Badge(label, status, color string) MetricLine {
	return MetricLine{Kind: MetricBadge, Label: label, Status: status, Color: color}
}

// Percent returns the line's usage as a percentage in [0, 100].
// A zero limit has no denominator and always yields 0.
func (m MetricLine) Percent() float64 {
	if m.Kind != MetricProgress || m.Limit <= 0 {
		return 0
	}
	p := m.Used / m.Limit * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
