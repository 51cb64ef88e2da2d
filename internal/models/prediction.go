package models

import "time"

// Pace is a qualitative label for how fast a usage window is burning
// relative to what the window can sustain.
type Pace string

const (
	PaceAtLimit Pace = "at limit"
	PaceIdle    Pace = "idle"
	PaceAhead   Pace = "ahead"
	PaceOnTrack Pace = "on track"
	PaceBehind  Pace = "behind"
)

// Prediction is a burn-rate estimate for one usage series.
type Prediction struct {
	// BurnRatePerHour is the regression slope in percent per hour.
	BurnRatePerHour float64
	// TimeToLimit estimates when usage reaches 100%. Only meaningful
	// when HasTimeToLimit is true; a flat or decreasing burn rate, or a
	// window already at its cap, has no estimate.
	TimeToLimit    time.Duration
	HasTimeToLimit bool
	Pace           Pace
}
