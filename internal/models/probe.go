package models

import "time"

// ProbeResult is the outcome of probing one provider's usage endpoint.
// Either Lines carries at least one metric, or Error is set; never both.
type ProbeResult struct {
	Provider  string
	Name      string
	Plan      string
	Lines     []MetricLine
	Error     string
	FetchedAt time.Time
}

// Failed reports whether the probe ended in an error.
func (r ProbeResult) Failed() bool {
	return r.Error != ""
}
