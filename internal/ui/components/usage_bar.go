// Package components provides reusable UI components.
package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/j-veylop/quotameter/internal/models"
	"github.com/j-veylop/quotameter/internal/ui/styles"
)

// UsageBar renders one bounded usage window as a labeled gradient bar.
type UsageBar struct {
	progress progress.Model
}

// NewUsageBar creates a usage bar. The gradient runs from green at low
// usage to red near the limit.
func NewUsageBar(width int) UsageBar {
	p := progress.New(
		progress.WithScaledGradient("#51cf66", "#ff6b6b"),
		progress.WithWidth(width),
		progress.WithoutPercentage(),
	)
	return UsageBar{progress: p}
}

// SetWidth resizes the bar.
func (u *UsageBar) SetWidth(width int) {
	u.progress.Width = width
}

// Render draws a metric line: label, bar, readout, and reset countdown.
func (u UsageBar) Render(line models.MetricLine, now time.Time) string {
	percent := line.Percent()

	var parts []string
	parts = append(parts, styles.MetricLabelStyle.Render(line.Label))
	parts = append(parts, u.progress.ViewAs(percent/100))
	parts = append(parts, styles.UsageStyle(percent).Render(FormatReadout(line)))

	if reset := FormatCountdown(line.ResetsAt, now); reset != "" {
		parts = append(parts, styles.ResetStyle.Render("resets in "+reset))
	}

	return strings.Join(parts, " ")
}

// FormatReadout renders a progress line's numbers per its format kind.
func FormatReadout(line models.MetricLine) string {
	switch line.Format {
	case models.FormatDollars:
		return fmt.Sprintf("$%.2f / $%.2f", line.Used, line.Limit)
	case models.FormatCount:
		suffix := line.Suffix
		if suffix != "" {
			suffix = " " + suffix
		}
		return fmt.Sprintf("%.0f / %.0f%s", line.Used, line.Limit, suffix)
	default:
		return fmt.Sprintf("%.0f%%", line.Percent())
	}
}

// FormatCountdown renders the time remaining until an ISO 8601 reset
// instant, or "" when unknown or already passed.
func FormatCountdown(resetsAt string, now time.Time) string {
	if resetsAt == "" {
		return ""
	}
	reset, err := time.Parse(time.RFC3339, resetsAt)
	if err != nil {
		return ""
	}
	remaining := reset.Sub(now)
	if remaining <= 0 {
		return ""
	}
	return FormatDuration(remaining)
}

// FormatDuration renders a duration in compact day/hour/minute form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// RenderPace draws the burn-rate line shown under a usage bar.
func RenderPace(p *models.Prediction) string {
	if p == nil {
		return ""
	}

	label := fmt.Sprintf("%.1f%%/hr", p.BurnRatePerHour)
	if p.HasTimeToLimit {
		label += ", limit in " + FormatDuration(p.TimeToLimit)
	}
	label += " (" + string(p.Pace) + ")"

	return styles.PaceStyle.
		Foreground(styles.PaceColor(string(p.Pace))).
		Render(label)
}
