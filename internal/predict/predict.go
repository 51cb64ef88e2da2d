// Package predict derives burn-rate predictions from usage series via
// least-squares regression.
package predict

import (
	"time"

	"github.com/j-veylop/quotameter/internal/models"
)

const (
	// regressionWindow is the number of most recent snapshots fed to
	// the regression, roughly the last hour at the nominal cadence.
	regressionWindow = 12

	// burnEpsilon is the minimum positive burn rate (%/hr) considered
	// meaningful for a time-to-limit estimate.
	burnEpsilon = 0.01

	// idleThreshold is the burn-rate magnitude (%/hr) below which the
	// window counts as idle.
	idleThreshold = 0.1

	// saturatedPercent marks a window as already at its cap.
	saturatedPercent = 99

	msPerHour = float64(time.Hour / time.Millisecond)
)

// Predict estimates the burn rate of a usage series. It needs at least
// two snapshots; fewer return nil, which is a legitimate non-error
// outcome. periodMs is the billing window length, 0 when unknown.
func Predict(series []models.UsageSnapshot, currentPercent float64, periodMs int64) *models.Prediction {
	if len(series) < 2 {
		return nil
	}

	if len(series) > regressionWindow {
		series = series[len(series)-regressionWindow:]
	}

	slopePerMs, _ := linearRegression(series)
	burnRate := slopePerMs * msPerHour

	p := &models.Prediction{BurnRatePerHour: burnRate}

	if currentPercent >= saturatedPercent {
		// Already at the cap; the regression's time-to-limit math is
		// irrelevant here.
		p.Pace = models.PaceAtLimit
		return p
	}

	if burnRate > burnEpsilon {
		hoursLeft := (100 - currentPercent) / burnRate
		p.TimeToLimit = time.Duration(hoursLeft * float64(time.Hour))
		p.HasTimeToLimit = true
	}

	p.Pace = paceLabel(burnRate, periodMs)
	return p
}

// linearRegression fits percent against timestamp, returning the slope
// in percent per millisecond and the intercept. Constant timestamps
// yield slope 0 and an intercept equal to the mean.
func linearRegression(series []models.UsageSnapshot) (slope, intercept float64) {
	n := float64(len(series))

	// Offset timestamps from the first sample to keep the sums small.
	t0 := series[0].Timestamp

	var sumX, sumY, sumXY, sumXX float64
	for _, snap := range series {
		x := float64(snap.Timestamp.Sub(t0) / time.Millisecond)
		y := snap.Percent
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// paceLabel classifies the burn rate. When the window's period is
// known the rate is compared against the sustainable rate for that
// period; otherwise fixed absolute thresholds apply.
func paceLabel(burnRate float64, periodMs int64) models.Pace {
	magnitude := burnRate
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude < idleThreshold {
		return models.PaceIdle
	}

	if periodMs > 0 {
		periodHours := float64(periodMs) / msPerHour
		sustainable := 100 / periodHours
		ratio := burnRate / sustainable
		switch {
		case ratio >= 1.5:
			return models.PaceAhead
		case ratio >= 0.5:
			return models.PaceOnTrack
		default:
			return models.PaceBehind
		}
	}

	switch {
	case burnRate > 5:
		return models.PaceAhead
	case burnRate > 0.5:
		return models.PaceOnTrack
	default:
		return models.PaceBehind
	}
}
