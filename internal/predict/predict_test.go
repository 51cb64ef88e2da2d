package predict

import (
	"math"
	"testing"
	"time"

	"github.com/j-veylop/quotameter/internal/models"
)

// rampSeries builds snapshots climbing linearly from startPercent by
// stepPercent per step, one step every interval.
func rampSeries(n int, startPercent, stepPercent float64, interval time.Duration) []models.UsageSnapshot {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	series := make([]models.UsageSnapshot, n)
	for i := range series {
		series[i] = models.UsageSnapshot{
			Timestamp: base.Add(time.Duration(i) * interval),
			Percent:   startPercent + float64(i)*stepPercent,
		}
	}
	return series
}

func TestPredict_NeedsTwoSnapshots(t *testing.T) {
	if p := Predict(nil, 10, 0); p != nil {
		t.Errorf("Predict(nil) = %+v, want nil", p)
	}
	if p := Predict(rampSeries(1, 10, 0, time.Minute), 10, 0); p != nil {
		t.Errorf("Predict(1 snapshot) = %+v, want nil", p)
	}
}

func TestPredict_LinearRamp(t *testing.T) {
	// 10% to 20% over one hour: burn rate 10%/hr, 80% headroom left.
	series := rampSeries(13, 10, 10.0/12, 5*time.Minute)
	p := Predict(series, 20, 0)
	if p == nil {
		t.Fatal("Predict() = nil")
	}
	if math.Abs(p.BurnRatePerHour-10) > 0.01 {
		t.Errorf("BurnRatePerHour = %v, want ~10", p.BurnRatePerHour)
	}
	if !p.HasTimeToLimit {
		t.Fatal("HasTimeToLimit = false, want true")
	}
	if delta := p.TimeToLimit - 8*time.Hour; delta < -time.Minute || delta > time.Minute {
		t.Errorf("TimeToLimit = %v, want ~8h", p.TimeToLimit)
	}
	if p.Pace != models.PaceAhead {
		t.Errorf("Pace = %q, want %q", p.Pace, models.PaceAhead)
	}
}

func TestPredict_AtLimit(t *testing.T) {
	series := rampSeries(5, 90, 2, 5*time.Minute)
	p := Predict(series, 99.5, 0)
	if p == nil {
		t.Fatal("Predict() = nil")
	}
	if p.Pace != models.PaceAtLimit {
		t.Errorf("Pace = %q, want %q", p.Pace, models.PaceAtLimit)
	}
	if p.HasTimeToLimit {
		t.Error("HasTimeToLimit = true at the cap")
	}
	if p.BurnRatePerHour <= 0 {
		t.Errorf("BurnRatePerHour = %v, want positive rate still reported", p.BurnRatePerHour)
	}
}

func TestPredict_Idle(t *testing.T) {
	series := rampSeries(6, 40, 0, 5*time.Minute)
	p := Predict(series, 40, 0)
	if p == nil {
		t.Fatal("Predict() = nil")
	}
	if p.Pace != models.PaceIdle {
		t.Errorf("Pace = %q, want %q", p.Pace, models.PaceIdle)
	}
	if p.HasTimeToLimit {
		t.Error("HasTimeToLimit = true for a flat series")
	}
}

func TestPredict_SustainableRateComparison(t *testing.T) {
	fiveHours := int64(5 * time.Hour / time.Millisecond)
	// Sustainable rate for a 5h window is 20%/hr.
	tests := []struct {
		name        string
		stepPercent float64
		want        models.Pace
	}{
		{"WellOverSustainable", 40.0 / 12, models.PaceAhead},  // 40%/hr, ratio 2
		{"NearSustainable", 20.0 / 12, models.PaceOnTrack},    // 20%/hr, ratio 1
		{"WellUnderSustainable", 5.0 / 12, models.PaceBehind}, // 5%/hr, ratio 0.25
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := rampSeries(6, 10, tt.stepPercent, 5*time.Minute)
			p := Predict(series, series[len(series)-1].Percent, fiveHours)
			if p == nil {
				t.Fatal("Predict() = nil")
			}
			if p.Pace != tt.want {
				t.Errorf("Pace = %q, want %q", p.Pace, tt.want)
			}
		})
	}
}

func TestPredict_AbsoluteFallbackWithoutPeriod(t *testing.T) {
	tests := []struct {
		name        string
		stepPercent float64
		want        models.Pace
	}{
		{"FastBurn", 1, models.PaceAhead},       // 12%/hr
		{"ModerateBurn", 0.1, models.PaceOnTrack}, // 1.2%/hr
		{"SlowBurn", 0.02, models.PaceBehind},   // 0.24%/hr
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := rampSeries(6, 10, tt.stepPercent, 5*time.Minute)
			p := Predict(series, series[len(series)-1].Percent, 0)
			if p == nil {
				t.Fatal("Predict() = nil")
			}
			if p.Pace != tt.want {
				t.Errorf("Pace = %q, want %q", p.Pace, tt.want)
			}
		})
	}
}

func TestPredict_UsesRecentWindowOnly(t *testing.T) {
	// 20 flat snapshots followed by 12 climbing ones. Only the recent
	// window feeds the fit, so the rate reflects the climb.
	flat := rampSeries(20, 10, 0, 5*time.Minute)
	climb := rampSeries(12, 10, 1, 5*time.Minute)
	for i := range climb {
		climb[i].Timestamp = flat[len(flat)-1].Timestamp.Add(time.Duration(i+1) * 5 * time.Minute)
	}
	p := Predict(append(flat, climb...), climb[len(climb)-1].Percent, 0)
	if p == nil {
		t.Fatal("Predict() = nil")
	}
	if math.Abs(p.BurnRatePerHour-12) > 0.01 {
		t.Errorf("BurnRatePerHour = %v, want ~12 (recent window only)", p.BurnRatePerHour)
	}
}

func TestLinearRegression_ConstantTimestamps(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	series := []models.UsageSnapshot{
		{Timestamp: ts, Percent: 10},
		{Timestamp: ts, Percent: 30},
	}
	slope, intercept := linearRegression(series)
	if slope != 0 {
		t.Errorf("slope = %v, want 0 for degenerate input", slope)
	}
	if intercept != 20 {
		t.Errorf("intercept = %v, want mean 20", intercept)
	}
}
