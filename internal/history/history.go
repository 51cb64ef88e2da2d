// Package history maintains bounded usage time series, one per
// (provider, metric) pair, with dedup and billing-window rollover.
package history

import (
	"sync"
	"time"

	"github.com/j-veylop/quotameter/internal/logger"
	"github.com/j-veylop/quotameter/internal/models"
)

const (
	// dedupGuard drops snapshots recorded too soon after the previous
	// one, so UI-triggered re-probes do not skew the sampling cadence.
	dedupGuard = 2 * time.Minute

	// maxEntries bounds each series to roughly 24 hours at the nominal
	// 5-minute cadence.
	maxEntries = 288
)

// Persistence mirrors series mutations to durable storage. All calls
// are best-effort; failures degrade to in-memory-only history.
type Persistence interface {
	InsertSnapshot(provider, metric string, snap models.UsageSnapshot) error
	ClearSeries(provider, metric string) error
	TrimSeries(provider, metric string, keep int) error
	LoadSeries(provider, metric string, limit int) ([]models.UsageSnapshot, error)
	SeriesKeys() ([][2]string, error)
}

type seriesKey struct {
	provider string
	metric   string
}

// Store owns all usage series.
type Store struct {
	mu          sync.RWMutex
	series      map[seriesKey][]models.UsageSnapshot
	persistence Persistence
	now         func() time.Time
}

// New creates a history store. A non-nil persistence is used to reload
// series recorded by previous runs and to mirror new snapshots.
func New(persistence Persistence) *Store {
	s := &Store{
		series:      make(map[seriesKey][]models.UsageSnapshot),
		persistence: persistence,
		now:         time.Now,
	}
	s.load()
	return s
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) load() {
	if s.persistence == nil {
		return
	}

	keys, err := s.persistence.SeriesKeys()
	if err != nil {
		logger.Warn("failed to list stored usage series", "error", err)
		return
	}
	for _, key := range keys {
		series, err := s.persistence.LoadSeries(key[0], key[1], maxEntries)
		if err != nil {
			logger.Warn("failed to load usage series", "provider", key[0], "metric", key[1], "error", err)
			continue
		}
		s.series[seriesKey{provider: key[0], metric: key[1]}] = series
	}
}

// Record appends one observation to a series. A snapshot arriving
// within the dedup guard of the previous one is dropped silently. A
// resetsAt differing from the series' latest stored resetsAt discards
// the old billing window's history entirely.
func (s *Store) Record(provider, metric string, percent float64, resetsAt string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{provider: provider, metric: metric}
	series := s.series[key]
	now := s.now()

	if len(series) > 0 {
		last := series[len(series)-1]

		if last.ResetsAt != resetsAt {
			series = nil
			s.persistClear(provider, metric)
		} else if now.Sub(last.Timestamp) < dedupGuard {
			return
		}
	}

	snap := models.UsageSnapshot{Timestamp: now, Percent: percent, ResetsAt: resetsAt}
	series = append(series, snap)
	if len(series) > maxEntries {
		series = series[len(series)-maxEntries:]
	}
	s.series[key] = series

	s.persistAppend(provider, metric, snap)
}

// Read returns a copy of a series in chronological order.
func (s *Store) Read(provider, metric string) []models.UsageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[seriesKey{provider: provider, metric: metric}]
	out := make([]models.UsageSnapshot, len(series))
	copy(out, series)
	return out
}

func (s *Store) persistClear(provider, metric string) {
	if s.persistence == nil {
		return
	}
	if err := s.persistence.ClearSeries(provider, metric); err != nil {
		logger.Warn("failed to clear stored series", "provider", provider, "metric", metric, "error", err)
	}
}

func (s *Store) persistAppend(provider, metric string, snap models.UsageSnapshot) {
	if s.persistence == nil {
		return
	}
	if err := s.persistence.InsertSnapshot(provider, metric, snap); err != nil {
		logger.Warn("failed to persist snapshot", "provider", provider, "metric", metric, "error", err)
		return
	}
	if err := s.persistence.TrimSeries(provider, metric, maxEntries); err != nil {
		logger.Warn("failed to trim stored series", "provider", provider, "metric", metric, "error", err)
	}
}
