// Package alerts fires one desktop notification per usage threshold per
// billing window.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/j-veylop/quotameter/internal/logger"
	"github.com/j-veylop/quotameter/internal/providers"
)

// Thresholds are the usage percentages that trigger a notification, in
// ascending order.
var Thresholds = []int{50, 75, 90}

// Store persists fired-threshold records across restarts. A nil Store
// keeps the fired set in memory only.
type Store interface {
	LoadFiredThresholds(provider, metric, resetsAt string) ([]int, error)
	SaveFiredThreshold(provider, metric, resetsAt string, resetUnix int64, threshold int) error
	DeleteExpiredAlerts(now time.Time) error
}

type alertKey struct {
	provider string
	metric   string
	resetsAt string
}

// Engine tracks which thresholds have fired for each billing window and
// raises desktop notifications for new crossings.
type Engine struct {
	mu      sync.Mutex
	fired   map[alertKey]map[int]bool
	store   Store
	enabled bool
	notify  func(title, message string) error
	now     func() time.Time
}

// New creates an alert engine. When enabled is false thresholds are
// still tracked but no notifications are sent.
func New(store Store, enabled bool) *Engine {
	return &Engine{
		fired:   make(map[alertKey]map[int]bool),
		store:   store,
		enabled: enabled,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		now: time.Now,
	}
}

// CheckAndFire compares a usage reading against the thresholds and
// notifies once per newly crossed threshold. A window without a known
// reset time cannot be keyed and is skipped entirely.
func (e *Engine) CheckAndFire(provider, metric string, percent float64, resetsAt string) {
	if resetsAt == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := alertKey{provider: provider, metric: metric, resetsAt: resetsAt}
	fired := e.fired[key]
	if fired == nil {
		fired = e.loadFired(key)
		e.fired[key] = fired
	}

	for _, threshold := range Thresholds {
		if percent < float64(threshold) || fired[threshold] {
			continue
		}
		fired[threshold] = true
		e.record(key, threshold)

		if !e.enabled {
			continue
		}
		title := fmt.Sprintf("%s usage at %d%%", provider, threshold)
		message := fmt.Sprintf("%s window is at %.0f%%, resets %s", metric, percent, resetsAt)
		if err := e.notify(title, message); err != nil {
			logger.Warn("failed to send notification", "provider", provider, "metric", metric, "error", err)
		}
	}
}

func (e *Engine) loadFired(key alertKey) map[int]bool {
	fired := make(map[int]bool)
	if e.store == nil {
		return fired
	}
	stored, err := e.store.LoadFiredThresholds(key.provider, key.metric, key.resetsAt)
	if err != nil {
		logger.Warn("failed to load fired thresholds", "provider", key.provider, "metric", key.metric, "error", err)
		return fired
	}
	for _, threshold := range stored {
		fired[threshold] = true
	}
	return fired
}

func (e *Engine) record(key alertKey, threshold int) {
	if e.store == nil {
		return
	}

	// Garbage collection matches on reset_unix, so parse every format
	// a provider may report; an unparseable value would pin the row
	// forever.
	var resetUnix int64
	if t, ok := providers.ParseResetString(key.resetsAt); ok {
		resetUnix = t.Unix()
	}
	if err := e.store.SaveFiredThreshold(key.provider, key.metric, key.resetsAt, resetUnix, threshold); err != nil {
		logger.Warn("failed to persist fired threshold", "provider", key.provider, "metric", key.metric, "error", err)
	}

	// Piggyback garbage collection of rolled-over windows on writes.
	if err := e.store.DeleteExpiredAlerts(e.now()); err != nil {
		logger.Warn("failed to prune expired alerts", "error", err)
	}
}
