// Package services provides service orchestration for the TUI.
package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/j-veylop/quotameter/internal/alerts"
	"github.com/j-veylop/quotameter/internal/config"
	"github.com/j-veylop/quotameter/internal/db"
	"github.com/j-veylop/quotameter/internal/history"
	"github.com/j-veylop/quotameter/internal/logger"
	"github.com/j-veylop/quotameter/internal/models"
	"github.com/j-veylop/quotameter/internal/predict"
	"github.com/j-veylop/quotameter/internal/providers"
	"github.com/j-veylop/quotameter/internal/providers/claude"
	"github.com/j-veylop/quotameter/internal/providers/codex"
	"github.com/j-veylop/quotameter/internal/providers/zai"
)

// probeTimeout bounds one fan-out probe cycle across all providers.
const probeTimeout = 60 * time.Second

type (
	// ResultsUpdatedEvent is emitted after every probe cycle with the
	// full set of provider statuses.
	ResultsUpdatedEvent struct {
		Results []ProviderStatus
	}

	// ProbingEvent is emitted when a probe cycle starts.
	ProbingEvent struct{}

	// ErrorEvent is emitted when a background service fails.
	ErrorEvent struct {
		Service string
		Error   error
	}
)

// ServiceEvent is the interface implemented by all service events.
type ServiceEvent interface {
	isServiceEvent()
}

func (ResultsUpdatedEvent) isServiceEvent() {}
func (ProbingEvent) isServiceEvent()        {}
func (ErrorEvent) isServiceEvent()          {}

// ProviderStatus is one provider's latest probe outcome enriched with
// per-window history and burn-rate predictions, keyed by metric label.
// Stale marks results carried over from the last successful probe after
// a failed one.
type ProviderStatus struct {
	models.ProbeResult
	Stale       bool
	Predictions map[string]*models.Prediction
	Series      map[string][]models.UsageSnapshot
}

// CredentialWatcher is implemented by adapters whose credentials live
// in files worth watching for external changes.
type CredentialWatcher interface {
	CredentialPaths() []string
}

// Manager owns the provider registry and the background poll loop, and
// routes results to subscribers.
type Manager struct {
	mu          sync.RWMutex
	registry    *providers.Registry
	database    *db.DB
	history     *history.Store
	alerts      *alerts.Engine
	results     []ProviderStatus
	subscribers []chan<- ServiceEvent

	pollInterval  time.Duration
	refreshChan   chan struct{}
	stopChan      chan struct{}
	watcher       *fsnotify.Watcher
	watchedFiles  map[string]bool
	debounceTimer *time.Timer
	closeOnce     sync.Once
}

// NewManager creates a service manager. A database failure degrades to
// in-memory-only history rather than aborting startup.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		registry: providers.NewRegistry(
			claude.New(cfg.ClaudeCredentialsPath, nil),
			codex.New(cfg.CodexAuthPath, nil),
			zai.New(cfg.ZaiCredentialsPath, nil),
		),
		pollInterval: cfg.PollInterval,
		refreshChan:  make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
		watchedFiles: make(map[string]bool),
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		logger.Warn("failed to open database, history will not survive restarts", "error", err)
	} else {
		m.database = database
	}

	// A nil *db.DB must not end up inside a non-nil interface value.
	var persistence history.Persistence
	var alertStore alerts.Store
	if m.database != nil {
		persistence = m.database
		alertStore = m.database
	}
	m.history = history.New(persistence)
	m.alerts = alerts.New(alertStore, cfg.NotificationsEnabled)

	if err := m.startWatcher(); err != nil {
		logger.Warn("failed to watch credential files", "error", err)
	}

	go m.pollLoop()

	return m, nil
}

// pollLoop probes immediately, then on every tick or refresh request.
func (m *Manager) pollLoop() {
	m.probe()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-m.refreshChan:
			m.probe()
		case <-m.stopChan:
			return
		}
	}
}

// probe runs one fan-out cycle and publishes the merged statuses.
func (m *Manager) probe() {
	m.broadcast(ProbingEvent{})

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	results := m.registry.ProbeAll(ctx)

	m.mu.Lock()
	previous := m.results
	statuses := make([]ProviderStatus, len(results))
	for i, result := range results {
		statuses[i] = m.buildStatus(result, previous)
	}
	m.results = statuses
	m.mu.Unlock()

	m.broadcast(ResultsUpdatedEvent{Results: statuses})
}

// buildStatus records history, computes predictions, and runs alert
// checks for one probe result. A failed probe keeps the previous
// successful result's lines, marked stale.
func (m *Manager) buildStatus(result models.ProbeResult, previous []ProviderStatus) ProviderStatus {
	if result.Failed() {
		logger.Warn("provider probe failed", "provider", result.Provider, "error", result.Error)
		for _, prev := range previous {
			if prev.Provider == result.Provider && len(prev.Lines) > 0 {
				stale := prev
				stale.Error = result.Error
				stale.Stale = true
				return stale
			}
		}
		return ProviderStatus{ProbeResult: result}
	}

	status := ProviderStatus{
		ProbeResult: result,
		Predictions: make(map[string]*models.Prediction),
		Series:      make(map[string][]models.UsageSnapshot),
	}

	for _, line := range result.Lines {
		if line.Kind != models.MetricProgress {
			continue
		}
		percent := line.Percent()

		m.history.Record(result.Provider, line.Label, percent, line.ResetsAt)
		series := m.history.Read(result.Provider, line.Label)
		status.Series[line.Label] = series

		if p := predict.Predict(series, percent, line.PeriodMs); p != nil {
			status.Predictions[line.Label] = p
		}

		m.alerts.CheckAndFire(result.Provider, line.Label, percent, line.ResetsAt)
	}

	return status
}

// Results returns a copy of the latest provider statuses.
func (m *Manager) Results() []ProviderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ProviderStatus, len(m.results))
	copy(out, m.results)
	return out
}

// Refresh requests an early probe cycle. A cycle already pending makes
// this a no-op.
func (m *Manager) Refresh() {
	select {
	case m.refreshChan <- struct{}{}:
	default:
	}
}

// startWatcher watches the directories holding credential files so an
// external re-login triggers an early probe.
func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := make(map[string]bool)
	for _, adapter := range m.registry.Adapters() {
		cw, ok := adapter.(CredentialWatcher)
		if !ok {
			continue
		}
		for _, path := range cw.CredentialPaths() {
			m.watchedFiles[filepath.Clean(path)] = true
			dirs[filepath.Dir(path)] = true
		}
	}

	added := 0
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			// Missing credential dirs are expected for unconfigured providers.
			logger.Debug("not watching credential directory", "dir", dir, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return fmt.Errorf("no credential directories available to watch")
	}

	m.watcher = watcher
	go m.watchLoop()
	return nil
}

// watchLoop handles file system events with debouncing.
func (m *Manager) watchLoop() {
	const debounceInterval = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if !m.watchedFiles[filepath.Clean(event.Name)] {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				// Debounce rapid changes
				if m.debounceTimer != nil {
					m.debounceTimer.Stop()
				}
				m.debounceTimer = time.AfterFunc(debounceInterval, func() {
					logger.Info("credential file changed, probing early", "file", event.Name)
					m.Refresh()
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.broadcast(ErrorEvent{Service: "watcher", Error: err})

		case <-m.stopChan:
			return
		}
	}
}

// broadcast sends an event to all subscribers, dropping it for any
// subscriber whose channel is full.
func (m *Manager) broadcast(event ServiceEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// Subscribe creates a channel for receiving service events.
// Returns a tea.Cmd that can be used in Bubble Tea's Init or Update.
func (m *Manager) Subscribe() (chan ServiceEvent, tea.Cmd) {
	ch := make(chan ServiceEvent, 50)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	return ch, waitForEvent(ch)
}

// WaitForEvent returns a tea.Cmd for the next event on a channel.
func WaitForEvent(ch <-chan ServiceEvent) tea.Cmd {
	return waitForEvent(ch)
}

func waitForEvent(ch <-chan ServiceEvent) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// Unsubscribe removes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan ServiceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close stops the poll loop and watcher and releases the database.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopChan)

		if m.watcher != nil {
			if closeErr := m.watcher.Close(); closeErr != nil {
				logger.Error("failed to close watcher", "error", closeErr)
			}
		}

		m.mu.Lock()
		for _, sub := range m.subscribers {
			close(sub)
		}
		m.subscribers = nil
		m.mu.Unlock()

		if m.database != nil {
			err = m.database.Close()
		}
	})
	return err
}
