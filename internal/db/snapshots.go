package db

import (
	"context"
	"time"

	"github.com/j-veylop/quotameter/internal/models"
)

// InsertSnapshot appends one usage observation to a series.
func (db *DB) InsertSnapshot(provider, metric string, snap models.UsageSnapshot) error {
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO usage_snapshots (provider, metric, timestamp_ms, percent, resets_at)
		 VALUES (?, ?, ?, ?, ?)`,
		provider, metric, snap.Timestamp.UnixMilli(), snap.Percent, snap.ResetsAt)
	return err
}

// ClearSeries deletes every snapshot of a series. Used on billing
// window rollover.
func (db *DB) ClearSeries(provider, metric string) error {
	_, err := db.ExecContext(context.Background(),
		`DELETE FROM usage_snapshots WHERE provider = ? AND metric = ?`,
		provider, metric)
	return err
}

// TrimSeries drops everything but the most recent keep snapshots of a
// series.
func (db *DB) TrimSeries(provider, metric string, keep int) error {
	_, err := db.ExecContext(context.Background(),
		`DELETE FROM usage_snapshots
		 WHERE provider = ? AND metric = ? AND id NOT IN (
			SELECT id FROM usage_snapshots
			WHERE provider = ? AND metric = ?
			ORDER BY timestamp_ms DESC LIMIT ?
		 )`,
		provider, metric, provider, metric, keep)
	return err
}

// LoadSeries returns the most recent snapshots of a series in
// chronological order.
func (db *DB) LoadSeries(provider, metric string, limit int) ([]models.UsageSnapshot, error) {
	rows, err := db.QueryContext(context.Background(),
		`SELECT timestamp_ms, percent, resets_at FROM (
			SELECT timestamp_ms, percent, resets_at FROM usage_snapshots
			WHERE provider = ? AND metric = ?
			ORDER BY timestamp_ms DESC LIMIT ?
		 ) ORDER BY timestamp_ms ASC`,
		provider, metric, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var series []models.UsageSnapshot
	for rows.Next() {
		var timestampMs int64
		var snap models.UsageSnapshot
		if err := rows.Scan(&timestampMs, &snap.Percent, &snap.ResetsAt); err != nil {
			return nil, err
		}
		snap.Timestamp = time.UnixMilli(timestampMs)
		series = append(series, snap)
	}
	return series, rows.Err()
}

// SeriesKeys returns every (provider, metric) pair with stored
// snapshots.
func (db *DB) SeriesKeys() ([][2]string, error) {
	rows, err := db.QueryContext(context.Background(),
		`SELECT DISTINCT provider, metric FROM usage_snapshots`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys [][2]string
	for rows.Next() {
		var provider, metric string
		if err := rows.Scan(&provider, &metric); err != nil {
			return nil, err
		}
		keys = append(keys, [2]string{provider, metric})
	}
	return keys, rows.Err()
}

// LoadFiredThresholds returns the thresholds already notified for one
// billing window of a series.
func (db *DB) LoadFiredThresholds(provider, metric, resetsAt string) ([]int, error) {
	rows, err := db.QueryContext(context.Background(),
		`SELECT threshold FROM fired_alerts
		 WHERE provider = ? AND metric = ? AND resets_at = ?`,
		provider, metric, resetsAt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var thresholds []int
	for rows.Next() {
		var threshold int
		if err := rows.Scan(&threshold); err != nil {
			return nil, err
		}
		thresholds = append(thresholds, threshold)
	}
	return thresholds, rows.Err()
}

// SaveFiredThreshold records that a threshold fired for one billing
// window. Re-recording the same threshold is a no-op.
func (db *DB) SaveFiredThreshold(provider, metric, resetsAt string, resetUnix int64, threshold int) error {
	_, err := db.ExecContext(context.Background(),
		`INSERT OR IGNORE INTO fired_alerts (provider, metric, resets_at, reset_unix, threshold, fired_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		provider, metric, resetsAt, resetUnix, threshold, time.Now().UnixMilli())
	return err
}

// DeleteExpiredAlerts garbage-collects fired-alert records whose
// billing window has already rolled over.
func (db *DB) DeleteExpiredAlerts(now time.Time) error {
	_, err := db.ExecContext(context.Background(),
		`DELETE FROM fired_alerts WHERE reset_unix > 0 AND reset_unix < ?`,
		now.Unix())
	return err
}
