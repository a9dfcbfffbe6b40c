// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CleanedRow is one filtered measurement, keyed by (device, timestamp).
// Rows are upserted: a re-run with the same key overwrites in place.
type CleanedRow struct {
	DeviceID     string
	TS           time.Time
	FlowRaw      float64
	FlowSmoothed float64
	IsOutlier    bool
	WindowMedian float64
	Threshold    float64
}

// HistoryPoint is one (timestamp, raw flow) pair from the cleaned table,
// used by full regeneration. FlowRaw never changes once written.
type HistoryPoint struct {
	TS      time.Time
	FlowRaw float64
}

const upsertCleanedSQL = `
	INSERT INTO hydro.measurements_clean
		(device_id, ts, flow_raw, flow_smoothed, is_outlier, window_median, threshold, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	ON CONFLICT (device_id, ts)
	DO UPDATE SET flow_raw      = EXCLUDED.flow_raw,
	              flow_smoothed = EXCLUDED.flow_smoothed,
	              is_outlier    = EXCLUDED.is_outlier,
	              window_median = EXCLUDED.window_median,
	              threshold     = EXCLUDED.threshold,
	              updated_at    = EXCLUDED.updated_at`

func queueCleaned(batch *pgx.Batch, rows []CleanedRow) {
	for _, r := range rows {
		batch.Queue(upsertCleanedSQL,
			r.DeviceID, r.TS, r.FlowRaw, r.FlowSmoothed,
			r.IsOutlier, r.WindowMedian, r.Threshold)
	}
}

// SaveCleaned upserts a batch of cleaned rows and advances the named job's
// checkpoint in the same transaction, so a crash can never commit one
// without the other.
func (s *Store) SaveCleaned(ctx context.Context, rows []CleanedRow, job string, checkpointMsec int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cleaned tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	queueCleaned(batch, rows)
	batch.Queue(upsertCheckpointSQL, job, checkpointMsec)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert cleaned rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cleaned tx: %w", err)
	}
	return nil
}

// UpsertCleaned upserts cleaned rows without touching any checkpoint. Full
// regeneration uses it one device at a time.
func (s *Store) UpsertCleaned(ctx context.Context, rows []CleanedRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin regen tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	queueCleaned(batch, rows)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert cleaned rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit regen tx: %w", err)
	}
	return nil
}

// CleanedDevices lists every device present in the cleaned table.
func (s *Store) CleanedDevices(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT device_id FROM hydro.measurements_clean ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("list cleaned devices: %w", err)
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device id: %w", err)
		}
		devices = append(devices, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read device ids: %w", err)
	}
	return devices, nil
}

// CleanedHistory returns the full raw-flow history stored for one device,
// ordered by time.
func (s *Store) CleanedHistory(ctx context.Context, deviceID string) ([]HistoryPoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts, flow_raw
		FROM hydro.measurements_clean
		WHERE device_id = $1 AND flow_raw IS NOT NULL
		ORDER BY ts`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query history for %q: %w", deviceID, err)
	}
	defer rows.Close()

	var out []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.TS, &p.FlowRaw); err != nil {
			return nil, fmt.Errorf("scan history point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history for %q: %w", deviceID, err)
	}
	return out, nil
}
