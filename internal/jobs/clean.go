// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package jobs holds the pipeline's periodic and on-demand batch jobs.
// Each job is idempotent: repeated runs over overlapping input converge on
// the same stored state via (device, timestamp)-keyed upserts.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hydrosense/pipeline/internal/hampel"
	"github.com/hydrosense/pipeline/internal/store"
)

// CleanJobName keys the incremental cleaning job's checkpoint.
const CleanJobName = "clean_measurements"

type (
	// CleanStore is the slice of the store the cleaning job needs.
	CleanStore interface {
		Checkpoint(ctx context.Context, job string) (int64, error)
		MeasurementsAfter(ctx context.Context, sinceMsec int64) ([]store.Measurement, error)
		// SaveCleaned must commit the rows and the checkpoint atomically.
		SaveCleaned(ctx context.Context, rows []store.CleanedRow, job string, checkpointMsec int64) error
	}

	// Cleaner incrementally converts raw measurements into the cleaned
	// series. Each run picks up strictly after its checkpoint; because the
	// filter window extends k points to each side, cleaned values near the
	// previous run's tail may be revised once right-side context arrives.
	// Raw values are never revised.
	Cleaner struct {
		store  CleanStore
		window int
		sigma  float64
		clamp  Bounds
		log    *slog.Logger
	}

	// Bounds is the storage-safe numeric range for cleaned fields.
	Bounds struct {
		Min float64
		Max float64
	}
)

// Clamp truncates v to the bounds; values outside the range are moved to
// the nearest bound, never dropped.
func (b Bounds) Clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// NewCleaner creates the incremental cleaning job. Window must already be
// validated (positive odd); configuration is checked at startup.
func NewCleaner(st CleanStore, window int, sigma float64, clamp Bounds, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{store: st, window: window, sigma: sigma, clamp: clamp, log: log}
}

// Run executes one incremental pass and returns the number of cleaned rows
// written. With no new measurements it returns zero and leaves the
// checkpoint untouched. On any error the checkpoint is also untouched, so
// the next run retries the same window of work.
func (c *Cleaner) Run(ctx context.Context) (int, error) {
	last, err := c.store.Checkpoint(ctx, CleanJobName)
	if err != nil {
		return 0, err
	}

	ms, err := c.store.MeasurementsAfter(ctx, last)
	if err != nil {
		return 0, err
	}
	if len(ms) == 0 {
		c.log.Debug("no new measurements to clean")
		return 0, nil
	}

	maxTS := last
	var rows []store.CleanedRow

	// Input is ordered by device then time; walk contiguous device spans.
	for start := 0; start < len(ms); {
		end := start
		for end < len(ms) && ms[end].DeviceID == ms[start].DeviceID {
			end++
		}
		span := ms[start:end]

		cleaned, err := c.cleanDevice(span)
		if err != nil {
			return 0, fmt.Errorf("device %q: %w", span[0].DeviceID, err)
		}
		rows = append(rows, cleaned...)

		for _, m := range span {
			if ts := m.TS.UnixMilli(); ts > maxTS {
				maxTS = ts
			}
		}
		start = end
	}

	if err := c.store.SaveCleaned(ctx, rows, CleanJobName, maxTS); err != nil {
		return 0, err
	}

	c.log.Info("cleaned measurements", "rows", len(rows), "checkpoint_msec", maxTS)
	return len(rows), nil
}

// cleanDevice filters one device's ordered measurement span.
func (c *Cleaner) cleanDevice(span []store.Measurement) ([]store.CleanedRow, error) {
	xs := make([]float64, len(span))
	for i, m := range span {
		xs[i] = m.Flow
	}

	res, err := hampel.Filter(xs, c.window, c.sigma)
	if err != nil {
		return nil, err
	}

	rows := make([]store.CleanedRow, len(span))
	for i, m := range span {
		rows[i] = store.CleanedRow{
			DeviceID:     m.DeviceID,
			TS:           m.TS,
			FlowRaw:      c.clamp.Clamp(m.Flow),
			FlowSmoothed: c.clamp.Clamp(res.Smoothed[i]),
			IsOutlier:    res.Outlier[i],
			WindowMedian: c.clamp.Clamp(res.Median[i]),
			Threshold:    c.clamp.Clamp(res.Threshold[i]),
		}
	}
	return rows, nil
}
