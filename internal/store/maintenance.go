// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"context"
	"fmt"
)

// RefreshStats re-analyzes the pipeline tables so the planner keeps up with
// the append-heavy write pattern.
func (s *Store) RefreshStats(ctx context.Context) error {
	for _, table := range []string{
		"hydro.raw_events",
		"hydro.measurements",
		"hydro.measurements_clean",
	} {
		if _, err := s.pool.Exec(ctx, "ANALYZE "+table); err != nil {
			return fmt.Errorf("analyze %s: %w", table, err)
		}
	}
	return nil
}

// RefreshFlowHistogram rebuilds the binned histogram of smoothed flow over
// a trailing window of windowHours (a non-positive window covers all
// history). Outlier-flagged rows are excluded.
func (s *Store) RefreshFlowHistogram(ctx context.Context, bins, windowHours int) error {
	if bins <= 0 {
		return fmt.Errorf("histogram bins must be positive, got %d", bins)
	}

	windowFilter := "TRUE"
	if windowHours > 0 {
		windowFilter = fmt.Sprintf(
			`ts >= date_trunc('hour', now()) - interval '%d hours'
			 AND ts < date_trunc('hour', now())`, windowHours)
	}

	sql := fmt.Sprintf(`
		WITH windowed AS (
			SELECT flow_smoothed::double precision AS flow
			FROM hydro.measurements_clean
			WHERE NOT is_outlier AND flow_smoothed IS NOT NULL AND %s
		),
		bounds AS (
			SELECT min(flow) AS lo, max(flow) AS hi FROM windowed
		),
		buckets AS (
			SELECT width_bucket(flow, bounds.lo, bounds.hi + 1e-9, $1) AS bucket,
			       bounds.lo + (width_bucket(flow, bounds.lo, bounds.hi + 1e-9, $1) - 1)
			           * (bounds.hi + 1e-9 - bounds.lo) / $1 AS lower_bound,
			       bounds.lo + width_bucket(flow, bounds.lo, bounds.hi + 1e-9, $1)
			           * (bounds.hi + 1e-9 - bounds.lo) / $1 AS upper_bound
			FROM windowed, bounds
		)
		INSERT INTO hydro.flow_histogram (bucket, lower_bound, upper_bound, sample_count, refreshed_at)
		SELECT bucket, min(lower_bound), max(upper_bound), count(*), now()
		FROM buckets
		GROUP BY bucket
		ON CONFLICT (bucket)
		DO UPDATE SET lower_bound  = EXCLUDED.lower_bound,
		              upper_bound  = EXCLUDED.upper_bound,
		              sample_count = EXCLUDED.sample_count,
		              refreshed_at = EXCLUDED.refreshed_at`, windowFilter)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin histogram tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM hydro.flow_histogram`); err != nil {
		return fmt.Errorf("clear flow histogram: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, bins); err != nil {
		return fmt.Errorf("rebuild flow histogram: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit flow histogram: %w", err)
	}
	return nil
}
