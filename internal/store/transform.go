// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Channel maps an inbound measure name to a measurement pivot column.
type Channel struct {
	Measure string
	Column  string
}

// pivotColumns are the only identifiers allowed in the generated pivot SQL.
var pivotColumns = map[string]bool{
	"flow_rate":   true,
	"temperature": true,
	"velocity":    true,
}

const transformJobName = "transform_raw"

// TransformRaw pivots raw event rows beyond the transform cursor into
// canonical measurement rows, one per (device, timestamp), and advances
// the cursor in the same transaction. The cursor is the identity of the
// last pivoted raw row (stored in job_state alongside the time-based
// checkpoints): insertion order, not event time, decides what is new, so
// a redelivered event committed late with an old measure timestamp is
// still picked up. Late rows for an existing instant merge into the
// existing measurement row. It returns the number of measurement rows
// written.
func (s *Store) TransformRaw(ctx context.Context, channels []Channel) (int64, error) {
	if len(channels) == 0 {
		return 0, fmt.Errorf("transform: no channels configured")
	}
	for _, ch := range channels {
		if !pivotColumns[ch.Column] {
			return 0, fmt.Errorf("transform: %q is not a measurement column", ch.Column)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transform tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var last int64
	switch err := tx.QueryRow(ctx, selectCheckpointSQL, transformJobName).Scan(&last); {
	case errors.Is(err, pgx.ErrNoRows):
		last = 0 // never run
	case err != nil:
		return 0, fmt.Errorf("read transform checkpoint: %w", err)
	}

	var maxID *int64
	err = tx.QueryRow(ctx,
		`SELECT MAX(id) FROM hydro.raw_events WHERE id > $1`,
		last).Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("find new raw rows: %w", err)
	}
	if maxID == nil {
		// Nothing new; leave the cursor untouched.
		return 0, nil
	}

	sql, args := buildPivotSQL(channels, last)
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("pivot raw rows: %w", err)
	}

	if _, err := tx.Exec(ctx, upsertCheckpointSQL, transformJobName, *maxID); err != nil {
		return 0, fmt.Errorf("advance transform cursor: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transform tx: %w", err)
	}
	return tag.RowsAffected(), nil
}

// buildPivotSQL assembles the pivot insert for the configured channels,
// covering raw rows with an identity beyond sinceID. Column identifiers
// come from the pivotColumns whitelist; measure names are passed as
// parameters.
func buildPivotSQL(channels []Channel, sinceID int64) (string, []any) {
	args := []any{sinceID}

	var cols, selects, updates []string
	for _, ch := range channels {
		args = append(args, ch.Measure)
		cols = append(cols, ch.Column)
		selects = append(selects, fmt.Sprintf(
			"max(raw_value) FILTER (WHERE measure_name = $%d) AS %s", len(args), ch.Column))
		updates = append(updates, fmt.Sprintf(
			"%[1]s = COALESCE(EXCLUDED.%[1]s, hydro.measurements.%[1]s)", ch.Column))
	}

	sql := fmt.Sprintf(`
		INSERT INTO hydro.measurements (device_id, ts, %s)
		SELECT device_id,
		       to_timestamp(measure_ts_msec / 1000.0) AS ts,
		       %s
		FROM hydro.raw_events
		WHERE id > $1 AND raw_value IS NOT NULL
		GROUP BY device_id, measure_ts_msec
		ON CONFLICT (device_id, ts)
		DO UPDATE SET %s`,
		strings.Join(cols, ", "),
		strings.Join(selects, ",\n\t\t       "),
		strings.Join(updates, ",\n\t\t              "))

	return sql, args
}
