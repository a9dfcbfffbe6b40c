// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	selectCheckpointSQL = `
		SELECT last_ts_msec
		FROM hydro.job_state
		WHERE job_name = $1`

	// The upsert never moves a checkpoint backwards: re-running a job over
	// an overlapping window must not reopen already-processed history.
	upsertCheckpointSQL = `
		INSERT INTO hydro.job_state (job_name, last_ts_msec, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (job_name)
		DO UPDATE SET last_ts_msec = GREATEST(hydro.job_state.last_ts_msec, EXCLUDED.last_ts_msec),
		              updated_at   = EXCLUDED.updated_at`
)

// Checkpoint returns the last processed timestamp (epoch milliseconds) for
// the named job, or zero if the job has never run.
func (s *Store) Checkpoint(ctx context.Context, job string) (int64, error) {
	var ts int64
	err := s.pool.QueryRow(ctx, selectCheckpointSQL, job).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %q: %w", job, err)
	}
	return ts, nil
}

// SetCheckpoint durably advances the named job's checkpoint.
func (s *Store) SetCheckpoint(ctx context.Context, job string, tsMsec int64) error {
	if _, err := s.pool.Exec(ctx, upsertCheckpointSQL, job, tsMsec); err != nil {
		return fmt.Errorf("advance checkpoint %q: %w", job, err)
	}
	return nil
}
