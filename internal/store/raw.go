// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RawRow is one flattened (device, measure) reading from a stream event.
// Raw rows are append-only; they are never mutated or deleted.
type RawRow struct {
	DeviceID      string
	GroupName     string
	ParentTS      int64
	ParentTSMsec  int64
	MeasureName   string
	RawValue      *float64
	Status        *int32
	MeasureTS     int64
	MeasureTSMsec int64
}

var rawColumns = []string{
	"device_id", "group_name", "parent_ts", "parent_ts_msec",
	"measure_name", "raw_value", "status", "measure_ts", "measure_ts_msec",
}

// InsertRaw appends a batch of raw rows in one round trip. No conflict
// handling is needed: raw rows are never re-keyed.
func (s *Store) InsertRaw(ctx context.Context, rows []RawRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"hydro", "raw_events"},
		rawColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{
				r.DeviceID, r.GroupName, r.ParentTS, r.ParentTSMsec,
				r.MeasureName, r.RawValue, r.Status, r.MeasureTS, r.MeasureTSMsec,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("insert raw rows: %w", err)
	}
	return nil
}
