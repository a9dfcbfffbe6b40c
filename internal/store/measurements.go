// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"context"
	"fmt"
	"time"
)

// Measurement is one canonical per-device, per-instant flow reading read
// back for cleaning.
type Measurement struct {
	DeviceID string
	TS       time.Time
	Flow     float64
}

const measurementsAfterSQL = `
	SELECT device_id, ts, flow_rate
	FROM hydro.measurements
	WHERE flow_rate IS NOT NULL
	  AND (extract(epoch FROM ts) * 1000)::bigint > $1
	ORDER BY device_id, ts`

// MeasurementsAfter returns every measurement with a flow reading strictly
// newer than sinceMsec, ordered by device then time. The ordering is what
// the sliding-window filter depends on.
func (s *Store) MeasurementsAfter(ctx context.Context, sinceMsec int64) ([]Measurement, error) {
	rows, err := s.pool.Query(ctx, measurementsAfterSQL, sinceMsec)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(&m.DeviceID, &m.TS, &m.Flow); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read measurements: %w", err)
	}
	return out, nil
}
