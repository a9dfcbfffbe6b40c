// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"context"
	"fmt"
)

// schemaDDL is applied statement by statement at startup. Every statement
// is an idempotent "ensure exists" call.
var schemaDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS hydro`,

	`CREATE TABLE IF NOT EXISTS hydro.raw_events (
		id               bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		device_id        text        NOT NULL,
		group_name       text        NOT NULL DEFAULT '',
		parent_ts        bigint,
		parent_ts_msec   bigint,
		measure_name     text        NOT NULL,
		raw_value        double precision,
		status           integer,
		measure_ts       bigint,
		measure_ts_msec  bigint,
		inserted_at      timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS raw_events_measure_ts_msec_idx
		ON hydro.raw_events (measure_ts_msec)`,

	`CREATE TABLE IF NOT EXISTS hydro.measurements (
		device_id    text        NOT NULL,
		ts           timestamptz NOT NULL,
		flow_rate    double precision,
		temperature  double precision,
		velocity     double precision,
		PRIMARY KEY (device_id, ts)
	)`,

	`CREATE INDEX IF NOT EXISTS measurements_ts_idx
		ON hydro.measurements (ts)`,

	`CREATE TABLE IF NOT EXISTS hydro.measurements_clean (
		device_id      text            NOT NULL,
		ts             timestamptz     NOT NULL,
		flow_raw       numeric(10, 3),
		flow_smoothed  numeric(10, 3),
		is_outlier     boolean         NOT NULL DEFAULT false,
		window_median  numeric(10, 3),
		threshold      numeric(10, 3),
		updated_at     timestamptz     NOT NULL DEFAULT now(),
		PRIMARY KEY (device_id, ts)
	)`,

	`CREATE TABLE IF NOT EXISTS hydro.job_state (
		job_name      text        PRIMARY KEY,
		last_ts_msec  bigint      NOT NULL DEFAULT 0,
		updated_at    timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS hydro.sources (
		id          bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name        text    NOT NULL UNIQUE,
		broker_url  text    NOT NULL,
		topic       text    NOT NULL,
		enabled     boolean NOT NULL DEFAULT true
	)`,

	`CREATE TABLE IF NOT EXISTS hydro.flow_histogram (
		bucket        integer PRIMARY KEY,
		lower_bound   double precision NOT NULL,
		upper_bound   double precision NOT NULL,
		sample_count  bigint           NOT NULL,
		refreshed_at  timestamptz      NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the hydro schema objects if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	s.log.Info("schema ensured")
	return nil
}
