// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package store is the Postgres persistence layer for the telemetry
// pipeline. All tables live in the "hydro" schema. Connections come from a
// single pgx pool; each batch insert or job run acquires from the pool for
// the duration of one logical unit of work.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the connection pool and exposes the pipeline's persistence
// operations. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Options configure the store.
type Options struct {
	MaxConns int32
	Logger   *slog.Logger
}

// Open parses dsn, builds the connection pool, and verifies connectivity
// with a ping. An unreachable store at startup is a configuration error;
// callers should treat it as fatal.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, log: log}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
