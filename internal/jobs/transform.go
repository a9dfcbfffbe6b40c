// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package jobs

import (
	"context"
	"log/slog"

	"github.com/hydrosense/pipeline/internal/store"
)

type (
	// TransformStore is the slice of the store the transform job needs.
	TransformStore interface {
		TransformRaw(ctx context.Context, channels []store.Channel) (int64, error)
	}

	// Transformer periodically pivots newly arrived raw rows into canonical
	// measurement rows. The heavy lifting is a single checkpointed SQL
	// statement in the store.
	Transformer struct {
		store    TransformStore
		channels []store.Channel
		log      *slog.Logger
	}
)

// NewTransformer creates the raw-to-measurements transform job.
func NewTransformer(st TransformStore, channels []store.Channel, log *slog.Logger) *Transformer {
	if log == nil {
		log = slog.Default()
	}
	return &Transformer{store: st, channels: channels, log: log}
}

// Run executes one transform pass and returns the measurement rows written.
func (t *Transformer) Run(ctx context.Context) (int64, error) {
	n, err := t.store.TransformRaw(ctx, t.channels)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.log.Info("raw rows transformed", "rows", n)
	}
	return n, nil
}
