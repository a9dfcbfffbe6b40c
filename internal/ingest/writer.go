// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/hydrosense/pipeline/internal/store"
)

type (
	// RawInserter is the slice of the store the writer needs.
	RawInserter interface {
		InsertRaw(ctx context.Context, rows []store.RawRow) error
	}

	// Outcome is the result of a batch write. Callers advance their replay
	// cursor only on WriteOK or WriteRetried; after WriteFailed the same
	// event must be redelivered.
	Outcome int

	// Writer performs durable batch inserts of raw rows with a single
	// fixed-delay retry on transient failures.
	Writer struct {
		inserter   RawInserter
		retryDelay time.Duration
		transient  func(error) bool
		log        *slog.Logger
	}

	// WriterOption configures a Writer.
	WriterOption func(*Writer)
)

const (
	// WriteOK means the first attempt succeeded.
	WriteOK Outcome = iota
	// WriteRetried means the first attempt failed transiently and the
	// retry succeeded.
	WriteRetried
	// WriteFailed means no durable write happened. The bounded retry is
	// deliberate: events acknowledged upstream but never written after the
	// retry are an accepted, logged loss, not a silent one.
	WriteFailed
)

// String renders the outcome for logs.
func (o Outcome) String() string {
	switch o {
	case WriteOK:
		return "ok"
	case WriteRetried:
		return "retried"
	default:
		return "failed"
	}
}

// WithRetryDelay overrides the fixed delay before the single retry.
func WithRetryDelay(d time.Duration) WriterOption {
	return func(w *Writer) { w.retryDelay = d }
}

// WithTransientClassifier overrides the transient-error check.
func WithTransientClassifier(f func(error) bool) WriterOption {
	return func(w *Writer) { w.transient = f }
}

// WithWriterLogger sets the writer's logger.
func WithWriterLogger(log *slog.Logger) WriterOption {
	return func(w *Writer) { w.log = log }
}

// NewWriter creates a raw writer over the given inserter.
func NewWriter(inserter RawInserter, opt ...WriterOption) *Writer {
	w := &Writer{
		inserter:   inserter,
		retryDelay: time.Second,
		transient:  store.IsTransient,
		log:        slog.Default(),
	}
	for _, o := range opt {
		o(w)
	}
	return w
}

// WriteBatch attempts one durable insert of rows. A transient failure is
// retried exactly once after the fixed delay; any further failure is
// surfaced. The returned error is non-nil only for WriteFailed.
func (w *Writer) WriteBatch(ctx context.Context, rows []store.RawRow) (Outcome, error) {
	if len(rows) == 0 {
		return WriteOK, nil
	}

	err := w.inserter.InsertRaw(ctx, rows)
	if err == nil {
		return WriteOK, nil
	}
	if !w.transient(err) {
		return WriteFailed, err
	}

	w.log.Warn("raw insert failed, retrying once",
		"rows", len(rows), "delay", w.retryDelay, "error", err)

	select {
	case <-time.After(w.retryDelay):
	case <-ctx.Done():
		return WriteFailed, ctx.Err()
	}

	if err := w.inserter.InsertRaw(ctx, rows); err != nil {
		return WriteFailed, err
	}
	return WriteRetried, nil
}
