// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydrosense/pipeline/internal/ingest"
	"github.com/hydrosense/pipeline/internal/store"
)

// fakeInserter fails the first len(errs) calls with the queued errors, then
// succeeds, recording every batch it was handed.
type fakeInserter struct {
	errs    []error
	batches [][]store.RawRow
}

func (f *fakeInserter) InsertRaw(_ context.Context, rows []store.RawRow) error {
	f.batches = append(f.batches, rows)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func transient(error) bool { return true }

func testRows(n int) []store.RawRow {
	rows := make([]store.RawRow, n)
	for i := range rows {
		rows[i] = store.RawRow{DeviceID: "dev", MeasureName: "flow"}
	}
	return rows
}

func TestWriteBatchFirstAttemptSucceeds(t *testing.T) {
	f := &fakeInserter{}
	w := ingest.NewWriter(f, ingest.WithRetryDelay(time.Millisecond))

	outcome, err := w.WriteBatch(context.Background(), testRows(3))
	require.NoError(t, err)
	require.Equal(t, ingest.WriteOK, outcome)
	require.Len(t, f.batches, 1)
}

func TestWriteBatchRetriesOnceThenSucceeds(t *testing.T) {
	f := &fakeInserter{errs: []error{errors.New("connection reset")}}
	w := ingest.NewWriter(f,
		ingest.WithRetryDelay(time.Millisecond),
		ingest.WithTransientClassifier(transient),
	)

	outcome, err := w.WriteBatch(context.Background(), testRows(3))
	require.NoError(t, err)
	require.Equal(t, ingest.WriteRetried, outcome)
	require.Len(t, f.batches, 2, "exactly one retry")
}

func TestWriteBatchFailsAfterSecondAttempt(t *testing.T) {
	f := &fakeInserter{errs: []error{errors.New("down"), errors.New("still down")}}
	w := ingest.NewWriter(f,
		ingest.WithRetryDelay(time.Millisecond),
		ingest.WithTransientClassifier(transient),
	)

	outcome, err := w.WriteBatch(context.Background(), testRows(1))
	require.Error(t, err)
	require.Equal(t, ingest.WriteFailed, outcome)
	require.Len(t, f.batches, 2, "no further retries after the second failure")
}

func TestWriteBatchPermanentErrorNotRetried(t *testing.T) {
	f := &fakeInserter{errs: []error{errors.New("constraint violation")}}
	w := ingest.NewWriter(f,
		ingest.WithRetryDelay(time.Millisecond),
		ingest.WithTransientClassifier(func(error) bool { return false }),
	)

	outcome, err := w.WriteBatch(context.Background(), testRows(1))
	require.Error(t, err)
	require.Equal(t, ingest.WriteFailed, outcome)
	require.Len(t, f.batches, 1, "permanent failures are not retried")
}

func TestWriteBatchEmpty(t *testing.T) {
	f := &fakeInserter{}
	w := ingest.NewWriter(f)

	outcome, err := w.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, ingest.WriteOK, outcome)
	require.Empty(t, f.batches)
}

func TestWriteBatchCancelledDuringDelay(t *testing.T) {
	f := &fakeInserter{errs: []error{errors.New("down")}}
	w := ingest.NewWriter(f,
		ingest.WithRetryDelay(time.Minute),
		ingest.WithTransientClassifier(transient),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome, err := w.WriteBatch(ctx, testRows(1))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, ingest.WriteFailed, outcome)
	require.Len(t, f.batches, 1)
}
