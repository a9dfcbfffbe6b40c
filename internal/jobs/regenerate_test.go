// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydrosense/pipeline/internal/jobs"
	"github.com/hydrosense/pipeline/internal/store"
)

type fakeRegenStore struct {
	history  map[string][]store.HistoryPoint
	upserted map[string][]store.CleanedRow
	err      error
}

func newFakeRegenStore() *fakeRegenStore {
	return &fakeRegenStore{
		history:  map[string][]store.HistoryPoint{},
		upserted: map[string][]store.CleanedRow{},
	}
}

func (f *fakeRegenStore) CleanedDevices(context.Context) ([]string, error) {
	var devices []string
	for d := range f.history {
		devices = append(devices, d)
	}
	return devices, nil
}

func (f *fakeRegenStore) CleanedHistory(_ context.Context, deviceID string) ([]store.HistoryPoint, error) {
	return f.history[deviceID], nil
}

func (f *fakeRegenStore) UpsertCleaned(_ context.Context, rows []store.CleanedRow) error {
	if f.err != nil {
		return f.err
	}
	for _, r := range rows {
		f.upserted[r.DeviceID] = append(f.upserted[r.DeviceID], r)
	}
	return nil
}

func (f *fakeRegenStore) addHistory(device string, flows ...float64) {
	for i, flow := range flows {
		f.history[device] = append(f.history[device], store.HistoryPoint{
			TS:      time.Unix(int64(i+1), 0).UTC(),
			FlowRaw: flow,
		})
	}
}

func TestRegenerateAllDevices(t *testing.T) {
	f := newFakeRegenStore()
	f.addHistory("dev-a", 10, 10, 10, 10, 1000, 10, 10, 10, 10)
	f.addHistory("dev-b", 7, 7, 7, 7, 7)
	r := jobs.NewRegenerator(f, 5, 3, testBounds, nil)

	n, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 14, n)

	rows := f.upserted["dev-a"]
	require.Len(t, rows, 9)
	require.True(t, rows[4].IsOutlier)
	require.Equal(t, 1000.0, rows[4].FlowRaw, "raw value survives regeneration")
	require.Equal(t, 10.0, rows[4].FlowSmoothed)

	for _, row := range f.upserted["dev-b"] {
		require.False(t, row.IsOutlier)
	}
}

func TestRegenerateEmpty(t *testing.T) {
	r := jobs.NewRegenerator(newFakeRegenStore(), 5, 3, testBounds, nil)

	n, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRegenerateUpsertFailure(t *testing.T) {
	f := newFakeRegenStore()
	f.addHistory("dev-a", 1, 2, 3)
	f.err = errors.New("db down")
	r := jobs.NewRegenerator(f, 5, 3, testBounds, nil)

	_, err := r.Run(context.Background())
	require.Error(t, err)
}
