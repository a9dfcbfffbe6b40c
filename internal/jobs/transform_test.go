// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package jobs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hydrosense/pipeline/internal/jobs"
	"github.com/hydrosense/pipeline/internal/store"
)

type fakeTransformStore struct {
	channels []store.Channel
	n        int64
	err      error
}

func (f *fakeTransformStore) TransformRaw(_ context.Context, channels []store.Channel) (int64, error) {
	f.channels = channels
	return f.n, f.err
}

func TestTransformerRun(t *testing.T) {
	channels := []store.Channel{{Measure: "Instant flow rate 2", Column: "flow_rate"}}
	f := &fakeTransformStore{n: 42}
	tr := jobs.NewTransformer(f, channels, nil)

	n, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
	require.Equal(t, channels, f.channels)
}

func TestTransformerRunError(t *testing.T) {
	f := &fakeTransformStore{err: errors.New("db down")}
	tr := jobs.NewTransformer(f, nil, nil)

	_, err := tr.Run(context.Background())
	require.Error(t, err)
}
