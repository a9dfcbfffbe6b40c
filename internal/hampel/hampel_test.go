// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package hampel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hydrosense/pipeline/internal/hampel"
)

func TestFilterSpike(t *testing.T) {
	xs := []float64{10, 10, 10, 10, 1000, 10, 10, 10, 10}

	res, err := hampel.Filter(xs, 5, 3)
	require.NoError(t, err)

	for i := range xs {
		if i == 4 {
			require.True(t, res.Outlier[i], "spike must be flagged")
			require.Equal(t, 10.0, res.Smoothed[i], "spike is replaced by the window median")
			require.Equal(t, 10.0, res.Median[i])
		} else {
			require.False(t, res.Outlier[i], "index %d", i)
			require.Equal(t, xs[i], res.Smoothed[i], "index %d", i)
		}
	}
}

func TestFilterDeterministic(t *testing.T) {
	xs := []float64{3.2, 3.1, 3.3, 17.9, 3.0, 2.9, 3.1, 3.2, 3.05, 3.15, 3.1}

	a, err := hampel.Filter(xs, 5, 3)
	require.NoError(t, err)
	b, err := hampel.Filter(xs, 5, 3)
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestFilterEmptyInput(t *testing.T) {
	res, err := hampel.Filter(nil, 5, 3)
	require.NoError(t, err)
	require.Empty(t, res.Smoothed)
	require.Empty(t, res.Outlier)
	require.Empty(t, res.Median)
	require.Empty(t, res.Threshold)
}

func TestFilterZeroMAD(t *testing.T) {
	// Constant window: MAD is zero, so any nonzero deviation is an outlier.
	xs := []float64{5, 5, 5, 5, 5, 5, 6}

	res, err := hampel.Filter(xs, 5, 3)
	require.NoError(t, err)
	require.True(t, res.Outlier[6])
	require.Equal(t, 5.0, res.Smoothed[6])

	for i := 0; i < 6; i++ {
		require.False(t, res.Outlier[i])
	}
}

func TestFilterBoundaryWindows(t *testing.T) {
	// Boundary points use truncated windows, so a short series still
	// produces a full-length result.
	xs := []float64{1, 2, 3}

	res, err := hampel.Filter(xs, 5, 3)
	require.NoError(t, err)
	require.Len(t, res.Smoothed, 3)

	// Window for index 0 is [1 2 3], median 2.
	require.Equal(t, 2.0, res.Median[0])
}

func TestFilterSingleValue(t *testing.T) {
	res, err := hampel.Filter([]float64{42}, 5, 3)
	require.NoError(t, err)
	require.False(t, res.Outlier[0])
	require.Equal(t, 42.0, res.Smoothed[0])
}

func TestValidateWindow(t *testing.T) {
	require.NoError(t, hampel.ValidateWindow(1))
	require.NoError(t, hampel.ValidateWindow(5))
	require.Error(t, hampel.ValidateWindow(0))
	require.Error(t, hampel.ValidateWindow(4))
	require.Error(t, hampel.ValidateWindow(-3))

	_, err := hampel.Filter([]float64{1, 2}, 2, 3)
	require.Error(t, err)
}
