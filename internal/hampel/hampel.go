// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package hampel implements a dispersion-robust sliding-window filter over
// an ordered numeric series. For each point it computes the median and the
// median absolute deviation (MAD) of a centered window; points deviating
// from the window median by more than sigma scaled MADs are flagged as
// outliers and replaced by the median in the smoothed output.
//
// The filter is pure and deterministic: identical input always yields
// identical output, which is what makes the downstream upsert-based
// cleaning job idempotent.
package hampel

import (
	"fmt"
	"math"
	"sort"
)

// madScale makes the MAD a consistent estimator of the standard deviation
// under a normal distribution.
const madScale = 1.4826

type (
	// Result holds the filter outputs as parallel slices, each the same
	// length as the input series.
	Result struct {
		// Smoothed is the de-noised series: the window median where the
		// point was an outlier, the original value otherwise.
		Smoothed []float64

		// Outlier flags each point whose deviation from the window median
		// exceeded the threshold.
		Outlier []bool

		// Median is the per-point window median.
		Median []float64

		// Threshold is the per-point decision threshold (sigma * scaled MAD).
		Threshold []float64
	}
)

// ValidateWindow reports whether window is usable as a filter window size.
// It must be a positive odd integer so the window centers on each point.
func ValidateWindow(window int) error {
	if window <= 0 || window%2 == 0 {
		return fmt.Errorf("filter window size must be a positive odd integer, got %d", window)
	}
	return nil
}

// Filter runs the dispersion-robust filter over xs, which must already be
// deduplicated and ordered by time. The window is truncated (not padded) at
// the series boundaries, so boundary points use a smaller asymmetric window.
// An empty input yields an empty result.
func Filter(xs []float64, window int, sigma float64) (Result, error) {
	if err := ValidateWindow(window); err != nil {
		return Result{}, err
	}

	n := len(xs)
	res := Result{
		Smoothed:  make([]float64, n),
		Outlier:   make([]bool, n),
		Median:    make([]float64, n),
		Threshold: make([]float64, n),
	}
	if n == 0 {
		return res, nil
	}

	k := window / 2
	scratch := make([]float64, 0, window)

	for i := range xs {
		lo := max(0, i-k)
		hi := min(n-1, i+k)
		win := xs[lo : hi+1]

		med := median(append(scratch[:0], win...))

		scratch = scratch[:0]
		for _, w := range win {
			scratch = append(scratch, math.Abs(w-med))
		}
		mad := madScale * median(scratch)
		threshold := sigma * mad

		// A zero MAD means the window is (near) constant; any nonzero
		// deviation from the median then counts as an outlier.
		outlier := math.Abs(xs[i]-med) > threshold

		res.Median[i] = med
		res.Threshold[i] = threshold
		res.Outlier[i] = outlier
		if outlier {
			res.Smoothed[i] = med
		} else {
			res.Smoothed[i] = xs[i]
		}
	}
	return res, nil
}

// median returns the median of vs, sorting it in place. vs must be nonempty.
func median(vs []float64) float64 {
	sort.Float64s(vs)
	m := len(vs) / 2
	if len(vs)%2 == 0 {
		return (vs[m-1] + vs[m]) / 2
	}
	return vs[m]
}
