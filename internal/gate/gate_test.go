// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package gate_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydrosense/pipeline/internal/gate"
)

func TestAllowFirstEvent(t *testing.T) {
	g, err := gate.New(time.Minute, 16)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	require.True(t, g.Allow("dev-1", now))
}

func TestAllowFairness(t *testing.T) {
	// At most one accepted event per device in any window of length T.
	g, err := gate.New(10*time.Second, 16)
	require.NoError(t, err)

	base := time.Unix(1000, 0)
	accepted := 0
	for i := 0; i < 10; i++ {
		if g.Allow("dev-1", base.Add(time.Duration(i)*time.Second)) {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)

	// Exactly one interval later the device is admitted again.
	require.True(t, g.Allow("dev-1", base.Add(10*time.Second)))
}

func TestDevicesIndependent(t *testing.T) {
	g, err := gate.New(time.Minute, 16)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	require.True(t, g.Allow("dev-1", now))
	require.True(t, g.Allow("dev-2", now))
	require.False(t, g.Allow("dev-1", now.Add(time.Second)))
	require.False(t, g.Allow("dev-2", now.Add(time.Second)))
}

func TestBoundedEviction(t *testing.T) {
	g, err := gate.New(time.Minute, 4)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		require.True(t, g.Allow(fmt.Sprintf("dev-%d", i), now))
	}
	require.Equal(t, 4, g.Len())

	// dev-0 was evicted, so it is re-admitted inside its interval.
	require.True(t, g.Allow("dev-0", now.Add(time.Second)))
}

func TestConcurrentAccess(t *testing.T) {
	g, err := gate.New(time.Minute, 128)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				g.Allow(fmt.Sprintf("dev-%d", i%32), now.Add(time.Duration(w)*time.Millisecond))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 32, g.Len())
}

func TestInvalidConfig(t *testing.T) {
	_, err := gate.New(0, 16)
	require.Error(t, err)

	_, err = gate.New(time.Minute, 0)
	require.Error(t, err)
}
