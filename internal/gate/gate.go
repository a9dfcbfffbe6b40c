// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package gate provides the per-device admission gate used to shed load
// from chatty field devices. It is a load-shedding policy, not a
// correctness mechanism: state is process-local and lost on restart.
package gate

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Gate tracks the last accepted event time per device and rejects events
// arriving within the configured minimum interval. The device map is a
// bounded LRU sized to the expected active-device count; evicting a stale
// device only means its next event is re-admitted, which is harmless.
type Gate struct {
	mu          sync.Mutex
	last        *lru.Cache[string, time.Time]
	minInterval time.Duration
}

// New creates a gate admitting at most one event per device per minInterval.
// maxDevices bounds the tracked device count.
func New(minInterval time.Duration, maxDevices int) (*Gate, error) {
	if minInterval <= 0 {
		return nil, fmt.Errorf("gate minimum interval must be positive, got %s", minInterval)
	}
	last, err := lru.New[string, time.Time](maxDevices)
	if err != nil {
		return nil, fmt.Errorf("gate device cache: %w", err)
	}
	return &Gate{last: last, minInterval: minInterval}, nil
}

// Allow reports whether an event from deviceID observed at now should be
// accepted, and records now as the device's last accepted time if so.
// Rejections are silent; callers drop the event without error. The lock is
// held only for the lookup and update, never across I/O.
func (g *Gate) Allow(deviceID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.last.Get(deviceID); ok && now.Sub(last) < g.minInterval {
		return false
	}
	g.last.Add(deviceID, now)
	return true
}

// Len returns the number of devices currently tracked.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last.Len()
}
