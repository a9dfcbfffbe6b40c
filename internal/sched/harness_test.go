// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package sched_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydrosense/pipeline/internal/sched"
)

func TestFailingTaskDoesNotStopOthers(t *testing.T) {
	var healthy, failing atomic.Int32

	h := sched.New(nil)
	h.Add("failing", 5*time.Millisecond, func(context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	})
	h.Add("healthy", 5*time.Millisecond, func(context.Context) error {
		healthy.Add(1)
		return nil
	})

	h.Start(context.Background())
	defer h.Stop()

	require.Eventually(t, func() bool {
		return healthy.Load() >= 3 && failing.Load() >= 3
	}, time.Second, time.Millisecond, "both loops keep ticking despite failures")
}

func TestPanickingTaskIsContained(t *testing.T) {
	var runs atomic.Int32

	h := sched.New(nil)
	h.Add("panicky", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		panic("kaboom")
	})

	h.Start(context.Background())
	defer h.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, time.Millisecond, "loop survives its own panics")
}

func TestTaskNeverOverlapsItself(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	h := sched.New(nil)
	h.Add("slow", time.Millisecond, func(context.Context) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})

	h.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	h.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, maxInFlight, "a task must wait for its own previous run")
}

func TestStopDoesNotCancelInFlightRun(t *testing.T) {
	h := sched.New(nil)
	started := make(chan struct{})
	ctxErr := make(chan error, 1)
	h.Add("slow", time.Hour, func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		ctxErr <- ctx.Err()
		return nil
	})

	h.Start(context.Background())
	<-started
	h.Stop()

	require.NoError(t, <-ctxErr,
		"a tick in flight at Stop must finish on an uncancelled context")
}

func TestStopWaitsForCurrentIteration(t *testing.T) {
	var finished atomic.Bool

	h := sched.New(nil)
	started := make(chan struct{})
	h.Add("slow", time.Hour, func(context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	h.Start(context.Background())
	<-started
	h.Stop()

	require.True(t, finished.Load(), "Stop returns only after the in-flight run completes")
}
