// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package sched runs the pipeline's periodic tasks, each on its own fixed
// interval, with failures isolated per task.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type (
	// TaskFunc is one task iteration. Errors are logged at the task
	// boundary and never stop the loop.
	TaskFunc func(ctx context.Context) error

	task struct {
		name     string
		interval time.Duration
		run      TaskFunc
	}

	// Harness runs independent periodic tasks. A task never overlaps its
	// own next run: each loop runs the task to completion, then sleeps the
	// interval. Different tasks run concurrently with each other.
	Harness struct {
		tasks  []task
		log    *slog.Logger
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}
)

// New creates an empty harness.
func New(log *slog.Logger) *Harness {
	if log == nil {
		log = slog.Default()
	}
	return &Harness{log: log}
}

// Add registers a task. It must be called before Start.
func (h *Harness) Add(name string, interval time.Duration, run TaskFunc) {
	h.tasks = append(h.tasks, task{name: name, interval: interval, run: run})
}

// Start launches one goroutine per task. Each task runs immediately, then
// on its interval after each completion.
func (h *Harness) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	for _, t := range h.tasks {
		h.wg.Add(1)
		go h.loop(ctx, t)
	}
	h.log.Info("scheduler started", "tasks", len(h.tasks))
}

// Stop cancels all task loops and waits for the current iterations to
// finish. No iteration is interrupted mid-run.
func (h *Harness) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	h.log.Info("scheduler stopped")
}

func (h *Harness) loop(ctx context.Context, t task) {
	defer h.wg.Done()

	// Ticks run on a detached context: cancellation decides whether the
	// next tick starts, it never interrupts the iteration in flight, so a
	// transaction open at shutdown runs to completion.
	tickCtx := context.WithoutCancel(ctx)

	for {
		h.runOnce(tickCtx, t)

		timer := time.NewTimer(t.interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			h.log.Debug("task loop exiting", "task", t.name)
			return
		}
	}
}

// runOnce executes one iteration, containing both errors and panics so a
// failing task cannot take down the process or the other tasks.
func (h *Harness) runOnce(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("task panicked", "task", t.name, "panic", r)
		}
	}()

	start := time.Now()
	if err := t.run(ctx); err != nil {
		h.log.Error("task failed", "task", t.name, "elapsed", time.Since(start), "error", err)
		return
	}
	h.log.Debug("task completed", "task", t.name, "elapsed", time.Since(start))
}
