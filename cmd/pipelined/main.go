// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// pipelined is the telemetry ingestion daemon: it runs one stream consumer
// per configured source plus the periodic transform, cleaning, and
// maintenance jobs, all against one Postgres store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/hydrosense/pipeline/internal/config"
	"github.com/hydrosense/pipeline/internal/gate"
	"github.com/hydrosense/pipeline/internal/ingest"
	"github.com/hydrosense/pipeline/internal/jobs"
	"github.com/hydrosense/pipeline/internal/sched"
	"github.com/hydrosense/pipeline/internal/store"
)

func main() {
	configPath := flag.String("config", "pipeline.yaml", "path to the pipeline config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))

	if err := run(*configPath, log); err != nil {
		log.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Database.DSN, store.Options{
		MaxConns: cfg.Database.MaxConns,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info("database connected")

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	sources, err := st.Sources(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no enabled telemetry sources configured")
	}
	log.Info("sources loaded", "count", len(sources))

	g, err := gate.New(cfg.GateMinInterval(), cfg.Gate.MaxDevices)
	if err != nil {
		return err
	}

	writer := ingest.NewWriter(st,
		ingest.WithRetryDelay(cfg.RetryDelay()),
		ingest.WithWriterLogger(log),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, src := range sources {
		consumer := ingest.NewConsumer(src, g, writer,
			ingest.WithConsumerLogger(log),
			ingest.WithKeepAlive(cfg.Ingest.KeepAliveSeconds),
		)
		group.Go(func() error {
			return consumer.Run(groupCtx)
		})
	}

	channels := make([]store.Channel, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		channels[i] = store.Channel{Measure: ch.Measure, Column: ch.Column}
	}
	transformer := jobs.NewTransformer(st, channels, log)
	cleaner := jobs.NewCleaner(st, cfg.Filter.WindowSize, cfg.Filter.Sigma,
		jobs.Bounds{Min: cfg.Clamp.Min, Max: cfg.Clamp.Max}, log)

	harness := sched.New(log)
	harness.Add("transform_raw", seconds(cfg.Tasks.TransformSeconds), func(ctx context.Context) error {
		_, err := transformer.Run(ctx)
		return err
	})
	harness.Add("clean_measurements", seconds(cfg.Tasks.CleanSeconds), func(ctx context.Context) error {
		_, err := cleaner.Run(ctx)
		return err
	})
	harness.Add("refresh_stats", seconds(cfg.Tasks.StatsSeconds), st.RefreshStats)
	harness.Add("refresh_flow_histogram", seconds(cfg.Tasks.HistogramSeconds), func(ctx context.Context) error {
		return st.RefreshFlowHistogram(ctx, cfg.Histogram.Bins, cfg.Histogram.WindowHours)
	})
	harness.Start(ctx)

	log.Info("pipeline running", "consumers", len(sources))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
	case <-groupCtx.Done():
		log.Warn("consumer group stopped, shutting down")
	}

	cancel()
	if err := group.Wait(); err != nil {
		log.Error("consumer group error", "error", err)
	}
	harness.Stop()
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
