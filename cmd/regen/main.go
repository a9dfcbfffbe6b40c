// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// regen re-derives the full cleaned series for every device from the
// stored raw values. Run it after changing the filter window or sigma; it
// does not touch the incremental job's checkpoint, so the live pipeline
// can keep running.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"github.com/hydrosense/pipeline/internal/config"
	"github.com/hydrosense/pipeline/internal/jobs"
	"github.com/hydrosense/pipeline/internal/store"
)

func main() {
	configPath := flag.String("config", "pipeline.yaml", "path to the pipeline config file")
	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: slog.LevelInfo,
	}))

	if err := run(*configPath, log); err != nil {
		log.Error("regeneration failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Database.DSN, store.Options{
		MaxConns: cfg.Database.MaxConns,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	regen := jobs.NewRegenerator(st, cfg.Filter.WindowSize, cfg.Filter.Sigma,
		jobs.Bounds{Min: cfg.Clamp.Min, Max: cfg.Clamp.Max}, log)

	n, err := regen.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("done", "rows", n)
	return nil
}
