// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package config loads and validates pipeline configuration from a YAML
// file with environment overrides for database credentials.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hydrosense/pipeline/internal/hampel"
)

type (
	// Config is the root pipeline configuration.
	Config struct {
		Database  Database  `yaml:"database"`
		Gate      Gate      `yaml:"gate"`
		Filter    Filter    `yaml:"filter"`
		Clamp     Clamp     `yaml:"clamp"`
		Channels  []Channel `yaml:"channels"`
		Tasks     Tasks     `yaml:"tasks"`
		Ingest    Ingest    `yaml:"ingest"`
		Histogram Histogram `yaml:"histogram"`
	}

	// Database holds the durable-store connection settings. DSN may be
	// overridden by the PGDSN environment variable; the password alone by
	// PGPASSWORD.
	Database struct {
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	}

	// Gate configures the per-device admission gate.
	Gate struct {
		MinIntervalSeconds int `yaml:"min_interval_seconds"`
		MaxDevices         int `yaml:"max_devices"`
	}

	// Filter configures the dispersion-robust filter.
	Filter struct {
		WindowSize int     `yaml:"window_size"`
		Sigma      float64 `yaml:"sigma"`
	}

	// Clamp bounds every numeric field written to the cleaned table.
	Clamp struct {
		Min float64 `yaml:"min"`
		Max float64 `yaml:"max"`
	}

	// Channel maps an inbound measure name onto a measurement column.
	Channel struct {
		Measure string `yaml:"measure"`
		Column  string `yaml:"column"`
	}

	// Tasks holds the per-task scheduler intervals, in seconds.
	Tasks struct {
		TransformSeconds int `yaml:"transform_seconds"`
		CleanSeconds     int `yaml:"clean_seconds"`
		StatsSeconds     int `yaml:"stats_seconds"`
		HistogramSeconds int `yaml:"histogram_seconds"`
	}

	// Ingest configures the stream consumers and raw writer.
	Ingest struct {
		RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
		KeepAliveSeconds  uint16 `yaml:"keep_alive_seconds"`
	}

	// Histogram configures the flow-histogram maintenance task.
	Histogram struct {
		Bins        int `yaml:"bins"`
		WindowHours int `yaml:"window_hours"`
	}
)

// measurementColumns are the pivot columns the schema provides; channel
// mappings must target one of these.
var measurementColumns = map[string]bool{
	"flow_rate":   true,
	"temperature": true,
	"velocity":    true,
}

// FlowColumn is the measurement channel the cleaning job operates on.
const FlowColumn = "flow_rate"

// Default returns the configuration defaults, matching the deployed system's
// fifteen-minute device cadence.
func Default() Config {
	return Config{
		Database: Database{MaxConns: 8},
		Gate:     Gate{MinIntervalSeconds: 900, MaxDevices: 4096},
		Filter:   Filter{WindowSize: 11, Sigma: 3},
		Clamp:    Clamp{Min: -9_999_999.999, Max: 9_999_999.999},
		Channels: []Channel{
			{Measure: "Instant flow rate 2", Column: "flow_rate"},
			{Measure: "Return water temperature 2", Column: "temperature"},
			{Measure: "Instant velocity 2", Column: "velocity"},
		},
		Tasks: Tasks{
			TransformSeconds: 900,
			CleanSeconds:     900,
			StatsSeconds:     3600,
			HistogramSeconds: 3600,
		},
		Ingest:    Ingest{RetryDelaySeconds: 1, KeepAliveSeconds: 30},
		Histogram: Histogram{Bins: 50, WindowHours: 24},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result. Validation failures are expected to
// be fatal to the caller: the pipeline must not start misconfigured.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("PGDSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if pw := os.Getenv("PGPASSWORD"); pw != "" && c.Database.DSN != "" {
		if u, err := url.Parse(c.Database.DSN); err == nil && u.User != nil {
			u.User = url.UserPassword(u.User.Username(), pw)
			c.Database.DSN = u.String()
		}
	}
}

// Validate checks the configuration for errors that must prevent startup.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (or set PGDSN)")
	}
	if err := hampel.ValidateWindow(c.Filter.WindowSize); err != nil {
		return err
	}
	if c.Filter.Sigma <= 0 {
		return fmt.Errorf("filter.sigma must be positive, got %g", c.Filter.Sigma)
	}
	if c.Clamp.Min >= c.Clamp.Max {
		return fmt.Errorf("clamp bounds invalid: min %g >= max %g", c.Clamp.Min, c.Clamp.Max)
	}
	if c.Gate.MinIntervalSeconds <= 0 {
		return fmt.Errorf("gate.min_interval_seconds must be positive")
	}
	if c.Gate.MaxDevices <= 0 {
		return fmt.Errorf("gate.max_devices must be positive")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel mapping is required")
	}
	flow := false
	seen := map[string]bool{}
	for _, ch := range c.Channels {
		if ch.Measure == "" {
			return fmt.Errorf("channel measure name must not be empty")
		}
		if !measurementColumns[ch.Column] {
			return fmt.Errorf("channel column %q is not a measurement column", ch.Column)
		}
		if seen[ch.Column] {
			return fmt.Errorf("channel column %q mapped twice", ch.Column)
		}
		seen[ch.Column] = true
		if ch.Column == FlowColumn {
			flow = true
		}
	}
	if !flow {
		return fmt.Errorf("a channel must map to %q: the cleaning job filters it", FlowColumn)
	}
	for name, secs := range map[string]int{
		"tasks.transform_seconds": c.Tasks.TransformSeconds,
		"tasks.clean_seconds":     c.Tasks.CleanSeconds,
		"tasks.stats_seconds":     c.Tasks.StatsSeconds,
		"tasks.histogram_seconds": c.Tasks.HistogramSeconds,
	} {
		if secs <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Ingest.RetryDelaySeconds <= 0 {
		return fmt.Errorf("ingest.retry_delay_seconds must be positive")
	}
	if c.Histogram.Bins <= 0 {
		return fmt.Errorf("histogram.bins must be positive")
	}
	return nil
}

// GateMinInterval returns the gate interval as a duration.
func (c *Config) GateMinInterval() time.Duration {
	return time.Duration(c.Gate.MinIntervalSeconds) * time.Second
}

// RetryDelay returns the raw writer's fixed retry delay.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Ingest.RetryDelaySeconds) * time.Second
}
