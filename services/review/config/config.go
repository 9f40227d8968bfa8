// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the review service configuration.
//
// Priority is environment (REVIEW_*) over file over defaults. Files may be
// YAML or JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ObiyaDev/obiya-examples-sub000/pkg/logging"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/changeset"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/checkpoint"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/oracle"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/report"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/telemetry"
)

// Config is the complete service configuration.
type Config struct {
	Search     mcts.SearchConfig `json:"search" yaml:"search"`
	Git        changeset.Config  `json:"git" yaml:"git"`
	Oracle     oracle.Config     `json:"oracle" yaml:"oracle"`
	Report     report.Config     `json:"report" yaml:"report"`
	Checkpoint checkpoint.Config `json:"checkpoint" yaml:"checkpoint"`
	Server     ServerConfig      `json:"server" yaml:"server"`
	Telemetry  telemetry.Config  `json:"telemetry" yaml:"telemetry"`
	Log        LogConfig         `json:"log" yaml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`

	// MaxConcurrentReviews bounds reviews running at once; further
	// submissions are rejected with 429.
	MaxConcurrentReviews int64 `json:"max_concurrent_reviews" yaml:"max_concurrent_reviews"`

	// EventBuffer is the per-server event replay buffer.
	EventBuffer int `json:"event_buffer" yaml:"event_buffer"`

	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// FinishedRunTTL is how long a finished review's outcome stays in
	// memory. Later requests for it are served from the checkpoint store.
	FinishedRunTTL time.Duration `json:"finished_run_ttl" yaml:"finished_run_ttl"`

	// MaxFinishedRuns caps the finished outcomes kept in memory; the
	// oldest are dropped first.
	MaxFinishedRuns int `json:"max_finished_runs" yaml:"max_finished_runs"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" yaml:"level"`

	// Format is text or json.
	Format string `json:"format" yaml:"format"`

	// Dir adds a daily JSON log file under this directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Search:     mcts.DefaultSearchConfig(),
		Git:        changeset.DefaultConfig(),
		Oracle:     oracle.DefaultConfig(),
		Report:     report.DefaultConfig(),
		Checkpoint: checkpoint.DefaultConfig(),
		Server: ServerConfig{
			Addr:                 ":8080",
			MaxConcurrentReviews: 4,
			EventBuffer:          1024,
			ReadHeaderTimeout:    10 * time.Second,
			ShutdownTimeout:      30 * time.Second,
			FinishedRunTTL:       time.Hour,
			MaxFinishedRuns:      256,
		},
		Telemetry: telemetry.DefaultConfig(),
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, the optional file at path,
// and REVIEW_* environment variables, then validates it.
//
// # Inputs
//
//   - path: YAML or JSON file. Empty or missing means defaults only.
//
// # Outputs
//
//   - Config: The effective configuration.
//   - error: Non-nil on a malformed file, a malformed environment value,
//     or a failed validation.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse %s (tried YAML and JSON): YAML error: %v, JSON error: %w", path, err, jsonErr)
		}
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	check := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	check("search", c.Search.Validate())
	check("git", c.Git.Validate())
	check("oracle", c.Oracle.Validate())
	check("report", c.Report.Validate())
	check("checkpoint", c.Checkpoint.Validate())
	check("server", c.Server.validate())
	check("log", c.Log.validate())
	return errors.Join(errs...)
}

func (s ServerConfig) validate() error {
	if s.Addr == "" {
		return errors.New("addr is required")
	}
	if s.MaxConcurrentReviews < 1 {
		return errors.New("max_concurrent_reviews must be >= 1")
	}
	if s.EventBuffer < 0 {
		return errors.New("event_buffer must not be negative")
	}
	if s.FinishedRunTTL < 0 || s.MaxFinishedRuns < 0 {
		return errors.New("finished_run_ttl and max_finished_runs must not be negative")
	}
	return nil
}

func (l LogConfig) validate() error {
	if _, err := parseLevel(l.Level); err != nil {
		return err
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// NewLogger builds a stream-only logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(l.Level)
	return slog.New(logging.NewHandler(w, level, strings.EqualFold(l.Format, "json")))
}

// Open builds the process logger for service, including the log file
// when Dir is set.
func (l LogConfig) Open(service string, w io.Writer) (*logging.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		JSON:    strings.EqualFold(l.Format, "json"),
		Dir:     l.Dir,
		Service: service,
		Writer:  w,
	})
}

// YAML renders the configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
