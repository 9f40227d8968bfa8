// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

type lookupFunc func(string) (string, bool)

// envBinder applies one environment variable when it is set, collecting
// parse errors.
type envBinder struct {
	lookup lookupFunc
	errs   []error
}

func (b *envBinder) str(key string, dst *string) {
	if v, ok := b.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (b *envBinder) integer(key string, dst *int) {
	if v, ok := b.lookup(key); ok && v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = i
	}
}

func (b *envBinder) integer64(key string, dst *int64) {
	if v, ok := b.lookup(key); ok && v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = i
	}
}

func (b *envBinder) float(key string, dst *float64) {
	if v, ok := b.lookup(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (b *envBinder) boolean(key string, dst *bool) {
	if v, ok := b.lookup(key); ok && v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
}

func (b *envBinder) duration(key string, dst *time.Duration) {
	if v, ok := b.lookup(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

// applyEnv overrides cfg from REVIEW_* variables.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	b := &envBinder{lookup: lookup}

	// Search
	b.integer("REVIEW_MAX_ITERATIONS", &cfg.Search.MaxIterations)
	b.float("REVIEW_EXPLORATION_CONSTANT", &cfg.Search.ExplorationConstant)
	b.integer("REVIEW_MAX_DEPTH", &cfg.Search.MaxDepth)
	b.str("REVIEW_SELECTION_MODE", &cfg.Search.SelectionMode)
	b.float("REVIEW_SHORT_CIRCUIT_THRESHOLD", &cfg.Search.ShortCircuitThreshold)
	b.integer("REVIEW_MAX_CONSECUTIVE_FAILURES", &cfg.Search.MaxConsecutiveFailures)
	b.str("REVIEW_SELECTOR", &cfg.Search.Selector)
	b.str("REVIEW_EVALUATOR", &cfg.Search.Evaluator)
	b.integer64("REVIEW_RANDOM_SEED", &cfg.Search.RandomSeed)
	b.boolean("REVIEW_TRACING_ENABLED", &cfg.Search.TracingEnabled)

	// Git
	b.integer("REVIEW_MAX_DIFF_BYTES", &cfg.Git.MaxDiffBytes)
	b.duration("REVIEW_GIT_TIMEOUT", &cfg.Git.Timeout)

	// Oracle
	b.str("REVIEW_ORACLE_PROVIDER", &cfg.Oracle.Provider)
	b.str("REVIEW_ORACLE_BASE_URL", &cfg.Oracle.BaseURL)
	b.duration("REVIEW_ORACLE_TIMEOUT", &cfg.Oracle.Timeout)
	b.float("REVIEW_ORACLE_RPS", &cfg.Oracle.RequestsPerSecond)
	b.boolean("REVIEW_ORACLE_STATIC_FALLBACK", &cfg.Oracle.StaticFallback)

	// Report
	b.str("REVIEW_REPORT_DIR", &cfg.Report.Dir)
	b.boolean("REVIEW_GCS_ENABLED", &cfg.Report.GCSEnabled)
	b.str("REVIEW_GCS_CREDENTIALS_FILE", &cfg.Report.GCSCredentialsFile)

	// Checkpoint
	b.str("REVIEW_CHECKPOINT_BACKEND", &cfg.Checkpoint.Backend)
	b.duration("REVIEW_CHECKPOINT_TTL", &cfg.Checkpoint.TTL)
	b.str("REVIEW_CHECKPOINT_PATH", &cfg.Checkpoint.Badger.Path)
	b.str("REVIEW_REDIS_ADDR", &cfg.Checkpoint.Redis.Addr)
	b.str("REVIEW_REDIS_PASSWORD", &cfg.Checkpoint.Redis.Password)
	b.integer("REVIEW_REDIS_DB", &cfg.Checkpoint.Redis.DB)

	// Server
	b.str("REVIEW_ADDR", &cfg.Server.Addr)
	b.integer64("REVIEW_MAX_CONCURRENT_REVIEWS", &cfg.Server.MaxConcurrentReviews)
	b.duration("REVIEW_FINISHED_RUN_TTL", &cfg.Server.FinishedRunTTL)
	b.integer("REVIEW_MAX_FINISHED_RUNS", &cfg.Server.MaxFinishedRuns)

	// Telemetry and logging
	b.str("REVIEW_TRACE_EXPORTER", &cfg.Telemetry.TraceExporter)
	b.str("REVIEW_METRIC_EXPORTER", &cfg.Telemetry.MetricExporter)
	b.float("REVIEW_TRACE_SAMPLE_RATIO", &cfg.Telemetry.SampleRatio)
	b.str("REVIEW_LOG_LEVEL", &cfg.Log.Level)
	b.str("REVIEW_LOG_FORMAT", &cfg.Log.Format)
	b.str("REVIEW_LOG_DIR", &cfg.Log.Dir)

	return errors.Join(b.errs...)
}
