// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens embedded BadgerDB databases for review checkpoints
// and runs their value-log garbage collection.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string `json:"path" yaml:"path"`

	// InMemory keeps everything in RAM. Used by tests and the offline CLI.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`

	// GCInterval is how often value-log GC runs (0 disables it).
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`

	// GCDiscardRatio is the garbage ratio a value-log file needs before
	// it is rewritten.
	GCDiscardRatio float64 `json:"gc_discard_ratio" yaml:"gc_discard_ratio"`
}

// DefaultConfig returns the on-disk defaults.
func DefaultConfig() Config {
	return Config{
		Path:           "data/checkpoints",
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("badger path is required for a persistent database")
	}
	if c.GCInterval < 0 {
		return errors.New("badger gc_interval must not be negative")
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio > 1 {
		return errors.New("badger gc_discard_ratio must be between 0 and 1")
	}
	return nil
}

// slogAdapter routes badger's internal logging through slog. Info and
// debug chatter is demoted to debug.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (a slogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (a slogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (a slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

// DB is an open database with its garbage collector.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	*badger.DB

	inMemory bool
	stopGC   context.CancelFunc
	gcDone   chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

// Open opens the database described by cfg and starts value-log GC when
// configured. A nil logger silences badger.
//
// Outputs:
//   - *DB: The database. Call Close when done.
//   - error: Non-nil if the configuration is invalid or badger fails to open.
func Open(cfg Config, logger *slog.Logger) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(slogAdapter{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	raw, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	db := &DB{DB: raw, inMemory: cfg.InMemory, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		db.stopGC = cancel
		db.gcDone = make(chan struct{})
		go db.collectGarbage(ctx, cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return db, nil
}

func (d *DB) collectGarbage(ctx context.Context, interval time.Duration, ratio float64) {
	defer close(d.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// ErrNoRewrite only means there was nothing to collect.
			if err := d.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) && d.logger != nil {
				d.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database. Safe to call more than once.
func (d *DB) Close() error {
	var err error
	d.once.Do(func() {
		if d.stopGC != nil {
			d.stopGC()
			<-d.gcDone
		}
		err = d.DB.Close()
	})
	return err
}

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool {
	return d.inMemory
}

// UpdateContext runs fn in a read-write transaction, committing when fn returns nil.
func (d *DB) UpdateContext(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return d.DB.Update(fn)
}

// ViewContext runs fn in a read-only transaction.
func (d *DB) ViewContext(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return d.DB.View(fn)
}
