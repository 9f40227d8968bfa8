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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file when it changes.
//
// # Description
//
// The parent directory is watched so editors that replace the file by
// rename are seen. Events are debounced; a reload that fails to parse or
// validate is logged and the previous configuration stays current.
//
// # Thread Safety
//
// Current is safe for concurrent use. Run should be called once.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(Config)
	logger   *slog.Logger

	mu      sync.RWMutex
	current Config
	watcher *fsnotify.Watcher
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before reloading.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher for path starting from initial. onChange
// receives each successfully reloaded configuration and may be nil.
func NewWatcher(path string, initial Config, onChange func(Config), opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		debounce: 200 * time.Millisecond,
		onChange: onChange,
		logger:   slog.Default(),
		current:  initial,
		watcher:  fw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until ctx is cancelled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WarnContext(ctx, "config reload rejected, keeping previous configuration",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "configuration reloaded", slog.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
