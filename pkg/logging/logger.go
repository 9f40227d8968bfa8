// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers used by the review binaries.
//
// A logger always writes to a stream (stderr by default) and can also
// append JSON records to a daily file under a log directory:
//
//	logger, err := logging.New(logging.Config{
//	    Level:   slog.LevelInfo,
//	    Dir:     "~/.review/logs",
//	    Service: "review",
//	})
//	if err != nil { ... }
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config configures a Logger.
type Config struct {
	// Level sets the minimum log level.
	Level slog.Level

	// JSON selects JSON output for the stream. File logs are always JSON.
	JSON bool

	// Dir enables file logging. The file is "{Service}_{YYYY-MM-DD}.log".
	// A leading ~ expands to the home directory.
	Dir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// Quiet disables the stream output. Ignored when Dir is empty.
	Quiet bool

	// Writer is the stream destination. Default: os.Stderr.
	Writer io.Writer
}

// Logger wraps a slog.Logger and the file it may own.
//
// Thread Safety: Safe for concurrent use.
type Logger struct {
	slog *slog.Logger
	path string

	mu   sync.Mutex
	file *os.File
}

// NewHandler returns a text or JSON handler for w.
func NewHandler(w io.Writer, level slog.Level, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// New creates a Logger. Close it to release the log file.
func New(cfg Config) (*Logger, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	var handlers []slog.Handler
	if !cfg.Quiet || cfg.Dir == "" {
		handlers = append(handlers, NewHandler(w, cfg.Level, cfg.JSON))
	}

	logger := &Logger{}
	if cfg.Dir != "" {
		dir := expandPath(cfg.Dir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		service := cfg.Service
		if service == "" {
			service = "review"
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.file, logger.path = file, path
		handlers = append(handlers, NewHandler(file, cfg.Level, true))
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	logger.slog = slog.New(handler)
	return logger, nil
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Path returns the log file path, or "" without file logging.
func (l *Logger) Path() string {
	return l.path
}

// Close syncs and closes the log file. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := errors.Join(l.file.Sync(), l.file.Close())
	l.file = nil
	return err
}

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
