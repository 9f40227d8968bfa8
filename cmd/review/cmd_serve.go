// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/api"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/config"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/events"
)

func newServeCmd(st *cliState) *cobra.Command {
	var (
		addr    string
		offline bool
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := st.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), cfg, st.configPath, offline, watch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&offline, "offline", false, "use the deterministic offline oracle")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload search settings when the config file changes")
	return cmd
}

func serve(parent context.Context, cfg config.Config, configPath string, offline, watch bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx, cfg, stackOptions{service: "review-api", offline: offline, withOracle: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("shutdown", slog.String("error", err.Error()))
		}
	}()
	slog.SetDefault(s.logger)

	srv := api.NewServer(cfg.Server, cfg.Search, api.Deps{
		Oracle:   s.oracle,
		Provider: s.provider,
		Sink:     s.sink,
		Store:    s.store,
		Emitter:  events.NewEmitter(events.WithBufferSize(cfg.Server.EventBuffer), events.WithLogger(s.logger)),
		Metrics:  s.metrics,
		Logger:   s.logger,
	})

	if watch && configPath != "" {
		w, err := config.NewWatcher(configPath, cfg, func(next config.Config) {
			srv.SetSearchConfig(next.Search)
			s.logger.Info("search settings reloaded",
				slog.Int("max_iterations", next.Search.MaxIterations),
				slog.String("selector", next.Search.Selector),
			)
		}, config.WithWatcherLogger(s.logger))
		if err != nil {
			s.logger.Warn("config watcher disabled", slog.String("error", err.Error()))
		} else {
			go w.Run(ctx)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
