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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ObiyaDev/obiya-examples-sub000/pkg/logging"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/changeset"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/checkpoint"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/config"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/oracle"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/report"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/telemetry"
)

// stack holds the long-lived dependencies of one process.
type stack struct {
	cfg      config.Config
	log      *logging.Logger
	logger   *slog.Logger
	oracle   mcts.Oracle
	provider mcts.ContextProvider
	sink     *report.Router
	store    checkpoint.Store
	metrics  *telemetry.Metrics

	closers []func(context.Context) error
}

// stackOptions selects which parts of the stack a command needs.
type stackOptions struct {
	service string
	offline bool
	logTo   io.Writer

	// withOracle is false for commands that only read checkpoints.
	withOracle bool

	// localReports lets output URLs name files outside report.dir. Set
	// only when the URL comes from the local user, never for the API.
	localReports bool
}

// newStack wires configuration into concrete dependencies. Close the
// returned stack even on partial failure paths the caller handles.
func newStack(ctx context.Context, cfg config.Config, opts stackOptions) (*stack, error) {
	if opts.logTo == nil {
		opts.logTo = os.Stderr
	}
	log, err := cfg.Log.Open(opts.service, opts.logTo)
	if err != nil {
		return nil, fmt.Errorf("open logger: %w", err)
	}
	s := &stack{cfg: cfg, log: log, logger: log.Slog()}
	s.closers = append(s.closers, func(context.Context) error { return log.Close() })

	fail := func(err error) (*stack, error) {
		_ = s.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	tcfg := cfg.Telemetry
	if tcfg.ServiceName == "" {
		tcfg.ServiceName = opts.service
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fail(fmt.Errorf("init telemetry: %w", err))
	}
	s.closers = append(s.closers, shutdown)

	metrics, err := telemetry.NewGlobalMetrics()
	if err != nil {
		s.logger.Warn("metrics disabled", slog.String("error", err.Error()))
	}
	s.metrics = metrics

	store, err := checkpoint.Open(ctx, cfg.Checkpoint, s.logger)
	if err != nil {
		return fail(fmt.Errorf("open checkpoint store: %w", err))
	}
	s.store = store
	s.closers = append(s.closers, func(context.Context) error { return store.Close() })

	if !opts.withOracle {
		return s, nil
	}

	s.oracle = s.newOracle(opts.offline)
	s.provider = changeset.NewGitProvider(cfg.Git, changeset.WithLogger(s.logger))

	var routerOpts []report.RouterOption
	if cfg.Report.GCSEnabled {
		gcs, err := report.NewGCSSink(ctx, cfg.Report.GCSCredentialsFile)
		if err != nil {
			return fail(fmt.Errorf("create gcs sink: %w", err))
		}
		routerOpts = append(routerOpts, report.WithGCS(gcs))
		s.closers = append(s.closers, func(context.Context) error { return gcs.Close() })
	}
	routerOpts = append(routerOpts, report.WithLogger(s.logger))
	var fileOpts []report.FileSinkOption
	if opts.localReports {
		fileOpts = append(fileOpts, report.AllowAnyPath())
	}
	s.sink = report.NewRouter(report.NewFileSink(cfg.Report.Dir, fileOpts...), routerOpts...)
	return s, nil
}

// newOracle returns the OpenAI-backed client, or the offline oracle when
// requested or when no API key is available.
func (s *stack) newOracle(offline bool) mcts.Oracle {
	ocfg := s.cfg.Oracle
	if offline || ocfg.Provider == oracle.ProviderOffline {
		s.logger.Info("using offline oracle")
		return oracle.NewOffline()
	}
	key, err := oracle.LoadAPIKey(ocfg.APIKeyEnv, ocfg.APIKeyFile)
	if err != nil {
		s.logger.Warn("no API key, falling back to the offline oracle", slog.String("error", err.Error()))
		return oracle.NewOffline()
	}
	client, err := oracle.NewOpenAIClient(ocfg, key,
		oracle.WithLogger(s.logger),
		oracle.WithMetrics(s.metrics),
	)
	if err != nil {
		s.logger.Warn("oracle client unavailable, falling back to the offline oracle", slog.String("error", err.Error()))
		return oracle.NewOffline()
	}
	return client
}

// orchestrator builds an orchestrator over the stack.
func (s *stack) orchestrator(search mcts.SearchConfig, extra ...mcts.Option) *mcts.Orchestrator {
	opts := []mcts.Option{
		mcts.WithSearchConfig(search),
		mcts.WithContextProvider(s.provider),
		mcts.WithReportSink(s.sink),
		mcts.WithCheckpointer(s.store),
		mcts.WithMetrics(s.metrics),
		mcts.WithLogger(s.logger),
	}
	return mcts.NewOrchestrator(s.oracle, append(opts, extra...)...)
}

// Close releases everything in reverse order of creation.
func (s *stack) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
