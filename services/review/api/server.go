// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves code reviews over HTTP.
//
// Reviews run in the background; clients poll their status, stream
// progress events over a websocket and fetch the Markdown report.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/semaphore"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/checkpoint"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/config"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/events"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/telemetry"
)

// Deps are the collaborators every review is built from.
type Deps struct {
	Oracle   mcts.Oracle
	Provider mcts.ContextProvider
	Sink     mcts.ReportSink

	// Store defaults to an in-memory store.
	Store checkpoint.Store

	// Emitter defaults to a new emitter.
	Emitter *events.Emitter

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// run is one review executing in this process.
type run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	summary    checkpoint.Summary
	outcome    *mcts.Outcome
	err        error
	finishedAt time.Time
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *run) status() ReviewStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := statusFromSummary(r.summary)
	st.ID = statusID(r.id)
	if !r.finished() {
		st.State = StateRunning
		return st
	}
	if r.outcome != nil {
		st.SelectedNodeID = r.outcome.Best.SelectedNodeID
		st.Location = r.outcome.Location
		if r.outcome.Failed {
			st.Error = r.outcome.Failure
		}
	}
	if r.err != nil {
		st.State = StateFailed
		st.Error = r.err.Error()
	}
	return st
}

// tracker mirrors every checkpoint of a run into its status.
type tracker struct {
	run   *run
	store checkpoint.Store
}

func (t tracker) Save(ctx context.Context, s *mcts.Session) error {
	t.run.mu.Lock()
	t.run.summary = checkpoint.Summarize(s)
	t.run.mu.Unlock()
	return t.store.Save(ctx, s)
}

// Server is the review HTTP API.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	deps     Deps
	cfg      config.ServerConfig
	sem      *semaphore.Weighted
	logger   *slog.Logger
	baseCtx  context.Context
	stopRuns context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.RWMutex
	search   mcts.SearchConfig
	runs     map[string]*run
	closing  bool
	http     *http.Server
	newID    func() string
	upgrader wsUpgrader
}

// NewServer creates a server. Missing optional deps get defaults.
func NewServer(cfg config.ServerConfig, search mcts.SearchConfig, deps Deps) *Server {
	if deps.Store == nil {
		deps.Store = checkpoint.NewMemoryStore()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NewEmitter(events.WithBufferSize(cfg.EventBuffer), events.WithLogger(deps.Logger))
	}
	if cfg.MaxConcurrentReviews < 1 {
		cfg.MaxConcurrentReviews = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		deps:     deps,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentReviews),
		logger:   deps.Logger.With(slog.String("component", "api")),
		baseCtx:  ctx,
		stopRuns: cancel,
		search:   search,
		runs:     make(map[string]*run),
		newID:    newReviewID,
		upgrader: newUpgrader(),
	}
}

// SetSearchConfig replaces the search defaults for reviews started later.
func (s *Server) SetSearchConfig(c mcts.SearchConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = c
}

func (s *Server) searchConfig() mcts.SearchConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.search
}

// Handler builds the gin engine.
//
// Endpoints:
//
//	GET    /v1/health
//	POST   /v1/reviews
//	GET    /v1/reviews
//	GET    /v1/reviews/:id
//	DELETE /v1/reviews/:id
//	GET    /v1/reviews/:id/report
//	POST   /v1/reviews/:id/resume
//	GET    /v1/reviews/:id/events   (websocket)
//	GET    /metrics
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("review-service"), s.requestLogger())

	v1 := r.Group("/v1")
	v1.GET("/health", s.handleHealth)
	v1.POST("/reviews", s.handleSubmit)
	v1.GET("/reviews", s.handleList)
	v1.GET("/reviews/:id", s.handleGet)
	v1.DELETE("/reviews/:id", s.handleCancel)
	v1.GET("/reviews/:id/report", s.handleReport)
	v1.POST("/reviews/:id/resume", s.handleResume)
	v1.GET("/reviews/:id/events", s.handleEvents)

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metrics))
	return r
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("review API listening", slog.String("addr", s.cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", s.cfg.Addr, err)
	}
	return nil
}

// Shutdown stops accepting requests, cancels running reviews and waits for
// them to publish their reports or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	srv := s.http
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	s.stopRuns()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for reviews: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

// launch starts fn in the background under a review slot.
func (s *Server) launch(id string, fn func(ctx context.Context, o *mcts.Orchestrator) (*mcts.Outcome, error)) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	if existing, ok := s.runs[id]; ok && !existing.finished() {
		s.mu.Unlock()
		return ErrReviewRunning
	}
	if !s.sem.TryAcquire(1) {
		s.mu.Unlock()
		return ErrAtCapacity
	}
	s.pruneLocked(time.Now())
	ctx, cancel := context.WithCancel(s.baseCtx)
	r := &run{id: id, cancel: cancel, done: make(chan struct{})}
	s.runs[id] = r
	s.wg.Add(1)
	s.mu.Unlock()

	o := s.orchestrator(id, r)
	s.deps.Metrics.AddActiveReviews(ctx, 1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.deps.Metrics.AddActiveReviews(context.WithoutCancel(ctx), -1)

		started := time.Now()
		out, err := fn(ctx, o)

		r.mu.Lock()
		r.outcome, r.err = out, err
		r.finishedAt = time.Now()
		r.mu.Unlock()
		s.sem.Release(1)
		close(r.done)

		attrs := []any{slog.String("review_id", id), slog.Duration("elapsed", time.Since(started))}
		if out != nil {
			attrs = append(attrs, slog.String("outcome", out.Label()), slog.String("location", out.Location))
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			s.logger.Error("review finished with error", attrs...)
			return
		}
		s.logger.Info("review finished", attrs...)
	}()
	return nil
}

func (s *Server) orchestrator(id string, r *run) *mcts.Orchestrator {
	opts := []mcts.Option{
		mcts.WithSearchConfig(s.searchConfig()),
		mcts.WithCheckpointer(tracker{run: r, store: s.deps.Store}),
		mcts.WithPublisher(s.deps.Emitter),
		mcts.WithMetrics(s.deps.Metrics),
		mcts.WithLogger(s.deps.Logger),
		mcts.WithIDGenerator(func() string { return id }),
	}
	if s.deps.Provider != nil {
		opts = append(opts, mcts.WithContextProvider(s.deps.Provider))
	}
	if s.deps.Sink != nil {
		opts = append(opts, mcts.WithReportSink(s.deps.Sink))
	}
	return mcts.NewOrchestrator(s.deps.Oracle, opts...)
}

// pruneLocked drops finished runs older than FinishedRunTTL, then the
// oldest finished runs beyond MaxFinishedRuns. Dropped reviews are still
// served from the checkpoint store. s.mu must be held for writing.
func (s *Server) pruneLocked(now time.Time) {
	type finished struct {
		id string
		at time.Time
	}
	var kept []finished
	for id, r := range s.runs {
		if !r.finished() {
			continue
		}
		r.mu.Lock()
		at := r.finishedAt
		r.mu.Unlock()
		if s.cfg.FinishedRunTTL > 0 && now.Sub(at) > s.cfg.FinishedRunTTL {
			delete(s.runs, id)
			continue
		}
		kept = append(kept, finished{id: id, at: at})
	}

	limit := s.cfg.MaxFinishedRuns
	if limit <= 0 || len(kept) <= limit {
		return
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].at.Before(kept[j].at) })
	for _, f := range kept[:len(kept)-limit] {
		delete(s.runs, f.id)
	}
}

func (s *Server) lookup(id string) (*run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

func (s *Server) activeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.runs {
		if !r.finished() {
			n++
		}
	}
	return n
}
