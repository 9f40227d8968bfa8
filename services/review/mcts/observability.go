// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcts

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/telemetry"
)

const tracerName = "review.mcts"

// Tracer provides OpenTelemetry spans for the search phases.
//
// A nil *Tracer, or one created with enabled=false, returns noop spans.
//
// Thread Safety: Safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a tracer on the global TracerProvider.
//
// Inputs:
//   - logger: Logger for run-level events (nil = slog.Default()).
//   - enabled: False returns noop spans everywhere.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
		enabled: enabled,
	}
}

func (t *Tracer) on() bool {
	return t != nil && t.enabled
}

// StartRun starts the span covering a whole review.
func (t *Tracer) StartRun(ctx context.Context, repoDir string) (context.Context, trace.Span) {
	if !t.on() {
		return ctx, noop.Span{}
	}
	ctx, span := t.tracer.Start(ctx, "review.run",
		trace.WithAttributes(attribute.String("review.repo_dir", repoDir)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	telemetry.LoggerWithTrace(ctx, t.logger).DebugContext(ctx, "review run span started")
	return ctx, span
}

// EndRun completes the run span with the session's final statistics.
func (t *Tracer) EndRun(span trace.Span, s *Session, err error) {
	if span == nil {
		return
	}
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if s != nil {
		span.SetAttributes(
			attribute.String("review.id", s.ID),
			attribute.Int("review.iterations", s.Search.CurrentIteration),
			attribute.Int("review.phase_failures", s.PhaseFailures),
			attribute.Int("review.tree_nodes", s.Tree.Len()),
			attribute.Bool("review.short_circuited", s.ShortCircuited),
			attribute.Bool("review.failed", s.Failed),
		)
	}
	span.End()
}

// TraceIteration starts the span for one iteration.
func (t *Tracer) TraceIteration(ctx context.Context, iteration int) (context.Context, trace.Span) {
	if !t.on() {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "review.iteration",
		trace.WithAttributes(attribute.Int("review.iteration", iteration)),
	)
}

// TracePhase starts the span for one phase: review.select, review.expand,
// review.simulate or review.backpropagate.
func (t *Tracer) TracePhase(ctx context.Context, phase Phase, iteration int) (context.Context, trace.Span) {
	if !t.on() {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "review."+string(phase),
		trace.WithAttributes(
			attribute.String("review.phase", string(phase)),
			attribute.Int("review.iteration", iteration),
		),
	)
}

// EndPhase ends a phase span, recording err when non-nil.
func (t *Tracer) EndPhase(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		telemetry.RecordError(span, err)
	}
	span.End()
}
