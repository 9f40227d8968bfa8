// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for review metrics.
const MeterName = "review"

// Metrics holds the review service's instruments. All names use the
// "review_" prefix.
//
// The Record* helpers are nil-receiver safe so callers may run without
// metrics.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// ReviewsTotal counts finished reviews by outcome (searched, short_circuit, failed).
	ReviewsTotal metric.Int64Counter

	// ReviewDuration records end-to-end review time in seconds.
	ReviewDuration metric.Float64Histogram

	// IterationsTotal counts completed search iterations.
	IterationsTotal metric.Int64Counter

	// PhaseFailuresTotal counts abandoned iterations by phase.
	PhaseFailuresTotal metric.Int64Counter

	// TreeNodes records the final tree size per review.
	TreeNodes metric.Int64Histogram

	// OracleCallsTotal counts oracle calls by operation and status.
	OracleCallsTotal metric.Int64Counter

	// OracleCallDuration records oracle latency in seconds by operation.
	OracleCallDuration metric.Float64Histogram

	// ActiveReviews tracks reviews currently running in the server.
	ActiveReviews metric.Int64UpDownCounter
}

// NewMetrics registers all instruments with meter.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter(telemetry.MeterName))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.ReviewsTotal, err = meter.Int64Counter("review_reviews_total",
		metric.WithDescription("Finished reviews by outcome"),
		metric.WithUnit("{review}"),
	); err != nil {
		return nil, fmt.Errorf("create reviews_total: %w", err)
	}

	if m.ReviewDuration, err = meter.Float64Histogram("review_duration_seconds",
		metric.WithDescription("End-to-end review duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1800),
	); err != nil {
		return nil, fmt.Errorf("create duration_seconds: %w", err)
	}

	if m.IterationsTotal, err = meter.Int64Counter("review_iterations_total",
		metric.WithDescription("Completed search iterations"),
		metric.WithUnit("{iteration}"),
	); err != nil {
		return nil, fmt.Errorf("create iterations_total: %w", err)
	}

	if m.PhaseFailuresTotal, err = meter.Int64Counter("review_phase_failures_total",
		metric.WithDescription("Abandoned iterations by phase"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return nil, fmt.Errorf("create phase_failures_total: %w", err)
	}

	if m.TreeNodes, err = meter.Int64Histogram("review_tree_nodes",
		metric.WithDescription("Final search tree size"),
		metric.WithUnit("{node}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500),
	); err != nil {
		return nil, fmt.Errorf("create tree_nodes: %w", err)
	}

	if m.OracleCallsTotal, err = meter.Int64Counter("review_oracle_calls_total",
		metric.WithDescription("Oracle calls by operation and status"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, fmt.Errorf("create oracle_calls_total: %w", err)
	}

	if m.OracleCallDuration, err = meter.Float64Histogram("review_oracle_call_duration_seconds",
		metric.WithDescription("Oracle call latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	); err != nil {
		return nil, fmt.Errorf("create oracle_call_duration: %w", err)
	}

	if m.ActiveReviews, err = meter.Int64UpDownCounter("review_active",
		metric.WithDescription("Reviews currently running"),
		metric.WithUnit("{review}"),
	); err != nil {
		return nil, fmt.Errorf("create active: %w", err)
	}

	return m, nil
}

// NewGlobalMetrics registers instruments with the global MeterProvider.
func NewGlobalMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}

// RecordReview records a finished review.
func (m *Metrics) RecordReview(ctx context.Context, outcome string, nodes int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ReviewsTotal.Add(ctx, 1, attrs)
	m.ReviewDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.TreeNodes.Record(ctx, int64(nodes), attrs)
}

// RecordIteration records one completed iteration.
func (m *Metrics) RecordIteration(ctx context.Context) {
	if m == nil {
		return
	}
	m.IterationsTotal.Add(ctx, 1)
}

// RecordPhaseFailure records an abandoned iteration.
func (m *Metrics) RecordPhaseFailure(ctx context.Context, phase string) {
	if m == nil {
		return
	}
	m.PhaseFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordOracleCall records one oracle call.
func (m *Metrics) RecordOracleCall(ctx context.Context, op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OracleCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	))
	m.OracleCallDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("operation", op)))
}

// AddActiveReviews adjusts the running-review gauge.
func (m *Metrics) AddActiveReviews(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveReviews.Add(ctx, delta)
}
