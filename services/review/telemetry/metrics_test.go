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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(provider.Meter(MeterName))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordIteration(ctx)
	m.RecordIteration(ctx)
	m.RecordPhaseFailure(ctx, "expand")
	m.RecordOracleCall(ctx, "expand", nil, 200*time.Millisecond)
	m.RecordOracleCall(ctx, "evaluate", errors.New("timeout"), time.Second)
	m.AddActiveReviews(ctx, 1)
	m.AddActiveReviews(ctx, -1)
	m.RecordReview(ctx, "searched", 7, 3*time.Second)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got["review_iterations_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["review_phase_failures_total"]))
	assert.Equal(t, int64(2), sumOf(t, got["review_oracle_calls_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["review_reviews_total"]))
	assert.Equal(t, int64(0), sumOf(t, got["review_active"]))

	hist, ok := got["review_tree_nodes"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, int64(7), hist.DataPoints[0].Sum)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordIteration(ctx)
		m.RecordPhaseFailure(ctx, "select")
		m.RecordOracleCall(ctx, "score", nil, time.Millisecond)
		m.AddActiveReviews(ctx, 1)
		m.RecordReview(ctx, "failed", 1, time.Second)
	})
}
