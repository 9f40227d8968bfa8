// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: threshold,
		SuccessThreshold: 2,
		OpenDuration:     10 * time.Second,
		HalfOpenMax:      1,
	})
	cb.now = clock.now
	cb.lastStateChange = clock.now()
	return cb, clock
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	cb, clock := newTestBreaker(3)
	assert.Equal(t, CircuitClosed, cb.State())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, cb.State())

	allowed, _ := cb.Allow()
	assert.False(t, allowed, "open breaker rejects")

	clock.advance(10 * time.Second)
	allowed, release := cb.Allow()
	require.True(t, allowed, "probe allowed after open duration")
	require.NotNil(t, release)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	second, _ := cb.Allow()
	assert.False(t, second, "only one concurrent probe")
	release()
	release()

	cb.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, int64(3), stats.TotalFailures)
	assert.Equal(t, int64(2), stats.TotalRejections)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.RecordFailure()
	clock.advance(11 * time.Second)

	allowed, release := cb.Allow()
	require.True(t, allowed)
	cb.RecordFailure()
	release()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb, _ := newTestBreaker(1)
	boom := errors.New("boom")

	err := cb.Execute(context.Background(), "expand", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = cb.Execute(context.Background(), "expand", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "expand")

	cb.Reset()
	assert.NoError(t, cb.Execute(context.Background(), "expand", func(context.Context) error { return nil }))
}

func TestCircuitBreaker_CancellationNotCounted(t *testing.T) {
	cb, _ := newTestBreaker(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, "score", func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_ZeroConfigDefaults(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{})
	assert.Equal(t, DefaultBreakerConfig(), cb.config)
	assert.Equal(t, "closed", cb.Stats().State)
	assert.Equal(t, "unknown", CircuitState(9).String())
}
