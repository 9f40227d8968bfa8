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
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	// CircuitClosed is normal operation.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until OpenDuration has passed.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of probe calls through.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// SuccessThreshold is the number of probe successes needed to close.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`

	// OpenDuration is how long to reject calls before probing.
	OpenDuration time.Duration `json:"open_duration" yaml:"open_duration"`

	// HalfOpenMax is the number of concurrent probes.
	HalfOpenMax int `json:"half_open_max" yaml:"half_open_max"`
}

// DefaultBreakerConfig returns the defaults: open after 5 failures for 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenDuration:     30 * time.Second,
		HalfOpenMax:      1,
	}
}

// BreakerStats is a point-in-time view of the breaker.
type BreakerStats struct {
	State           string    `json:"state"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	CurrentFailures int       `json:"current_failures"`
	LastStateChange time.Time `json:"last_state_change"`
}

// CircuitBreaker stops calling a failing model for a while so that a
// provider outage fails reviews fast instead of waiting out every timeout.
//
// Thread Safety: Safe for concurrent use.
type CircuitBreaker struct {
	config BreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	halfOpenActive  int
	lastStateChange time.Time

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// NewCircuitBreaker creates a closed breaker. Zero config fields take
// their defaults.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = def.OpenDuration
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	return &CircuitBreaker{
		config:          config,
		now:             time.Now,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed. The release function, when
// non-nil, must be called once the call finishes.
func (cb *CircuitBreaker) Allow() (bool, func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastStateChange) >= cb.config.OpenDuration {
			cb.transitionTo(CircuitHalfOpen)
			return cb.tryHalfOpen()
		}
		cb.totalRejections++
		return false, nil
	case CircuitHalfOpen:
		return cb.tryHalfOpen()
	}
	return false, nil
}

// tryHalfOpen must be called with the lock held.
func (cb *CircuitBreaker) tryHalfOpen() (bool, func()) {
	if cb.halfOpenActive >= cb.config.HalfOpenMax {
		cb.totalRejections++
		return false, nil
	}
	cb.halfOpenActive++
	var once sync.Once
	return true, func() {
		once.Do(func() {
			cb.mu.Lock()
			if cb.halfOpenActive > 0 {
				cb.halfOpenActive--
			}
			cb.mu.Unlock()
		})
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.failures++
	cb.successes = 0
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

// transitionTo must be called with the lock held.
func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.failures = 0
	cb.successes = 0
}

// Execute runs fn under breaker protection.
//
// Outputs:
//   - error: ErrCircuitOpen (wrapped with the operation name) when
//     rejected, otherwise fn's error.
func (cb *CircuitBreaker) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	allowed, release := cb.Allow()
	if !allowed {
		return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
	}
	if release != nil {
		defer release()
	}

	if err := fn(ctx); err != nil {
		// Cancellation by the caller says nothing about the provider.
		if ctx.Err() == nil {
			cb.RecordFailure()
		}
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Stats returns breaker statistics.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		State:           cb.state.String(),
		TotalCalls:      cb.totalCalls,
		TotalFailures:   cb.totalFailures,
		TotalRejections: cb.totalRejections,
		CurrentFailures: cb.failures,
		LastStateChange: cb.lastStateChange,
	}
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenActive = 0
	cb.lastStateChange = cb.now()
}
