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
	"fmt"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
)

// Selector strategy names accepted by SearchConfig.Selector.
const (
	SelectorUCB1   = "ucb1"
	SelectorOracle = "oracle"
)

// DefaultShortCircuitThreshold is the initial score above which no search runs.
const DefaultShortCircuitThreshold = 0.9

// DefaultMaxConsecutiveFailures ends a search after this many abandoned
// iterations in a row.
const DefaultMaxConsecutiveFailures = 3

// DefaultMaxChildren caps the steps taken from one expansion.
const DefaultMaxChildren = 3

// SearchConfig contains the search settings shared by every review.
// Per-request fields in datatypes.ReviewRequest override the first four.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type SearchConfig struct {
	MaxIterations       int     `json:"max_iterations" yaml:"max_iterations"`
	ExplorationConstant float64 `json:"exploration_constant" yaml:"exploration_constant"`
	MaxDepth            int     `json:"max_depth" yaml:"max_depth"`
	SelectionMode       string  `json:"selection_mode" yaml:"selection_mode"`

	// ShortCircuitThreshold skips the search when the initial score is
	// strictly greater.
	ShortCircuitThreshold float64 `json:"short_circuit_threshold" yaml:"short_circuit_threshold"`

	// MaxConsecutiveFailures completes the search early; 0 disables.
	MaxConsecutiveFailures int `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`

	// Evaluator is "one" or "best-of".
	Evaluator string `json:"evaluator" yaml:"evaluator"`

	// Selector is "ucb1" or "oracle".
	Selector string `json:"selector" yaml:"selector"`

	MaxChildren int `json:"max_children" yaml:"max_children"`

	// RandomSeed seeds the random candidate picker. 0 selects the first
	// candidate deterministically.
	RandomSeed int64 `json:"random_seed" yaml:"random_seed"`

	// TracingEnabled turns on the search spans.
	TracingEnabled bool `json:"tracing_enabled" yaml:"tracing_enabled"`
}

// DefaultSearchConfig returns the default configuration.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxIterations:          datatypes.DefaultMaxIterations,
		ExplorationConstant:    datatypes.DefaultExplorationConstant,
		MaxDepth:               datatypes.DefaultMaxDepth,
		SelectionMode:          string(SelectByVisits),
		ShortCircuitThreshold:  DefaultShortCircuitThreshold,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		Evaluator:              string(EvaluateOne),
		Selector:               SelectorUCB1,
		MaxChildren:            DefaultMaxChildren,
		TracingEnabled:         true,
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: Non-nil if configuration is invalid.
func (c SearchConfig) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be >= 0")
	}
	if c.ExplorationConstant < 0 {
		return fmt.Errorf("exploration_constant must be >= 0")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0")
	}
	if _, err := ParseSelectionMode(c.SelectionMode); err != nil {
		return err
	}
	if c.ShortCircuitThreshold < 0 || c.ShortCircuitThreshold > 1 {
		return fmt.Errorf("short_circuit_threshold must be between 0 and 1")
	}
	if c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max_consecutive_failures must be >= 0")
	}
	if _, err := ParseEvaluationStrategy(c.Evaluator); err != nil {
		return err
	}
	switch c.Selector {
	case "", SelectorUCB1, SelectorOracle:
	default:
		return fmt.Errorf("selector must be %q or %q, got %q", SelectorUCB1, SelectorOracle, c.Selector)
	}
	if c.MaxChildren < 0 {
		return fmt.Errorf("max_children must be >= 0")
	}
	return nil
}

// Defaults returns the request defaults derived from this configuration.
func (c SearchConfig) Defaults() datatypes.SearchDefaults {
	d := datatypes.BuiltinSearchDefaults()
	d.MaxIterations = c.MaxIterations
	d.ExplorationConstant = c.ExplorationConstant
	d.MaxDepth = c.MaxDepth
	if c.SelectionMode != "" {
		d.SelectionMode = c.SelectionMode
	}
	return d
}
