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

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// SearchContext holds the parameters threaded through every phase.
// Phases read it; only the orchestrator advances CurrentIteration.
type SearchContext struct {
	RootID              string  `json:"rootId" validate:"required"`
	MaxIterations       int     `json:"maxIterations" validate:"gte=0"`
	CurrentIteration    int     `json:"currentIteration" validate:"gte=0"`
	ExplorationConstant float64 `json:"explorationConstant" validate:"gte=0"`
	MaxDepth            int     `json:"maxDepth" validate:"gte=0"`
}

// Validate checks the field constraints.
func (sc SearchContext) Validate() error {
	if err := validate.Struct(sc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSearchContext, err)
	}
	return nil
}

// Exhausted returns true once the iteration budget is spent.
func (sc SearchContext) Exhausted() bool {
	return sc.CurrentIteration >= sc.MaxIterations
}
