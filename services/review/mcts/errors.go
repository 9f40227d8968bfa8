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

import "errors"

var (
	// ErrNodeNotFound is returned when a referenced node id is absent from the tree.
	ErrNodeNotFound = errors.New("node not found")

	// ErrParentNodeNotFound is returned when a backpropagation walk reaches a
	// dangling parent reference. Updates applied before the failure are kept.
	ErrParentNodeNotFound = errors.New("parent node not found")

	// ErrEmptySearchSpace is returned when selection is attempted on an empty tree.
	ErrEmptySearchSpace = errors.New("empty search space")

	// ErrNoCandidatesToEvaluate is returned when simulation has no expanded children.
	ErrNoCandidatesToEvaluate = errors.New("no candidates to evaluate")

	// ErrMissingEvaluationContext is returned when the root has no state to
	// evaluate candidates against.
	ErrMissingEvaluationContext = errors.New("missing evaluation context")

	// ErrOracleFailure wraps any failed, timed out or unparsable oracle call.
	ErrOracleFailure = errors.New("oracle failure")

	// ErrContextUnavailable is returned when the change context cannot be collected.
	ErrContextUnavailable = errors.New("change context unavailable")

	// ErrInvalidTree is returned when a tree violates its structural invariants.
	ErrInvalidTree = errors.New("invalid tree")

	// ErrInvalidSelectionMode is returned for an unknown best-path criterion.
	ErrInvalidSelectionMode = errors.New("invalid selection mode")

	// ErrInvalidRequest is returned when a review request fails validation.
	ErrInvalidRequest = errors.New("invalid review request")

	// ErrInvalidSearchContext is returned when search parameters fail validation.
	ErrInvalidSearchContext = errors.New("invalid search context")

	// ErrSessionComplete is returned when Step is called on a finished session.
	ErrSessionComplete = errors.New("session already complete")
)

// isPrecondition reports whether err is a precondition failure that is
// logged as a warning rather than an error.
func isPrecondition(err error) bool {
	return errors.Is(err, ErrEmptySearchSpace) || errors.Is(err, ErrNoCandidatesToEvaluate)
}
