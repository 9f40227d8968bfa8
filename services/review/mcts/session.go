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
	"encoding/json"
	"fmt"
	"time"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
)

// Phase is the session cursor: the next phase Step will run.
type Phase string

const (
	PhaseSelect        Phase = "select"
	PhaseExpand        Phase = "expand"
	PhaseSimulate      Phase = "simulate"
	PhaseBackpropagate Phase = "backpropagate"
	PhaseComplete      Phase = "complete"
)

// Stop reasons recorded when a search ends before its iteration budget.
const (
	StopShortCircuit = "short_circuit"
	StopFailures     = "consecutive_failures"
	StopCancelled    = "cancelled"
	StopFailed       = "failed"
)

// Session is the complete, serializable state of one review.
//
// The session owns its tree. Only the Orchestrator mutates it, and only
// between phases, so a checkpoint always captures a phase boundary.
//
// Thread Safety: Not safe for concurrent use.
type Session struct {
	ID      string                  `json:"id"`
	Request datatypes.ReviewRequest `json:"request"`

	Tree   *Tree         `json:"tree"`
	Search SearchContext `json:"search"`
	Phase  Phase         `json:"phase"`

	// In-flight phase artifacts for the current iteration.
	Selected   string            `json:"selected,omitempty"`
	Expanded   []string          `json:"expanded,omitempty"`
	Simulation *SimulationResult `json:"simulation,omitempty"`

	// LastPath is the most recent successful backpropagation path.
	LastPath []string `json:"lastPath,omitempty"`

	PhaseFailures       int    `json:"phaseFailures"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	ShortCircuited      bool   `json:"shortCircuited"`
	StopReason          string `json:"stopReason,omitempty"`

	// Failed marks a synthetic failure tree; Failure holds the cause.
	Failed  bool   `json:"failed"`
	Failure string `json:"failure,omitempty"`

	// Changes is the collected change context without the raw diff.
	Changes    *datatypes.ChangeContext `json:"changes,omitempty"`
	Assessment *datatypes.Assessment    `json:"assessment,omitempty"`

	Audit *AuditLog `json:"audit"`

	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Location is where the report was published.
	Location string `json:"location,omitempty"`
}

// Complete reports whether the search has ended.
func (s *Session) Complete() bool {
	return s.Phase == PhaseComplete
}

// Validate checks that a restored session can be resumed.
func (s *Session) Validate() error {
	if s.Tree == nil || s.Tree.Len() == 0 {
		return fmt.Errorf("session %s: %w: no tree", s.ID, ErrInvalidTree)
	}
	if err := s.Tree.Validate(); err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	if err := s.Search.Validate(); err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	if s.Search.RootID != s.Tree.RootID() {
		return fmt.Errorf("session %s: %w: root %s does not match tree root %s",
			s.ID, ErrInvalidSearchContext, s.Search.RootID, s.Tree.RootID())
	}
	switch s.Phase {
	case PhaseSelect, PhaseComplete:
	case PhaseExpand:
		if _, ok := s.Tree.Node(s.Selected); !ok {
			return fmt.Errorf("session %s: selected %s: %w", s.ID, s.Selected, ErrNodeNotFound)
		}
	case PhaseSimulate:
	case PhaseBackpropagate:
		if s.Simulation == nil {
			return fmt.Errorf("session %s: %w: backpropagate without a simulation result", s.ID, ErrInvalidSearchContext)
		}
	default:
		return fmt.Errorf("session %s: %w: unknown phase %q", s.ID, ErrInvalidSearchContext, s.Phase)
	}
	return nil
}

// Snapshot returns a deep copy through the JSON encoding.
func (s *Session) Snapshot() (*Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	var out Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", s.ID, err)
	}
	return &out, nil
}

// Outcome is the final result of a review handed to the report sink.
type Outcome struct {
	ReviewID string                  `json:"reviewId"`
	Request  datatypes.ReviewRequest `json:"request"`
	Best     BestPath                `json:"best"`
	Tree     *Tree                   `json:"tree"`
	Search   SearchContext           `json:"search"`

	Changes    *datatypes.ChangeContext `json:"changes,omitempty"`
	Assessment *datatypes.Assessment    `json:"assessment,omitempty"`

	PhaseFailures  int    `json:"phaseFailures"`
	ShortCircuited bool   `json:"shortCircuited"`
	StopReason     string `json:"stopReason,omitempty"`
	Failed         bool   `json:"failed"`
	Failure        string `json:"failure,omitempty"`

	Audit AuditSummary `json:"audit"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Location is set after a successful publish.
	Location string `json:"location,omitempty"`
}

// Iterations returns the number of iterations run.
func (o *Outcome) Iterations() int {
	return o.Search.CurrentIteration
}

// Label classifies the outcome for metrics and display.
func (o *Outcome) Label() string {
	switch {
	case o.Failed:
		return "failed"
	case o.ShortCircuited:
		return "short_circuit"
	case o.StopReason == StopCancelled:
		return "cancelled"
	case o.StopReason == StopFailures:
		return "stopped_on_failures"
	default:
		return "searched"
	}
}
