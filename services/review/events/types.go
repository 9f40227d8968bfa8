// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events broadcasts review progress to in-process subscribers
// such as the HTTP event stream.
package events

import "time"

// Type is an event topic.
type Type string

// Review lifecycle topics.
const (
	TypeReviewRequested     Type = "review.requested"
	TypeIterationStarted    Type = "mcts.iteration.started"
	TypeNodeSelected        Type = "mcts.node.selected"
	TypeNodeExpanded        Type = "mcts.node.expanded"
	TypeSimulationCompleted Type = "mcts.simulation.completed"
	TypeBackpropagationDone Type = "mcts.backpropagation.completed"
	TypeIterationsCompleted Type = "mcts.iterations.completed"
	TypeReviewCompleted     Type = "review.completed"
	TypeReviewError         Type = "review.error"
)

// AllTypes lists every topic in lifecycle order.
func AllTypes() []Type {
	return []Type{
		TypeReviewRequested,
		TypeIterationStarted,
		TypeNodeSelected,
		TypeNodeExpanded,
		TypeSimulationCompleted,
		TypeBackpropagationDone,
		TypeIterationsCompleted,
		TypeReviewCompleted,
		TypeReviewError,
	}
}

// IsTerminal reports whether t ends a review's event stream.
func (t Type) IsTerminal() bool {
	return t == TypeReviewCompleted || t == TypeReviewError
}

// Event is one published progress event.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	ReviewID  string    `json:"review_id"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// ReviewRequestedData is the payload of TypeReviewRequested.
type ReviewRequestedData struct {
	RepoDir       string `json:"repo_dir"`
	Branch        string `json:"branch,omitempty"`
	MaxIterations int    `json:"max_iterations"`
}

// IterationStartedData is the payload of TypeIterationStarted.
type IterationStartedData struct {
	MaxIterations int `json:"max_iterations"`
	TreeNodes     int `json:"tree_nodes"`
}

// NodeSelectedData is the payload of TypeNodeSelected.
type NodeSelectedData struct {
	NodeID string `json:"node_id"`
	Visits int64  `json:"visits"`
	Depth  int    `json:"depth"`
}

// NodeExpandedData is the payload of TypeNodeExpanded.
type NodeExpandedData struct {
	ParentID  string   `json:"parent_id"`
	ChildIDs  []string `json:"child_ids"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// SimulationCompletedData is the payload of TypeSimulationCompleted.
type SimulationCompletedData struct {
	NodeID      string  `json:"node_id"`
	Value       float64 `json:"value"`
	Explanation string  `json:"explanation,omitempty"`
}

// BackpropagationData is the payload of TypeBackpropagationDone.
type BackpropagationData struct {
	Path          []string `json:"path"`
	NextIteration int      `json:"next_iteration"`
	Complete      bool     `json:"complete"`
}

// IterationsCompletedData is the payload of TypeIterationsCompleted.
type IterationsCompletedData struct {
	Iterations     int    `json:"iterations"`
	TreeNodes      int    `json:"tree_nodes"`
	ShortCircuited bool   `json:"short_circuited"`
	StopReason     string `json:"stop_reason,omitempty"`
}

// ReviewCompletedData is the payload of TypeReviewCompleted.
type ReviewCompletedData struct {
	SelectedNodeID string `json:"selected_node_id"`
	Location       string `json:"location,omitempty"`
	Failed         bool   `json:"failed"`
}

// ReviewErrorData is the payload of TypeReviewError.
type ReviewErrorData struct {
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Repository   string    `json:"repository"`
	OutputURL    string    `json:"output_url,omitempty"`
	Requirements string    `json:"requirements"`
}
