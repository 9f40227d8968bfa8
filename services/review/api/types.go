// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"

	"github.com/go-openapi/strfmt"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/checkpoint"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

var (
	// ErrAtCapacity is returned when every review slot is taken.
	ErrAtCapacity = errors.New("too many concurrent reviews")

	// ErrReviewRunning is returned when resuming a review that is running.
	ErrReviewRunning = errors.New("review is already running")

	// ErrReviewComplete is returned when resuming a finished review.
	ErrReviewComplete = errors.New("review is already complete")

	// ErrShuttingDown is returned once Shutdown has begun.
	ErrShuttingDown = errors.New("server is shutting down")
)

// Review states reported by the API.
const (
	StateRunning     = "running"
	StateCompleted   = "completed"
	StateFailed      = "failed"
	StateCancelled   = "cancelled"
	StateInterrupted = "interrupted"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// SubmitResponse is returned by POST /v1/reviews and resume.
type SubmitResponse struct {
	ID        strfmt.UUID `json:"id"`
	State     string      `json:"state"`
	StatusURL string      `json:"status_url"`
	EventsURL string      `json:"events_url"`
	ReportURL string      `json:"report_url"`
}

// ReviewStatus describes one review.
type ReviewStatus struct {
	ID             strfmt.UUID     `json:"id"`
	State          string          `json:"state"`
	Phase          mcts.Phase      `json:"phase,omitempty"`
	Iteration      int             `json:"iteration"`
	MaxIterations  int             `json:"max_iterations"`
	TreeNodes      int             `json:"tree_nodes"`
	RepoDir        string          `json:"repo_dir,omitempty"`
	StopReason     string          `json:"stop_reason,omitempty"`
	SelectedNodeID string          `json:"selected_node_id,omitempty"`
	Location       string          `json:"location,omitempty"`
	Error          string          `json:"error,omitempty"`
	StartedAt      strfmt.DateTime `json:"started_at"`
	UpdatedAt      strfmt.DateTime `json:"updated_at"`
}

// ListResponse is returned by GET /v1/reviews.
type ListResponse struct {
	Reviews []ReviewStatus `json:"reviews"`
	Count   int            `json:"count"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	ActiveReviews int    `json:"active_reviews"`
	Capacity      int64  `json:"capacity"`
	Checkpoints   string `json:"checkpoints"`
}

func statusFromSummary(sum checkpoint.Summary) ReviewStatus {
	st := ReviewStatus{
		ID:            strfmt.UUID(sum.ID),
		Phase:         sum.Phase,
		Iteration:     sum.Iteration,
		MaxIterations: sum.MaxIterations,
		TreeNodes:     sum.TreeNodes,
		RepoDir:       sum.RepoDir,
		StopReason:    sum.StopReason,
		Location:      sum.Location,
		StartedAt:     strfmt.DateTime(sum.StartedAt),
		UpdatedAt:     strfmt.DateTime(sum.UpdatedAt),
	}
	switch {
	case sum.Failed:
		st.State = StateFailed
	case sum.Phase != mcts.PhaseComplete:
		st.State = StateInterrupted
	case sum.StopReason == mcts.StopCancelled:
		st.State = StateCancelled
	default:
		st.State = StateCompleted
	}
	return st
}
