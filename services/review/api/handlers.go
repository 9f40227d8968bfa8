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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/checkpoint"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/report"
)

func newReviewID() string {
	return uuid.NewString()
}

func statusID(id string) strfmt.UUID {
	return strfmt.UUID(id)
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := getOrCreateRequestID(c)
		start := time.Now()
		c.Next()
		s.logger.Debug("request served",
			slog.String("request_id", requestID),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// reviewID reads and validates the :id path parameter.
func reviewID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !strfmt.IsUUID(id) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid review id",
			Code:  "INVALID_ID",
		})
		return "", false
	}
	return id, true
}

func submitResponse(id, state string) SubmitResponse {
	base := "/v1/reviews/" + id
	return SubmitResponse{
		ID:        strfmt.UUID(id),
		State:     state,
		StatusURL: base,
		EventsURL: base + "/events",
		ReportURL: base + "/report",
	}
}

func launchError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "LAUNCH_FAILED"
	switch {
	case errors.Is(err, ErrAtCapacity):
		status, code = http.StatusTooManyRequests, "AT_CAPACITY"
	case errors.Is(err, ErrReviewRunning):
		status, code = http.StatusConflict, "REVIEW_RUNNING"
	case errors.Is(err, ErrShuttingDown):
		status, code = http.StatusServiceUnavailable, "SHUTTING_DOWN"
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:        "ok",
		ActiveReviews: s.activeCount(),
		Capacity:      s.cfg.MaxConcurrentReviews,
		Checkpoints:   "ok",
	}
	if p, ok := s.deps.Store.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checkpoints = err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleSubmit handles POST /v1/reviews.
//
// Response:
//
//	202 Accepted: SubmitResponse
//	400 Bad Request: Malformed or invalid request
//	429 Too Many Requests: Every review slot is busy
func (s *Server) handleSubmit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With(slog.String("request_id", requestID), slog.String("handler", "handleSubmit"))

	var req datatypes.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Review request failed validation",
			Code:    "VALIDATION_FAILED",
			Details: err.Error(),
		})
		return
	}

	id := s.newID()
	err := s.launch(id, func(ctx context.Context, o *mcts.Orchestrator) (*mcts.Outcome, error) {
		return o.Run(ctx, req)
	})
	if err != nil {
		logger.Warn("Review not started", slog.String("error", err.Error()))
		launchError(c, err)
		return
	}
	logger.Info("Review accepted", slog.String("review_id", id), slog.String("repo_dir", req.RepoDir))
	c.JSON(http.StatusAccepted, submitResponse(id, StateRunning))
}

// handleList handles GET /v1/reviews.
func (s *Server) handleList(c *gin.Context) {
	sums, err := s.deps.Store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LIST_FAILED"})
		return
	}

	seen := make(map[string]bool, len(sums))
	var fresh []*run
	s.mu.RLock()
	for _, sum := range sums {
		seen[sum.ID] = true
	}
	// Runs that have not checkpointed yet come first.
	for id, r := range s.runs {
		if !seen[id] {
			fresh = append(fresh, r)
		}
	}
	s.mu.RUnlock()

	out := make([]ReviewStatus, 0, len(sums)+len(fresh))
	for _, r := range fresh {
		out = append(out, r.status())
	}
	for _, sum := range sums {
		if r, ok := s.lookup(sum.ID); ok {
			out = append(out, r.status())
			continue
		}
		out = append(out, statusFromSummary(sum))
	}

	c.JSON(http.StatusOK, ListResponse{Reviews: out, Count: len(out)})
}

// status resolves a review from memory or the checkpoint store.
func (s *Server) status(ctx context.Context, id string) (ReviewStatus, error) {
	if r, ok := s.lookup(id); ok {
		return r.status(), nil
	}
	sess, err := s.deps.Store.Load(ctx, id)
	if err != nil {
		return ReviewStatus{}, err
	}
	return statusFromSummary(checkpoint.Summarize(sess)), nil
}

func storeError(c *gin.Context, err error) {
	if errors.Is(err, checkpoint.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Review not found", Code: "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
}

// handleGet handles GET /v1/reviews/:id.
func (s *Server) handleGet(c *gin.Context) {
	id, ok := reviewID(c)
	if !ok {
		return
	}
	st, err := s.status(c.Request.Context(), id)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleCancel handles DELETE /v1/reviews/:id. The review stops at the
// next phase boundary and still publishes a report.
func (s *Server) handleCancel(c *gin.Context) {
	id, ok := reviewID(c)
	if !ok {
		return
	}
	r, ok := s.lookup(id)
	if !ok || r.finished() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Review is not running", Code: "NOT_RUNNING"})
		return
	}
	r.cancel()
	c.JSON(http.StatusAccepted, submitResponse(id, StateCancelled))
}

// handleReport handles GET /v1/reviews/:id/report.
//
// Response:
//
//	200 OK: text/markdown report
//	404 Not Found: Unknown review or no readable report
//	409 Conflict: The review is still running
func (s *Server) handleReport(c *gin.Context) {
	id, ok := reviewID(c)
	if !ok {
		return
	}

	if r, ok := s.lookup(id); ok {
		if !r.finished() {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Review is still running", Code: "REVIEW_RUNNING"})
			return
		}
		r.mu.Lock()
		out := r.outcome
		r.mu.Unlock()
		if out != nil {
			data, err := report.Render(out)
			if err != nil {
				c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "RENDER_FAILED"})
				return
			}
			c.Data(http.StatusOK, "text/markdown; charset=utf-8", data)
			return
		}
	}

	sess, err := s.deps.Store.Load(c.Request.Context(), id)
	if err != nil {
		storeError(c, err)
		return
	}
	if !sess.Complete() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Review has not finished; resume it first", Code: "REVIEW_INCOMPLETE"})
		return
	}
	if sess.Location != "" && filepath.IsAbs(sess.Location) {
		if data, err := os.ReadFile(sess.Location); err == nil {
			c.Data(http.StatusOK, "text/markdown; charset=utf-8", data)
			return
		}
	}
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "Report not available from this server",
		Code:    "REPORT_UNAVAILABLE",
		Details: sess.Location,
	})
}

// handleResume handles POST /v1/reviews/:id/resume.
func (s *Server) handleResume(c *gin.Context) {
	id, ok := reviewID(c)
	if !ok {
		return
	}
	if r, ok := s.lookup(id); ok && !r.finished() {
		launchError(c, ErrReviewRunning)
		return
	}

	sess, err := s.deps.Store.Load(c.Request.Context(), id)
	if err != nil {
		storeError(c, err)
		return
	}
	if sess.Complete() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: ErrReviewComplete.Error(), Code: "REVIEW_COMPLETE"})
		return
	}

	err = s.launch(id, func(ctx context.Context, o *mcts.Orchestrator) (*mcts.Outcome, error) {
		return o.Resume(ctx, sess)
	})
	if err != nil {
		launchError(c, err)
		return
	}
	s.logger.Info("Review resumed",
		slog.String("review_id", id),
		slog.String("phase", string(sess.Phase)),
		slog.Int("iteration", sess.Search.CurrentIteration),
	)
	c.JSON(http.StatusAccepted, submitResponse(id, StateRunning))
}
