// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint persists review sessions between phases so an
// interrupted review can be listed, inspected and resumed.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

var (
	// ErrNotFound is returned when no checkpoint exists for an id.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrInvalidSession is returned for a nil session or an empty id.
	ErrInvalidSession = errors.New("invalid session")
)

// Summary is the listing view of a checkpoint.
type Summary struct {
	ID            string     `json:"id"`
	Phase         mcts.Phase `json:"phase"`
	Iteration     int        `json:"iteration"`
	MaxIterations int        `json:"maxIterations"`
	TreeNodes     int        `json:"treeNodes"`
	RepoDir       string     `json:"repoDir"`
	Failed        bool       `json:"failed"`
	StopReason    string     `json:"stopReason,omitempty"`
	Location      string     `json:"location,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Summarize builds the listing view of a session.
func Summarize(s *mcts.Session) Summary {
	sum := Summary{
		ID:            s.ID,
		Phase:         s.Phase,
		Iteration:     s.Search.CurrentIteration,
		MaxIterations: s.Search.MaxIterations,
		RepoDir:       s.Request.RepoDir,
		Failed:        s.Failed,
		StopReason:    s.StopReason,
		Location:      s.Location,
		StartedAt:     s.StartedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Tree != nil {
		sum.TreeNodes = s.Tree.Len()
	}
	return sum
}

// Store persists sessions. Every Store is an mcts.Checkpointer.
type Store interface {
	mcts.Checkpointer

	// Load returns the latest checkpoint of a review, or ErrNotFound.
	Load(ctx context.Context, id string) (*mcts.Session, error)

	// List returns summaries ordered by most recent update first.
	List(ctx context.Context) ([]Summary, error)

	// Delete removes a checkpoint. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	Close() error
}

type record struct {
	Summary Summary         `json:"summary"`
	Session json.RawMessage `json:"session"`
}

func encode(s *mcts.Session) ([]byte, Summary, error) {
	if s == nil || s.ID == "" {
		return nil, Summary{}, ErrInvalidSession
	}
	session, err := json.Marshal(s)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	sum := Summarize(s)
	data, err := json.Marshal(record{Summary: sum, Session: session})
	if err != nil {
		return nil, Summary{}, fmt.Errorf("encode checkpoint %s: %w", s.ID, err)
	}
	return data, sum, nil
}

func decodeSession(id string, data []byte) (*mcts.Session, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	var s mcts.Session
	if err := json.Unmarshal(rec.Session, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func decodeSummary(id string, data []byte) (Summary, error) {
	var rec struct {
		Summary Summary `json:"summary"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Summary{}, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return rec.Summary, nil
}

func sortSummaries(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].UpdatedAt.After(s[j].UpdatedAt)
	})
}
