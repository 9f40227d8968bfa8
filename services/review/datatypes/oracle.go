// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "strings"

// ChangeRequest identifies the revision range to collect context for.
type ChangeRequest struct {
	RepoDir     string `json:"repoDir"`
	Branch      string `json:"branch,omitempty"`
	StartCommit string `json:"startCommit"`
	EndCommit   string `json:"endCommit"`
}

// DiffStats summarizes a unified diff.
type DiffStats struct {
	FilesChanged int `json:"filesChanged"`
	LinesAdded   int `json:"linesAdded"`
	LinesDeleted int `json:"linesDeleted"`
}

// ChangeContext is the opaque text bundle describing a change set.
// The search never parses it; it is handed to the oracle as-is.
type ChangeContext struct {
	RepoDir  string    `json:"repoDir"`
	Files    string    `json:"files"`
	Messages string    `json:"messages"`
	Diff     string    `json:"diff"`
	Sampled  bool      `json:"sampled"`
	Stats    DiffStats `json:"stats"`
}

// FileList returns the non-empty lines of Files.
func (c ChangeContext) FileList() []string {
	return nonEmptyLines(c.Files)
}

// MessageList returns the non-empty lines of Messages.
func (c ChangeContext) MessageList() []string {
	return nonEmptyLines(c.Messages)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// Issue is one finding expressed in the Toulmin model of argumentation.
type Issue struct {
	Claim     string `json:"claim"`
	Grounds   string `json:"grounds"`
	Warrant   string `json:"warrant"`
	Backing   string `json:"backing"`
	Qualifier string `json:"qualifier"`
}

// Assessment is the oracle's first-pass evaluation of a whole change set.
type Assessment struct {
	Score        float64 `json:"score"`
	Issues       []Issue `json:"issues"`
	Summary      string  `json:"summary"`
	IssueSummary string  `json:"issueSummary"`
}

// Expansion is the oracle's proposal of next reasoning steps.
type Expansion struct {
	Reasoning string   `json:"reasoning"`
	Steps     []string `json:"steps"`
}
