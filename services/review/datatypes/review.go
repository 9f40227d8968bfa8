// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the request and payload types shared by the
// review search, its oracle, the change-context provider and the HTTP API.
package datatypes

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Request defaults applied by ApplyDefaults.
const (
	DefaultMaxIterations       = 100
	DefaultExplorationConstant = 1.414
	DefaultMaxDepth            = 10
	DefaultStartCommit         = "HEAD~14"
	DefaultEndCommit           = "HEAD"
	DefaultSelectionMode       = "visits"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("revision", func(fl validator.FieldLevel) bool {
		return ValidRevision(fl.Field().String())
	})
	return v
}

// ValidRevision reports whether rev may be handed to git as a revision
// argument. A leading dash would be parsed as an option.
func ValidRevision(rev string) bool {
	if rev == "" || strings.HasPrefix(rev, "-") || len(rev) > 256 {
		return false
	}
	for _, r := range rev {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ReviewRequest is the entry point payload for one code review.
//
// Pointer fields distinguish "not provided" from an explicit zero so that
// maxIterations=0 (skip the search) survives defaulting.
type ReviewRequest struct {
	// Requirements is the review objective the change is judged against.
	Requirements string `json:"requirements" yaml:"requirements" validate:"required,max=65536"`

	// Prompt is an optional free-form instruction appended to the objective.
	Prompt string `json:"prompt,omitempty" yaml:"prompt" validate:"max=65536"`

	// RepoDir is the repository working tree to review.
	RepoDir string `json:"repoDir" yaml:"repo_dir" validate:"required"`

	// Branch is the branch under review. Used as the end revision when
	// ReviewEndCommit is empty.
	Branch string `json:"branch,omitempty" yaml:"branch" validate:"omitempty,revision"`

	MaxIterations       *int     `json:"maxIterations,omitempty" yaml:"max_iterations" validate:"omitempty,gte=0,lte=100000"`
	ExplorationConstant *float64 `json:"explorationConstant,omitempty" yaml:"exploration_constant" validate:"omitempty,gte=0"`
	MaxDepth            *int     `json:"maxDepth,omitempty" yaml:"max_depth" validate:"omitempty,gte=0,lte=1000"`

	ReviewStartCommit string `json:"reviewStartCommit,omitempty" yaml:"review_start_commit" validate:"omitempty,revision"`
	ReviewEndCommit   string `json:"reviewEndCommit,omitempty" yaml:"review_end_commit" validate:"omitempty,revision"`

	// SelectionMode is the best-path criterion: visits, value or value-ratio.
	SelectionMode string `json:"selectionMode,omitempty" yaml:"selection_mode" validate:"omitempty,oneof=visits value value-ratio"`

	// OutputURL is where the report is published (path, file:// or gs://).
	OutputURL string `json:"outputUrl,omitempty" yaml:"output_url"`
}

// Validate checks the struct tags.
func (r *ReviewRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid review request: %w", err)
	}
	if strings.TrimSpace(r.Requirements) == "" {
		return fmt.Errorf("invalid review request: requirements must not be blank")
	}
	return nil
}

// SearchDefaults are the fallbacks ApplyDefaults uses for unset fields.
type SearchDefaults struct {
	MaxIterations       int
	ExplorationConstant float64
	MaxDepth            int
	SelectionMode       string
	StartCommit         string
	EndCommit           string
}

// BuiltinSearchDefaults returns the documented request defaults.
func BuiltinSearchDefaults() SearchDefaults {
	return SearchDefaults{
		MaxIterations:       DefaultMaxIterations,
		ExplorationConstant: DefaultExplorationConstant,
		MaxDepth:            DefaultMaxDepth,
		SelectionMode:       DefaultSelectionMode,
		StartCommit:         DefaultStartCommit,
		EndCommit:           DefaultEndCommit,
	}
}

// ApplyDefaults fills every unset field from d.
func (r *ReviewRequest) ApplyDefaults(d SearchDefaults) {
	if r.MaxIterations == nil {
		v := d.MaxIterations
		r.MaxIterations = &v
	}
	if r.ExplorationConstant == nil {
		v := d.ExplorationConstant
		r.ExplorationConstant = &v
	}
	if r.MaxDepth == nil {
		v := d.MaxDepth
		r.MaxDepth = &v
	}
	if r.SelectionMode == "" {
		r.SelectionMode = d.SelectionMode
	}
	if r.ReviewStartCommit == "" {
		r.ReviewStartCommit = d.StartCommit
	}
	if r.ReviewEndCommit == "" {
		if r.Branch != "" {
			r.ReviewEndCommit = r.Branch
		} else {
			r.ReviewEndCommit = d.EndCommit
		}
	}
}

// Objective returns the requirements with the optional prompt appended.
func (r *ReviewRequest) Objective() string {
	if strings.TrimSpace(r.Prompt) == "" {
		return r.Requirements
	}
	return r.Requirements + "\n\n" + r.Prompt
}

// IntValue dereferences p, returning 0 for nil.
func IntValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// FloatValue dereferences p, returning 0 for nil.
func FloatValue(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }
