// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"fmt"
	"time"
)

// Providers accepted by Config.Provider.
const (
	ProviderOpenAI  = "openai"
	ProviderOffline = "offline"
)

// Roles map oracle operations to models.
const (
	RoleSelect   = "select"
	RoleExpand   = "expand"
	RoleAnalysis = "analysis"
	RoleReview   = "review"
	RoleEvaluate = "evaluate"
	RoleFallback = "fallback"
)

// Models names the model used for each role.
type Models struct {
	Select   string `json:"select" yaml:"select"`
	Expand   string `json:"expand" yaml:"expand"`
	Analysis string `json:"analysis" yaml:"analysis"`
	Review   string `json:"review" yaml:"review"`
	Evaluate string `json:"evaluate" yaml:"evaluate"`
	Fallback string `json:"fallback" yaml:"fallback"`
}

// For returns the model for role, or the fallback model for an unknown
// or unset role.
func (m Models) For(role string) string {
	var model string
	switch role {
	case RoleSelect:
		model = m.Select
	case RoleExpand:
		model = m.Expand
	case RoleAnalysis:
		model = m.Analysis
	case RoleReview:
		model = m.Review
	case RoleEvaluate:
		model = m.Evaluate
	}
	if model == "" {
		return m.Fallback
	}
	return model
}

// Config configures the oracle client.
type Config struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "offline".
	Provider string `json:"provider" yaml:"provider"`

	// BaseURL overrides the API endpoint, e.g. an OpenRouter or local gateway.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKeyEnv is the environment variable holding the API key.
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`

	// APIKeyFile is read when APIKeyEnv is unset.
	APIKeyFile string `json:"api_key_file" yaml:"api_key_file"`

	Models Models `json:"models" yaml:"models"`

	Temperature float32 `json:"temperature" yaml:"temperature"`

	// Timeout bounds a single model call.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// RequestsPerSecond and Burst pace calls across all reviews.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`

	// StaticFallback returns canned responses when both the primary and
	// the fallback model fail.
	StaticFallback bool `json:"static_fallback" yaml:"static_fallback"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
}

// DefaultConfig returns the default oracle configuration.
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderOpenAI,
		APIKeyEnv:  "OPENAI_API_KEY",
		APIKeyFile: "/run/secrets/openai_api_key",
		Models: Models{
			Select:   "gpt-4o-mini",
			Expand:   "gpt-4o",
			Analysis: "gpt-4o-mini",
			Review:   "gpt-4o",
			Evaluate: "gpt-4o-mini",
			Fallback: "gpt-4o-mini",
		},
		Temperature:       0.2,
		Timeout:           60 * time.Second,
		RequestsPerSecond: 2,
		Burst:             4,
		Breaker:           DefaultBreakerConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI:
		if c.Models.Fallback == "" {
			return fmt.Errorf("%w: models.fallback is required", ErrInvalidConfig)
		}
	case ProviderOffline:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if c.RequestsPerSecond < 0 || c.Burst < 0 {
		return fmt.Errorf("%w: rate limits must be non-negative", ErrInvalidConfig)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be within [0,2]", ErrInvalidConfig)
	}
	return nil
}
