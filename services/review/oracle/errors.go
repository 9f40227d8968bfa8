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

import "errors"

var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("oracle circuit open")

	// ErrEmptyResponse is returned when the model produced no content.
	ErrEmptyResponse = errors.New("empty model response")

	// ErrMalformedResponse is returned when no JSON object could be decoded.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("no API key configured")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid oracle config")
)
