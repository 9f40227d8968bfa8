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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", `Sure! {"a": {"b": 2}} Hope that helps.`, `{"a": {"b": 2}}`},
		{"brace in string", `{"s": "a } b"}`, `{"s": "a } b"}`},
		{"escaped quote", `{"s": "say \"}\""}`, `{"s": "say \"}\""}`},
		{"skips invalid prefix", `{not json} then {"ok": true}`, `{"ok": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSON_Errors(t *testing.T) {
	_, err := extractJSON("   ")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = extractJSON("no object here")
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = extractJSON(`{"unterminated": `)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDecodeJSON_TypeMismatch(t *testing.T) {
	var out struct {
		Steps []string `json:"steps"`
	}
	err := decodeJSON(`{"steps": "not a list"}`, &out)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
