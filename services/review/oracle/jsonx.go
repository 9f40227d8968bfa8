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
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON returns the first balanced, valid JSON object in content,
// skipping code fences and surrounding prose.
func extractJSON(content string) (string, error) {
	s := strings.TrimSpace(content)
	if s == "" {
		return "", ErrEmptyResponse
	}

	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end := matchBrace(s, start); end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, truncate(s, 120))
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decodeJSON extracts and decodes the JSON object in content into out.
func decodeJSON(content string, out any) error {
	raw, err := extractJSON(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
