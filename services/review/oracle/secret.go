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
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// LoadAPIKey reads the API key from the environment variable env, or
// from secretPath when the variable is unset, and seals it in an
// encrypted enclave. The plaintext is wiped from the read buffer.
//
// Outputs:
//   - *memguard.Enclave: The sealed key.
//   - error: ErrNoAPIKey if neither source holds a key.
func LoadAPIKey(env, secretPath string) (*memguard.Enclave, error) {
	var raw []byte
	if env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			raw = []byte(v)
		}
	}
	if raw == nil && secretPath != "" {
		data, err := os.ReadFile(secretPath)
		if err == nil {
			if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
				raw = []byte(trimmed)
				slog.Info("read API key from secret file", slog.String("path", secretPath))
			}
			memguard.WipeBytes(data)
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: set %s or provide %s", ErrNoAPIKey, env, secretPath)
	}
	// NewEnclave wipes raw.
	return memguard.NewEnclave(raw), nil
}

// openKey returns the plaintext key held in enclave.
func openKey(enclave *memguard.Enclave) (string, error) {
	if enclave == nil {
		return "", ErrNoAPIKey
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open API key enclave: %w", err)
	}
	defer buf.Destroy()
	return strings.Clone(buf.String()), nil
}
