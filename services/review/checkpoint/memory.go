// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"context"
	"sync"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

// MemoryStore keeps encoded checkpoints in a map.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	sums map[string]Summary
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), sums: make(map[string]Summary)}
}

// Save implements mcts.Checkpointer.
func (m *MemoryStore) Save(ctx context.Context, s *mcts.Session) error {
	data, sum, err := encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.ID] = data
	m.sums[s.ID] = sum
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, id string) (*mcts.Session, error) {
	m.mu.RLock()
	data, ok := m.data[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeSession(id, data)
}

// List implements Store.
func (m *MemoryStore) List(context.Context) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.sums))
	for _, s := range m.sums {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sortSummaries(out)
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	delete(m.sums, id)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
