// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// AuditAction is the kind of search event an entry records.
type AuditAction string

const (
	AuditActionRoot         AuditAction = "root"
	AuditActionShortCircuit AuditAction = "short_circuit"
	AuditActionSelect       AuditAction = "select"
	AuditActionExpand       AuditAction = "expand"
	AuditActionSimulate     AuditAction = "simulate"
	AuditActionBackprop     AuditAction = "backprop"
	AuditActionPhaseFailure AuditAction = "phase_failure"
	AuditActionBestPath     AuditAction = "best_path"
	AuditActionFailure      AuditAction = "failure"
)

// AuditEntry records one search event. Entries are immutable once recorded.
type AuditEntry struct {
	// Timestamp is Unix milliseconds UTC.
	Timestamp int64       `json:"timestamp"`
	Action    AuditAction `json:"action"`
	Iteration int         `json:"iteration"`
	NodeID    string      `json:"node_id,omitempty"`
	Value     float64     `json:"value,omitempty"`
	Details   string      `json:"details,omitempty"`

	// ChainHash is the running hash after this entry.
	ChainHash string `json:"chain_hash,omitempty"`
}

const genesisHash = "genesis"

// AuditLog is a hash-chained trail of everything that changed a tree.
//
// Each entry's ChainHash is sha256(previous hash || entry JSON), so any
// edit to a recorded entry is detected by Verify.
//
// Thread Safety: Safe for concurrent use.
type AuditLog struct {
	mu      sync.RWMutex
	entries []AuditEntry
	hash    string
	now     func() time.Time
}

// NewAuditLog creates an empty log at the genesis hash.
func NewAuditLog() *AuditLog {
	return &AuditLog{hash: genesisHash, now: time.Now}
}

// Record appends an entry, stamping its time and chain hash.
func (l *AuditLog) Record(action AuditAction, iteration int, nodeID string, value float64, details string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := AuditEntry{
		Timestamp: l.now().UnixMilli(),
		Action:    action,
		Iteration: iteration,
		NodeID:    nodeID,
		Value:     value,
		Details:   details,
	}
	l.hash = chain(l.hash, entry)
	entry.ChainHash = l.hash
	l.entries = append(l.entries, entry)
}

func chain(prev string, entry AuditEntry) string {
	entry.ChainHash = ""
	data, _ := json.Marshal(entry)
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the chain from genesis.
func (l *AuditLog) Verify() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	hash := genesisHash
	for _, e := range l.entries {
		hash = chain(hash, e)
		if e.ChainHash != hash {
			return false
		}
	}
	return hash == l.hash
}

// Entries returns a copy of all entries.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// EntriesByAction returns the entries with the given action.
func (l *AuditLog) EntriesByAction(action AuditAction) []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []AuditEntry
	for _, e := range l.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// AuditSummary holds counts per action.
type AuditSummary struct {
	TotalEntries int                 `json:"total_entries"`
	FirstEntry   int64               `json:"first_entry,omitempty"`
	LastEntry    int64               `json:"last_entry,omitempty"`
	ActionCounts map[AuditAction]int `json:"action_counts"`
	Intact       bool                `json:"intact"`
	Hash         string              `json:"hash"`
}

// Summary returns per-action counts and the verification result.
func (l *AuditLog) Summary() AuditSummary {
	intact := l.Verify()

	l.mu.RLock()
	defer l.mu.RUnlock()
	s := AuditSummary{
		TotalEntries: len(l.entries),
		ActionCounts: make(map[AuditAction]int),
		Intact:       intact,
		Hash:         l.hash,
	}
	if len(l.entries) > 0 {
		s.FirstEntry = l.entries[0].Timestamp
		s.LastEntry = l.entries[len(l.entries)-1].Timestamp
	}
	for _, e := range l.entries {
		s.ActionCounts[e.Action]++
	}
	return s
}

type auditJSON struct {
	Entries []AuditEntry `json:"entries"`
	Hash    string       `json:"hash"`
}

// MarshalJSON encodes the entries and the head hash.
func (l *AuditLog) MarshalJSON() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(auditJSON{Entries: l.entries, Hash: l.hash})
}

// UnmarshalJSON restores a log and rejects a broken chain.
func (l *AuditLog) UnmarshalJSON(data []byte) error {
	var raw auditJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	restored := &AuditLog{entries: raw.Entries, hash: raw.Hash, now: time.Now}
	if restored.hash == "" {
		restored.hash = genesisHash
	}
	if !restored.Verify() {
		return fmt.Errorf("audit log chain does not verify")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries, l.hash, l.now = restored.entries, restored.hash, restored.now
	return nil
}
