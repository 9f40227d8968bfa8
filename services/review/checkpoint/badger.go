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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
	badgerdb "github.com/ObiyaDev/obiya-examples-sub000/services/review/storage/badger"
)

const badgerKeyPrefix = "review/checkpoint/"

// BadgerStore keeps checkpoints in an embedded BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db  *badgerdb.DB
	ttl time.Duration
	own bool
}

// NewBadgerStore wraps an open database. The caller keeps ownership of db.
// A positive ttl expires checkpoints that are not updated.
func NewBadgerStore(db *badgerdb.DB, ttl time.Duration) *BadgerStore {
	return &BadgerStore{db: db, ttl: ttl}
}

// OpenBadgerStore opens a database for the store; Close closes it.
func OpenBadgerStore(cfg badgerdb.Config, ttl time.Duration, logger *slog.Logger) (*BadgerStore, error) {
	db, err := badgerdb.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, ttl: ttl, own: true}, nil
}

func key(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

// Save implements mcts.Checkpointer.
func (b *BadgerStore) Save(ctx context.Context, s *mcts.Session) error {
	data, _, err := encode(s)
	if err != nil {
		return err
	}
	err = b.db.UpdateContext(ctx, func(txn *badger.Txn) error {
		e := badger.NewEntry(key(s.ID), data)
		if b.ttl > 0 {
			e = e.WithTTL(b.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", s.ID, err)
	}
	return nil
}

// Load implements Store.
func (b *BadgerStore) Load(ctx context.Context, id string) (*mcts.Session, error) {
	var data []byte
	err := b.db.ViewContext(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", id, err)
	}
	return decodeSession(id, data)
}

// List implements Store.
func (b *BadgerStore) List(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := b.db.ViewContext(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(badgerKeyPrefix):])
			err := item.Value(func(val []byte) error {
				sum, err := decodeSummary(id, val)
				if err != nil {
					return err
				}
				out = append(out, sum)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	sortSummaries(out)
	return out, nil
}

// Delete implements Store.
func (b *BadgerStore) Delete(ctx context.Context, id string) error {
	err := b.db.UpdateContext(ctx, func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	return nil
}

// Close closes the database when the store opened it.
func (b *BadgerStore) Close() error {
	if !b.own {
		return nil
	}
	return b.db.Close()
}
