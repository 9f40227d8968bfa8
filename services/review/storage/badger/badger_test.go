// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(InMemoryConfig(), nil)
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, db.InMemory())

	ctx := context.Background()
	require.NoError(t, db.UpdateContext(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("key"), []byte("value"))
	}))
	require.NoError(t, db.ViewContext(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("key"))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("value"), val)
			return nil
		})
	}))
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCInterval = 10 * time.Millisecond

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	}))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "second close is a no-op")

	db, err = Open(cfg, nil)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("k"))
		return err
	}))
}

func TestTxn_CancelledContext(t *testing.T) {
	db, err := Open(InMemoryConfig(), nil)
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = db.UpdateContext(ctx, func(*badger.Txn) error {
		called = true
		return nil
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, called)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, InMemoryConfig().Validate())
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{InMemory: true, GCDiscardRatio: 2}.Validate())
	assert.Error(t, Config{InMemory: true, GCInterval: -1}.Validate())

	_, err := Open(Config{}, nil)
	assert.Error(t, err)
}
