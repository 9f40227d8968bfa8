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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
	badgerdb "github.com/ObiyaDev/obiya-examples-sub000/services/review/storage/badger"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func testSession(t *testing.T, id string, updated time.Time) *mcts.Session {
	t.Helper()
	tree := mcts.NewTree("root-"+id, "root state")
	_, err := tree.AddChild(tree.RootID(), "Analyze code structure")
	require.NoError(t, err)
	audit := mcts.NewAuditLog()
	audit.Record(mcts.AuditActionRoot, 0, tree.RootID(), 0.4, "initial")
	return &mcts.Session{
		ID:      id,
		Request: datatypes.ReviewRequest{Requirements: "req", RepoDir: "/repo/" + id},
		Tree:    tree,
		Search: mcts.SearchContext{
			RootID: tree.RootID(), MaxIterations: 5, CurrentIteration: 2, ExplorationConstant: 1.414, MaxDepth: 10,
		},
		Phase:     mcts.PhaseExpand,
		Selected:  tree.RootID(),
		Audit:     audit,
		StartedAt: base,
		UpdatedAt: updated,
	}
}

type storeFactory func(t *testing.T) Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"badger": func(t *testing.T) Store {
			s, err := OpenBadgerStore(badgerdb.InMemoryConfig(), 0, nil)
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			s, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr()}, 0)
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_Contract(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			defer store.Close()

			_, err := store.Load(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Save(ctx, nil), ErrInvalidSession)

			older := testSession(t, "a", base.Add(time.Minute))
			newer := testSession(t, "b", base.Add(2*time.Minute))
			require.NoError(t, store.Save(ctx, older))
			require.NoError(t, store.Save(ctx, newer))

			loaded, err := store.Load(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, mcts.PhaseExpand, loaded.Phase)
			assert.Equal(t, 2, loaded.Search.CurrentIteration)
			assert.Equal(t, 2, loaded.Tree.Len())
			assert.NoError(t, loaded.Validate())
			assert.True(t, loaded.Audit.Verify())

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "b", list[0].ID, "most recent first")
			assert.Equal(t, "/repo/a", list[1].RepoDir)
			assert.Equal(t, 2, list[1].TreeNodes)

			// Overwrite moves a session to the front.
			older.Phase = mcts.PhaseComplete
			older.UpdatedAt = base.Add(3 * time.Minute)
			require.NoError(t, store.Save(ctx, older))
			list, err = store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].ID)
			assert.Equal(t, mcts.PhaseComplete, list[0].Phase)

			require.NoError(t, store.Delete(ctx, "a"))
			require.NoError(t, store.Delete(ctx, "a"))
			_, err = store.Load(ctx, "a")
			assert.ErrorIs(t, err, ErrNotFound)
			list, err = store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestRedisStore_TTLExpiresAndPrunesIndex(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "test:", time.Hour)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSession(t, "x", base)))
	assert.True(t, mr.Exists("test:checkpoint:x"))
	assert.Equal(t, time.Hour, mr.TTL("test:checkpoint:x"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Load(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	members, err := mr.ZMembers("test:checkpoints")
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisStore(ctx, RedisConfig{Addr: addr}, 0)
	assert.Error(t, err)
}

func TestBadgerStore_SharedDatabase(t *testing.T) {
	db, err := badgerdb.Open(badgerdb.InMemoryConfig(), nil)
	require.NoError(t, err)
	defer db.Close()

	store := NewBadgerStore(db, time.Hour)
	require.NoError(t, store.Save(context.Background(), testSession(t, "s", base)))
	require.NoError(t, store.Close(), "closing a borrowed database is a no-op")

	_, err = store.Load(context.Background(), "s")
	assert.NoError(t, err)
}

func TestConfig(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Backend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Backend = BackendRedis
	cfg.Redis.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Backend = BackendMemory
	store, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	cfg.Backend = BackendBadger
	cfg.Badger = badgerdb.InMemoryConfig()
	store, err = Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, store)
	require.NoError(t, store.Close())
}
