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
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

// RedisConfig configures the shared checkpoint store.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
}

// DefaultRedisConfig returns local defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Addr: "localhost:6379", KeyPrefix: "review:", PoolSize: 10}
}

// RedisStore keeps checkpoints in Redis so several servers can share them.
// Sessions live under <prefix>checkpoint:<id>; a sorted set
// <prefix>checkpoints indexes them by update time.
//
// Thread Safety: Safe for concurrent use.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "review:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *RedisStore) dataKey(id string) string {
	return r.keyPrefix + "checkpoint:" + id
}

func (r *RedisStore) indexKey() string {
	return r.keyPrefix + "checkpoints"
}

// Save implements mcts.Checkpointer.
func (r *RedisStore) Save(ctx context.Context, s *mcts.Session) error {
	data, sum, err := encode(s)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.dataKey(s.ID), data, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(sum.UpdatedAt.UnixNano()), Member: s.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", s.ID, err)
	}
	return nil
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, id string) (*mcts.Session, error) {
	data, err := r.client.Get(ctx, r.dataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", id, err)
	}
	return decodeSession(id, data)
}

// List implements Store. Index entries whose data expired are pruned.
func (r *RedisStore) List(ctx context.Context) ([]Summary, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(ids) == 0 {
		return []Summary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.dataKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	out := make([]Summary, 0, len(ids))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		sum, err := decodeSummary(ids[i], []byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if len(stale) > 0 {
		r.client.ZRem(ctx, r.indexKey(), stale...)
	}
	sortSummaries(out)
	return out, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.dataKey(id))
	pipe.ZRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	return nil
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
