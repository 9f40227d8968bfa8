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
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/ObiyaDev/obiya-examples-sub000/services/review/storage/badger"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config selects and configures the checkpoint backend.
type Config struct {
	Backend string          `json:"backend" yaml:"backend"`
	TTL     time.Duration   `json:"ttl" yaml:"ttl"`
	Badger  badgerdb.Config `json:"badger" yaml:"badger"`
	Redis   RedisConfig     `json:"redis" yaml:"redis"`
}

// DefaultConfig uses an on-disk badger database kept for a week.
func DefaultConfig() Config {
	return Config{
		Backend: BackendBadger,
		TTL:     7 * 24 * time.Hour,
		Badger:  badgerdb.DefaultConfig(),
		Redis:   DefaultRedisConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("checkpoint.ttl must not be negative")
	}
	switch c.Backend {
	case BackendMemory:
	case BackendBadger:
		if err := c.Badger.Validate(); err != nil {
			return fmt.Errorf("checkpoint.badger: %w", err)
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("checkpoint.redis.addr is required")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be one of memory, badger, redis; got %q", c.Backend)
	}
	return nil
}

// Open creates the configured store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendBadger:
		return OpenBadgerStore(cfg.Badger, cfg.TTL, logger)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis, cfg.TTL)
	default:
		return NewMemoryStore(), nil
	}
}
