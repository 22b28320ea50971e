// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// FactoryOptions selects and configures the cache implementation.
type FactoryOptions struct {
	RedisURL   string
	Prefix     string
	DefaultTTL time.Duration
	DB         *sql.DB
	Logger     *slog.Logger
}

// NewFromOptions picks Redis when configured, the store-backed cache when a
// database is available, and memory otherwise.
func NewFromOptions(opts FactoryOptions) (Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.RedisURL != "" {
		redisOpts := DefaultRedisCacheOptions()
		redisOpts.URL = opts.RedisURL
		if opts.Prefix != "" {
			redisOpts.Prefix = opts.Prefix
		}
		if opts.DefaultTTL > 0 {
			redisOpts.DefaultTTL = opts.DefaultTTL
		}
		c, err := NewRedisCache(redisOpts)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("using Redis cache", "prefix", redisOpts.Prefix)
		return c, nil
	}

	if opts.DB != nil {
		logger.Info("using store-backed cache")
		return NewDBCache(opts.DB, opts.DefaultTTL), nil
	}

	logger.Info("using in-memory cache")
	return NewMemoryCache(opts.DefaultTTL), nil
}
