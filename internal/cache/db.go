// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/linkfolio/analytics/internal/store"
)

// DBCache keeps rendered reports in the analytics_cache table. It is the
// single-node default: durable across restarts and swept by the retention
// job rather than by a background goroutine.
type DBCache struct {
	db         *sql.DB
	defaultTTL time.Duration
	closed     atomic.Bool
}

// NewDBCache creates a store-backed cache with the given default TTL.
func NewDBCache(db *sql.DB, defaultTTL time.Duration) *DBCache {
	return &DBCache{db: db, defaultTTL: defaultTTL}
}

// Get retrieves a value; expired rows count as misses and are removed lazily.
func (c *DBCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}

	var (
		payload   []byte
		expiresAt string
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT payload, expires_at FROM analytics_cache WHERE cache_key = ?
	`, key).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	exp, err := store.ParseTime(expiresAt)
	if err != nil || time.Now().UTC().After(exp) {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM analytics_cache WHERE cache_key = ?`, key)
		return nil, ErrCacheMiss
	}
	return payload, nil
}

// Set stores a value with the specified TTL.
func (c *DBCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO analytics_cache (cache_key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at
	`, key, value, store.FormatTime(time.Now().Add(ttl)))
	return err
}

// Delete removes a key.
func (c *DBCache) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM analytics_cache WHERE cache_key = ?`, key)
	return err
}

// Clear removes all entries.
func (c *DBCache) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM analytics_cache`)
	return err
}

// Has checks if a key exists and is not expired.
func (c *DBCache) Has(ctx context.Context, key string) (bool, error) {
	if c.closed.Load() {
		return false, ErrCacheClosed
	}
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM analytics_cache WHERE cache_key = ? AND expires_at >= ?
	`, key, store.FormatTime(time.Now())).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Close marks the cache closed. The database connection is owned by the
// caller and stays open.
func (c *DBCache) Close() error {
	c.closed.Store(true)
	return nil
}

var _ Cache = (*DBCache)(nil)
