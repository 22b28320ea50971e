// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package chain

import (
	"context"
	"time"

	"github.com/linkfolio/analytics/internal/cache"
)

const existsTTL = 5 * time.Minute

// CachedClient memoizes positive existence probes so the ingest hot path
// stays off the chain. Negative and failed probes are not cached: a
// profile created moments ago must become visible promptly, and an outage
// must not linger.
type CachedClient struct {
	inner Client
	cache cache.Cache
}

// NewCachedClient wraps a client with existence memoization.
func NewCachedClient(inner Client, c cache.Cache) *CachedClient {
	return &CachedClient{inner: inner, cache: c}
}

// ProfileExists consults the cache before probing the chain.
func (c *CachedClient) ProfileExists(ctx context.Context, profileID string) (bool, error) {
	key := "chain:exists:" + profileID
	if _, err := c.cache.Get(ctx, key); err == nil {
		return true, nil
	}

	exists, err := c.inner.ProfileExists(ctx, profileID)
	if err != nil {
		return false, err
	}
	if exists {
		// Cache errors are miss-equivalent; the probe just repeats next time.
		_ = c.cache.Set(ctx, key, []byte("1"), existsTTL)
	}
	return exists, nil
}

// GetProfile is passed through uncached.
func (c *CachedClient) GetProfile(ctx context.Context, profileID string) (*Profile, error) {
	return c.inner.GetProfile(ctx, profileID)
}

var _ Client = (*CachedClient)(nil)
