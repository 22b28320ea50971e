// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.ServerAddr())
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.UseRedisCache())
	assert.False(t, cfg.GeoIPEnabled())
	assert.Equal(t, time.Hour, cfg.CacheTTLDuration())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 90, cfg.RetentionViews)
	assert.Equal(t, 30, cfg.RetentionSessions)
	assert.False(t, cfg.RealtimeDurable)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LFA_SERVER_HOST", "0.0.0.0")
	t.Setenv("LFA_SERVER_PORT", "9090")
	t.Setenv("LFA_ENV", "production")
	t.Setenv("LFA_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LFA_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.ServerAddr())
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.UseRedisCache())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("LFA_CACHE_TTL", "0")
	_, err := Load()
	require.Error(t, err, "zero cache TTL must be rejected")
	t.Setenv("LFA_CACHE_TTL", "3600")

	t.Setenv("LFA_RETENTION_VIEWS", "-1")
	_, err = Load()
	require.Error(t, err, "negative retention must be rejected")
	t.Setenv("LFA_RETENTION_VIEWS", "90")

	t.Setenv("LFA_CHECK_PROFILES", "true")
	_, err = Load()
	require.Error(t, err, "profile checks need a chain endpoint")

	t.Setenv("LFA_CHAIN_BASE_URL", "http://localhost:3000")
	_, err = Load()
	require.NoError(t, err)
}
