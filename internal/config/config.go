// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration loaded from environment variables.
// Everything is read once at startup.
type Config struct {
	DBPath     string `env:"LFA_DB_PATH" envDefault:"./data/analytics.db"`
	ServerHost string `env:"LFA_SERVER_HOST" envDefault:"localhost"`
	ServerPort int    `env:"LFA_SERVER_PORT" envDefault:"8080"`
	Env        string `env:"LFA_ENV" envDefault:"development"`
	LogLevel   string `env:"LFA_LOG_LEVEL" envDefault:"info"`

	// Cache configuration
	RedisURL    string `env:"LFA_REDIS_URL"`                      // Optional Redis URL for distributed caching
	CachePrefix string `env:"LFA_CACHE_PREFIX" envDefault:"lfa:"` // Redis key prefix
	CacheTTL    int    `env:"LFA_CACHE_TTL" envDefault:"3600"`    // Analytics report cache TTL in seconds

	// GeoIP configuration
	GeoIPDBPath string `env:"LFA_GEOIP_DB_PATH"` // Path to GeoLite2-City.mmdb file

	// Chain adapter configuration
	ChainBaseURL  string `env:"LFA_CHAIN_BASE_URL"`                    // Profile store REST endpoint
	CheckProfiles bool   `env:"LFA_CHECK_PROFILES" envDefault:"false"` // Verify profile existence on ingest

	// Retention windows in days
	RetentionViews    int `env:"LFA_RETENTION_VIEWS" envDefault:"90"`
	RetentionClicks   int `env:"LFA_RETENTION_CLICKS" envDefault:"90"`
	RetentionSessions int `env:"LFA_RETENTION_SESSIONS" envDefault:"30"`

	// Realtime configuration
	HeartbeatSeconds int  `env:"LFA_HEARTBEAT_SECONDS" envDefault:"30"`
	RealtimeDurable  bool `env:"LFA_REALTIME_DURABLE" envDefault:"false"`

	// Rate limiting (per client IP)
	RateLimitWindow int `env:"LFA_RATE_LIMIT_WINDOW" envDefault:"60"` // Window in seconds
	RateLimitMax    int `env:"LFA_RATE_LIMIT_MAX" envDefault:"600"`   // Max requests per window

	// CORS
	CORSOrigins []string `env:"LFA_CORS_ORIGINS" envSeparator:","`
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// UseRedisCache returns true if Redis caching is configured.
func (c Config) UseRedisCache() bool {
	return c.RedisURL != ""
}

// GeoIPEnabled returns true if the GeoIP database is configured.
func (c Config) GeoIPEnabled() bool {
	return c.GeoIPDBPath != ""
}

// CacheTTLDuration returns the report cache TTL as a duration.
func (c Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// HeartbeatInterval returns the realtime heartbeat interval.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// Load parses environment variables and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("LFA_CACHE_TTL must be positive, got %d", cfg.CacheTTL)
	}
	for name, days := range map[string]int{
		"LFA_RETENTION_VIEWS":    cfg.RetentionViews,
		"LFA_RETENTION_CLICKS":   cfg.RetentionClicks,
		"LFA_RETENTION_SESSIONS": cfg.RetentionSessions,
	} {
		if days <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", name, days)
		}
	}
	if cfg.CheckProfiles && cfg.ChainBaseURL == "" {
		return nil, fmt.Errorf("LFA_CHECK_PROFILES requires LFA_CHAIN_BASE_URL")
	}

	return cfg, nil
}
