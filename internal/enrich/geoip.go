// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package enrich derives geographic and device attributes from request
// metadata. All lookups are pure from the caller's perspective: malformed
// input yields empty fields, never an error.
package enrich

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// privateCIDRs contains parsed CIDR blocks for private IP ranges.
// Initialized once at package load time.
var privateCIDRs []*net.IPNet

func init() {
	privateBlocks := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fc00::/7",  // IPv6 unique local
		"fe80::/10", // IPv6 link-local
	}

	for _, block := range privateBlocks {
		_, cidr, err := net.ParseCIDR(block)
		if err == nil {
			privateCIDRs = append(privateCIDRs, cidr)
		}
	}
}

// Geo holds the geographic attributes of a client IP.
type Geo struct {
	Country string
	Region  string
	City    string
}

// GeoLookup resolves IPs against a MaxMind GeoLite2-City database.
type GeoLookup struct {
	db          *maxminddb.Reader
	dbPath      string
	dbModTime   time.Time
	initialized bool
	enabled     bool
	mu          sync.RWMutex
}

// cityRecord matches the GeoLite2-City database structure.
type cityRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Subdivisions []struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

// NewGeoLookup creates a new GeoIP lookup instance.
func NewGeoLookup() *GeoLookup {
	return &GeoLookup{}
}

// Init initializes the GeoIP database from the given path.
// If path is empty, lookups are disabled (graceful degradation).
func (g *GeoLookup) Init(dbPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.initialized = true
	g.dbPath = dbPath

	if dbPath == "" {
		g.enabled = false
		return nil
	}

	return g.loadDatabase()
}

// loadDatabase loads or reloads the MaxMind database.
// Caller must hold g.mu write lock.
func (g *GeoLookup) loadDatabase() error {
	info, err := os.Stat(g.dbPath)
	if err != nil {
		g.enabled = false
		if os.IsNotExist(err) {
			return fmt.Errorf("GeoIP database not found: %s", g.dbPath)
		}
		return fmt.Errorf("GeoIP database stat error: %w", err)
	}

	// Skip reload if not modified
	if g.db != nil && info.ModTime().Equal(g.dbModTime) {
		return nil
	}

	if g.db != nil {
		_ = g.db.Close()
		g.db = nil
	}

	db, err := maxminddb.Open(g.dbPath)
	if err != nil {
		g.enabled = false
		return fmt.Errorf("failed to open GeoIP database: %w", err)
	}

	g.db = db
	g.dbModTime = info.ModTime()
	g.enabled = true

	return nil
}

// Reload reloads the GeoIP database if the file has been updated.
// Safe to call periodically from a cron job.
func (g *GeoLookup) Reload() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dbPath == "" {
		return nil
	}

	return g.loadDatabase()
}

// Lookup returns the geographic attributes for an IP address. Returns
// all-empty fields when the database is disabled, the IP is invalid,
// private or unknown.
func (g *GeoLookup) Lookup(ip string) Geo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.initialized || ip == "" {
		return Geo{}
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return Geo{}
	}

	if isPrivateIP(parsedIP) || parsedIP.IsLoopback() {
		return Geo{}
	}

	if !g.enabled || g.db == nil {
		return Geo{}
	}

	var record cityRecord
	if err := g.db.Lookup(parsedIP, &record); err != nil {
		return Geo{}
	}

	geo := Geo{
		Country: record.Country.ISOCode,
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		geo.Region = record.Subdivisions[0].Names["en"]
	}
	return geo
}

// IsEnabled returns whether GeoIP lookups are available.
func (g *GeoLookup) IsEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// Close closes the GeoIP database.
func (g *GeoLookup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db != nil {
		err := g.db.Close()
		g.db = nil
		g.enabled = false
		return err
	}
	return nil
}

// isPrivateIP checks if an IP address is in a private range.
func isPrivateIP(ip net.IP) bool {
	for _, cidr := range privateCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
