// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package enrich

// Enricher bundles the two pure derivations the ingest path needs.
type Enricher struct {
	geo *GeoLookup
}

// NewEnricher creates an enricher around an initialized GeoLookup.
func NewEnricher(geo *GeoLookup) *Enricher {
	return &Enricher{geo: geo}
}

// GeoOf maps a client IP to geographic attributes. Empty input or a miss
// produces empty fields.
func (e *Enricher) GeoOf(ip string) Geo {
	if e.geo == nil {
		return Geo{}
	}
	return e.geo.Lookup(ip)
}

// DeviceOf maps a user-agent string to device attributes.
func (e *Enricher) DeviceOf(ua string) Device {
	return ParseUserAgent(ua)
}
