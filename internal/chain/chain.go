// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package chain adapts the on-chain profile store. The service only reads
// from it; a failed probe means "unknown", never "does not exist".
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Profile is the subset of the on-chain profile object this service reads.
type Profile struct {
	ID           string `json:"id"`
	ViewCount    int64  `json:"viewCount"`
	Links        []Link `json:"links"`
	Verified     bool   `json:"verified"`
	Owner        string `json:"owner"`
	WalrusSiteID string `json:"walrusSiteId"`
}

// Link is one entry on a profile page.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Client reads profile objects from the chain indexer.
type Client interface {
	// ProfileExists reports whether a profile is present on-chain.
	// An error means the answer is unknown, not that the profile is absent.
	ProfileExists(ctx context.Context, profileID string) (bool, error)

	// GetProfile returns a profile, or nil when it does not exist.
	GetProfile(ctx context.Context, profileID string) (*Profile, error)
}

const requestTimeout = 10 * time.Second

// HTTPClient talks to the profile store's REST endpoint.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a chain client for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// GetProfile fetches one profile. A 404 yields (nil, nil); transport
// errors and 5xx responses yield an error.
func (c *HTTPClient) GetProfile(ctx context.Context, profileID string) (*Profile, error) {
	endpoint := c.baseURL + "/profiles/" + url.PathEscape(profileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("profile store returned status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("parsing profile response: %w", err)
	}
	if profile.ID == "" {
		profile.ID = profileID
	}
	return &profile, nil
}

// ProfileExists reports presence via GetProfile.
func (c *HTTPClient) ProfileExists(ctx context.Context, profileID string) (bool, error) {
	profile, err := c.GetProfile(ctx, profileID)
	if err != nil {
		return false, err
	}
	return profile != nil, nil
}

var _ Client = (*HTTPClient)(nil)

// NopClient is used when no chain endpoint is configured: every profile
// is treated as existing, so ingest and subscribe never reject.
type NopClient struct{}

// ProfileExists always reports true.
func (NopClient) ProfileExists(_ context.Context, _ string) (bool, error) { return true, nil }

// GetProfile always returns nil without error.
func (NopClient) GetProfile(_ context.Context, _ string) (*Profile, error) { return nil, nil }

var _ Client = NopClient{}
