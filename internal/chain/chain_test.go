// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package chain_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linkfolio/analytics/internal/cache"
	"github.com/linkfolio/analytics/internal/chain"
)

func newProfileStore(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch r.URL.Path {
		case "/profiles/P1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"P1","viewCount":42,"verified":true,"links":[{"title":"Blog","url":"https://example.com"}]}`))
		case "/profiles/broken":
			w.WriteHeader(http.StatusInternalServerError)
		case "/profiles/no-id":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"viewCount":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClientGetProfile(t *testing.T) {
	srv := newProfileStore(t, nil)
	client := chain.NewHTTPClient(srv.URL)
	ctx := context.Background()

	profile, err := client.GetProfile(ctx, "P1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile == nil || profile.ID != "P1" || profile.ViewCount != 42 || !profile.Verified {
		t.Errorf("profile = %+v", profile)
	}
	if len(profile.Links) != 1 || profile.Links[0].Title != "Blog" {
		t.Errorf("links = %+v", profile.Links)
	}

	// 404 means definitely absent, not an error.
	profile, err = client.GetProfile(ctx, "ghost")
	if err != nil || profile != nil {
		t.Errorf("missing profile = %+v, %v; want nil, nil", profile, err)
	}

	// 5xx means unknown.
	if _, err := client.GetProfile(ctx, "broken"); err == nil {
		t.Error("expected an error for a 500 response")
	}

	// A response without an id gets the requested one filled in.
	profile, err = client.GetProfile(ctx, "no-id")
	if err != nil || profile.ID != "no-id" {
		t.Errorf("profile = %+v, %v; want id backfilled", profile, err)
	}
}

func TestHTTPClientProfileExists(t *testing.T) {
	srv := newProfileStore(t, nil)
	client := chain.NewHTTPClient(srv.URL)
	ctx := context.Background()

	exists, err := client.ProfileExists(ctx, "P1")
	if err != nil || !exists {
		t.Errorf("ProfileExists(P1) = %v, %v; want true", exists, err)
	}
	exists, err = client.ProfileExists(ctx, "ghost")
	if err != nil || exists {
		t.Errorf("ProfileExists(ghost) = %v, %v; want false", exists, err)
	}
	if _, err := client.ProfileExists(ctx, "broken"); err == nil {
		t.Error("expected an error when the store is failing")
	}
}

func TestHTTPClientTransportError(t *testing.T) {
	srv := newProfileStore(t, nil)
	srv.Close()

	client := chain.NewHTTPClient(srv.URL)
	if _, err := client.ProfileExists(context.Background(), "P1"); err == nil {
		t.Error("expected a transport error after the server closed")
	}
}

func TestNopClient(t *testing.T) {
	var client chain.NopClient
	exists, err := client.ProfileExists(context.Background(), "anything")
	if err != nil || !exists {
		t.Errorf("NopClient.ProfileExists = %v, %v; want true", exists, err)
	}
	profile, err := client.GetProfile(context.Background(), "anything")
	if err != nil || profile != nil {
		t.Errorf("NopClient.GetProfile = %+v, %v; want nil, nil", profile, err)
	}
}

func TestCachedClientMemoizesPositiveProbes(t *testing.T) {
	var hits atomic.Int64
	srv := newProfileStore(t, &hits)

	mem := cache.NewMemoryCache(time.Hour)
	t.Cleanup(func() { _ = mem.Close() })
	client := chain.NewCachedClient(chain.NewHTTPClient(srv.URL), mem)
	ctx := context.Background()

	for j := 0; j < 3; j++ {
		exists, err := client.ProfileExists(ctx, "P1")
		if err != nil || !exists {
			t.Fatalf("ProfileExists = %v, %v", exists, err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("upstream probed %d times, want 1", n)
	}

	// Negative probes are not cached; each call reaches upstream.
	hits.Store(0)
	for j := 0; j < 2; j++ {
		exists, err := client.ProfileExists(ctx, "ghost")
		if err != nil || exists {
			t.Fatalf("ProfileExists(ghost) = %v, %v", exists, err)
		}
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("upstream probed %d times for a missing profile, want 2", n)
	}
}
