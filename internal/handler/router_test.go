// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/linkfolio/analytics/internal/cache"
	"github.com/linkfolio/analytics/internal/chain"
	"github.com/linkfolio/analytics/internal/enrich"
	"github.com/linkfolio/analytics/internal/handler"
	"github.com/linkfolio/analytics/internal/ingest"
	"github.com/linkfolio/analytics/internal/query"
	"github.com/linkfolio/analytics/internal/realtime"
	"github.com/linkfolio/analytics/internal/store"
	"github.com/linkfolio/analytics/internal/testutil"
)

func newTestRouter(t *testing.T, rateMax int) http.Handler {
	t.Helper()
	db := testutil.TestDB(t)
	logger := testutil.TestLogger()

	mem := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { _ = mem.Close() })

	geo := enrich.NewGeoLookup()
	if err := geo.Init(""); err != nil {
		t.Fatal(err)
	}

	querySvc := query.NewService(db, mem, logger, time.Minute)
	hub := realtime.NewHub(querySvc, chain.NopClient{}, logger, 0)
	ingestSvc := ingest.NewService(store.New(db), enrich.NewEnricher(geo), nil, hub, logger, ingest.Options{})

	return handler.NewRouter(handler.Deps{
		Ingest:      ingestSvc,
		Query:       querySvc,
		Hub:         hub,
		WS:          realtime.NewWSServer(hub, logger, nil),
		Logger:      logger,
		RateWindow:  time.Minute,
		RateMax:     rateMax,
		CORSOrigins: []string{"https://app.example.com"},
	})
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding %s: %v", rec.Body.String(), err)
	}
	if !envelope.Success {
		t.Fatalf("success=false in %s", rec.Body.String())
	}
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding %s: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, 100)
	rec := get(router, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestTrackViewEndpoint(t *testing.T) {
	router := newTestRouter(t, 100)

	rec := postJSON(t, router, "/api/track/view", map[string]any{"profileId": "P1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["viewId"] == nil {
		t.Error("missing viewId in response")
	}
	sessionID, _ := data["sessionId"].(string)
	if _, err := uuid.Parse(sessionID); err != nil {
		t.Errorf("sessionId %q is not a UUID", sessionID)
	}

	// The session is then fetchable.
	rec = get(router, "/api/track/session/"+sessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetSession status = %d", rec.Code)
	}
	session := decodeData(t, rec)
	if session["pageViews"] != float64(1) {
		t.Errorf("pageViews = %v, want 1", session["pageViews"])
	}
}

func TestTrackViewValidationError(t *testing.T) {
	router := newTestRouter(t, 100)

	rec := postJSON(t, router, "/api/track/view", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeError(t, rec)
	if body["error"] != "validation" {
		t.Errorf("error token = %v, want validation", body["error"])
	}
	if body["statusCode"] != float64(400) || body["path"] != "/api/track/view" || body["method"] != "POST" {
		t.Errorf("error shape = %v", body)
	}
	if body["timestamp"] == nil {
		t.Error("missing timestamp")
	}
	fields, _ := body["fields"].([]any)
	if len(fields) != 1 || fields[0] != "profileId" {
		t.Errorf("fields = %v, want [profileId]", body["fields"])
	}
}

func TestTrackViewMalformedBody(t *testing.T) {
	router := newTestRouter(t, 100)

	req := httptest.NewRequest(http.MethodPost, "/api/track/view", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTrackClickEndpoint(t *testing.T) {
	router := newTestRouter(t, 100)

	rec := postJSON(t, router, "/api/track/click", map[string]any{
		"profileId": "P1",
		"linkIndex": 2,
		"linkTitle": "Blog",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if data := decodeData(t, rec); data["clickId"] == nil {
		t.Error("missing clickId")
	}
}

func TestBatchViewsEndpoint(t *testing.T) {
	router := newTestRouter(t, 100)

	rec := postJSON(t, router, "/api/track/batch/views", map[string]any{
		"views": []map[string]any{{"profileId": "P1"}, {"profileId": "P2"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if data := decodeData(t, rec); data["trackedCount"] != float64(2) {
		t.Errorf("trackedCount = %v, want 2", data["trackedCount"])
	}
}

func TestEndSessionEndpoint(t *testing.T) {
	router := newTestRouter(t, 100)

	rec := postJSON(t, router, "/api/track/view", map[string]any{"profileId": "P1"})
	sessionID := decodeData(t, rec)["sessionId"].(string)

	rec = postJSON(t, router, "/api/track/session/end", map[string]any{"sessionId": sessionID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if data := decodeData(t, rec); data["ended"] != true {
		t.Errorf("data = %v, want ended=true", data)
	}

	rec = postJSON(t, router, "/api/track/session/end", map[string]any{"sessionId": uuid.NewString()})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	router := newTestRouter(t, 100)

	rec := get(router, "/api/track/session/"+uuid.NewString())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeError(t, rec); body["error"] != "not_found" {
		t.Errorf("error token = %v, want not_found", body["error"])
	}
}

func TestAnalyticsProfileEndpoint(t *testing.T) {
	router := newTestRouter(t, 100)

	rec := postJSON(t, router, "/api/track/view", map[string]any{"profileId": "P1"})
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}

	rec = get(router, "/api/analytics/profile/P1?period=7d")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["profileViews"] != float64(1) {
		t.Errorf("profileViews = %v, want 1", data["profileViews"])
	}
	if data["period"] != "day" {
		t.Errorf("period = %v, want day", data["period"])
	}

	rec = get(router, "/api/analytics/profile/P1?period=yearly")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad period status = %d, want 400", rec.Code)
	}
}

func TestAnalyticsRealtimeEndpoint(t *testing.T) {
	router := newTestRouter(t, 100)

	rec := postJSON(t, router, "/api/track/view", map[string]any{"profileId": "P1"})
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}

	rec = get(router, "/api/analytics/profile/P1/realtime")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["activeUsers"] != float64(1) || data["recentViews"] != float64(1) {
		t.Errorf("realtime stats = %v", data)
	}
}

func TestRateLimit(t *testing.T) {
	router := newTestRouter(t, 3)

	var last *httptest.ResponseRecorder
	for j := 0; j < 4; j++ {
		last = get(router, "/healthz")
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if body := decodeError(t, last); body["error"] != "rate_limited" {
		t.Errorf("error token = %v, want rate_limited", body["error"])
	}
}

func TestRateLimitIsPerIP(t *testing.T) {
	router := newTestRouter(t, 2)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = fmt.Sprintf("203.0.113.%d:1234", i)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request from distinct ip %d got %d", i, rec.Code)
		}
	}
}

func TestCORS(t *testing.T) {
	router := newTestRouter(t, 100)

	req := httptest.NewRequest(http.MethodOptions, "/api/track/view", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	// Unlisted origins get no CORS headers.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unlisted origin = %q, want empty", got)
	}
}
