// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/linkfolio/analytics/internal/ingest"
	"github.com/linkfolio/analytics/internal/query"
	"github.com/linkfolio/analytics/internal/realtime"
)

// Deps collects everything the router wires together.
type Deps struct {
	Ingest *ingest.Service
	Query  *query.Service
	Hub    *realtime.Hub
	WS     *realtime.WSServer
	Logger *slog.Logger

	RateWindow  time.Duration
	RateMax     int
	CORSOrigins []string
}

// NewRouter builds the chi mux with the full API surface.
func NewRouter(deps Deps) *chi.Mux {
	track := NewTrackHandler(deps.Ingest, deps.Logger)
	analytics := NewAnalyticsHandler(deps.Query, deps.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(deps.Logger))
	r.Use(CORS(deps.CORSOrigins))
	r.Use(RateLimit(deps.RateWindow, deps.RateMax))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/track", func(r chi.Router) {
		r.Post("/view", track.View)
		r.Post("/click", track.Click)
		r.Post("/batch/views", track.BatchViews)
		r.Post("/session/end", track.EndSession)
		r.Get("/session/{sessionId}", track.GetSession)
	})

	r.Route("/api/analytics", func(r chi.Router) {
		r.Get("/profile/{profileId}", analytics.Profile)
		r.Get("/profile/{profileId}/summary", analytics.Summary)
		r.Get("/profile/{profileId}/realtime", analytics.Realtime)
		r.Get("/links/{profileId}", analytics.Links)
		r.Get("/geo/{profileId}", analytics.Geo)
	})

	r.Get("/api/realtime/stream/{profileId}", func(w http.ResponseWriter, r *http.Request) {
		deps.Hub.ServeSSE(w, r, chi.URLParam(r, "profileId"))
	})
	r.Get("/api/realtime/ws", deps.WS.ServeHTTP)

	return r
}
