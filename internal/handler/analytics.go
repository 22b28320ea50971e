// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linkfolio/analytics/internal/apperr"
	"github.com/linkfolio/analytics/internal/query"
)

// AnalyticsHandler serves the query endpoints.
type AnalyticsHandler struct {
	query  *query.Service
	logger *slog.Logger
}

// NewAnalyticsHandler creates the query handler.
func NewAnalyticsHandler(svc *query.Service, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{query: svc, logger: logger}
}

// rangeFromRequest resolves the query window: explicit start/end epoch
// milliseconds override the period shorthand, which defaults to 30d.
func rangeFromRequest(r *http.Request) (query.TimeRange, error) {
	q := r.URL.Query()
	startRaw, endRaw := q.Get("start"), q.Get("end")
	if startRaw != "" || endRaw != "" {
		startMs, err := strconv.ParseInt(startRaw, 10, 64)
		if err != nil {
			return query.TimeRange{}, apperr.Invalidf([]string{"start"}, "start must be epoch milliseconds")
		}
		endMs, err := strconv.ParseInt(endRaw, 10, 64)
		if err != nil {
			return query.TimeRange{}, apperr.Invalidf([]string{"end"}, "end must be epoch milliseconds")
		}
		return query.RangeFromBounds(startMs, endMs)
	}
	return query.ParsePeriodNow(q.Get("period"))
}

// Profile handles GET /api/analytics/profile/{profileId}.
func (h *AnalyticsHandler) Profile(w http.ResponseWriter, r *http.Request) {
	tr, err := rangeFromRequest(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	report, err := h.query.GetAnalytics(r.Context(), chi.URLParam(r, "profileId"), tr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

// Summary handles GET /api/analytics/profile/{profileId}/summary.
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.query.GetSummary(r.Context(), chi.URLParam(r, "profileId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

// Realtime handles GET /api/analytics/profile/{profileId}/realtime.
func (h *AnalyticsHandler) Realtime(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.RealTimeStats(r.Context(), chi.URLParam(r, "profileId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// Links handles GET /api/analytics/links/{profileId}.
func (h *AnalyticsHandler) Links(w http.ResponseWriter, r *http.Request) {
	tr, err := rangeFromRequest(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	links, err := h.query.GetLinks(r.Context(), chi.URLParam(r, "profileId"), tr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, links)
}

// Geo handles GET /api/analytics/geo/{profileId}.
func (h *AnalyticsHandler) Geo(w http.ResponseWriter, r *http.Request) {
	tr, err := rangeFromRequest(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	geo, err := h.query.GetGeo(r.Context(), chi.URLParam(r, "profileId"), tr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, geo)
}
