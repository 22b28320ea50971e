// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linkfolio/analytics/internal/apperr"
	"github.com/linkfolio/analytics/internal/ingest"
)

// TrackHandler serves the ingest endpoints.
type TrackHandler struct {
	ingest *ingest.Service
	logger *slog.Logger
}

// NewTrackHandler creates the ingest handler.
func NewTrackHandler(svc *ingest.Service, logger *slog.Logger) *TrackHandler {
	return &TrackHandler{ingest: svc, logger: logger}
}

func decodeBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, logger, apperr.Invalidf(nil, "malformed JSON body"))
		return false
	}
	return true
}

// View handles POST /api/track/view.
func (h *TrackHandler) View(w http.ResponseWriter, r *http.Request) {
	var req ingest.ViewRequest
	if !decodeBody(w, r, h.logger, &req) {
		return
	}
	req.VisitorIP = clientIP(r)
	req.UserAgent = r.UserAgent()

	result, err := h.ingest.TrackView(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"viewId":    result.ID,
		"sessionId": result.SessionID,
	})
}

// Click handles POST /api/track/click.
func (h *TrackHandler) Click(w http.ResponseWriter, r *http.Request) {
	var req ingest.ClickRequest
	if !decodeBody(w, r, h.logger, &req) {
		return
	}
	req.VisitorIP = clientIP(r)
	req.UserAgent = r.UserAgent()

	result, err := h.ingest.TrackClick(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"clickId":   result.ID,
		"sessionId": result.SessionID,
	})
}

// BatchViews handles POST /api/track/batch/views.
func (h *TrackHandler) BatchViews(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Views []ingest.ViewRequest `json:"views"`
	}
	if !decodeBody(w, r, h.logger, &req) {
		return
	}
	ip, ua := clientIP(r), r.UserAgent()
	for i := range req.Views {
		req.Views[i].VisitorIP = ip
		req.Views[i].UserAgent = ua
	}

	results, err := h.ingest.BatchTrackViews(r.Context(), req.Views)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"trackedCount": len(results),
	})
}

// EndSession handles POST /api/track/session/end.
func (h *TrackHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if !decodeBody(w, r, h.logger, &req) {
		return
	}
	if err := h.ingest.EndSession(r.Context(), req.SessionID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"ended": true})
}

// GetSession handles GET /api/track/session/{sessionId}.
func (h *TrackHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	session, err := h.ingest.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, session)
}
