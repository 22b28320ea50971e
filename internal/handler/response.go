// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package handler exposes the HTTP API: ingest, query, realtime streams.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/linkfolio/analytics/internal/apperr"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// errorResponse is the API error contract.
type errorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	StatusCode int      `json:"statusCode"`
	Timestamp  string   `json:"timestamp"`
	Path       string   `json:"path"`
	Method     string   `json:"method"`
	Fields     []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data})
}

func errorToken(kind apperr.Kind) string {
	switch kind {
	case apperr.Invalid:
		return "validation"
	case apperr.NotFound:
		return "not_found"
	case apperr.Unavailable:
		return "unavailable"
	case apperr.Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// writeError renders a classified error. Internal details never reach the
// client; Unavailable responses carry a retry hint instead.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(err)

	message := "internal server error"
	var fields []string
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch kind {
		case apperr.Internal:
			// keep the generic message
		case apperr.Unavailable:
			message = appErr.Message + "; retry later"
		default:
			message = appErr.Message
		}
		fields = appErr.Fields
	}

	if kind == apperr.Internal || kind == apperr.Unavailable {
		logger.Error("request failed", "path", r.URL.Path, "method", r.Method, "error", err)
	}

	writeJSON(w, status, errorResponse{
		Error:      errorToken(kind),
		Message:    message,
		StatusCode: status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       r.URL.Path,
		Method:     r.Method,
		Fields:     fields,
	})
}

// writeRateLimited renders the 429 response in the same error shape.
func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:      "rate_limited",
		Message:    "too many requests; slow down",
		StatusCode: http.StatusTooManyRequests,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       r.URL.Path,
		Method:     r.Method,
	})
}
