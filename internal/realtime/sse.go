// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sseInterval = 5 * time.Second

// ServeSSE streams analytics:realtime payloads for one profile as
// Server-Sent Events until the client disconnects. The first event is sent
// immediately, then every 5 seconds.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, profileID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	exists, err := h.chain.ProfileExists(r.Context(), profileID)
	if err != nil {
		h.logger.Debug("profile probe failed on sse, allowing", "profile_id", profileID, "error", err)
	} else if !exists {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func() bool {
		stats, err := h.stats.RealTimeStats(r.Context(), profileID)
		if err != nil {
			h.logger.Warn("sse snapshot failed", "profile_id", profileID, "error", err)
			return true
		}
		payload, err := json.Marshal(Message{
			Type:      TypeRealtime,
			ProfileID: profileID,
			Data:      stats,
			Timestamp: time.Now().UnixMilli(),
		})
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(sseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
