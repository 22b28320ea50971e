// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxClientMessage = 1024
)

// WSServer upgrades HTTP connections and runs the hub protocol over them.
type WSServer struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSServer creates the WebSocket endpoint. allowedOrigins is the CORS
// origin allowlist; empty means same-origin plus non-browser clients.
func NewWSServer(hub *Hub, logger *slog.Logger, allowedOrigins []string) *WSServer {
	origins := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = struct{}{}
	}
	return &WSServer{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowAll {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// ServeHTTP upgrades the connection and runs the read and write pumps.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sub := s.hub.Register()
	go s.writePump(conn, sub)
	s.readPump(r, conn, sub)
}

// readPump consumes client messages until the connection drops, then
// detaches the subscriber.
func (s *WSServer) readPump(r *http.Request, conn *websocket.Conn, sub *Subscriber) {
	defer func() {
		s.hub.Unregister(sub)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			sub.enqueue(Message{
				Type:      TypeError,
				Message:   "malformed message",
				Code:      CodeSubscriptionError,
				Timestamp: time.Now().UnixMilli(),
			})
			continue
		}

		switch msg.Type {
		case TypeSubscribe:
			s.hub.Subscribe(r.Context(), sub, msg.ProfileID)
		case TypeUnsubscribe:
			s.hub.Unsubscribe(sub, msg.ProfileID)
		case TypePing:
			sub.enqueue(Message{Type: TypePong, Timestamp: time.Now().UnixMilli()})
		default:
			sub.enqueue(Message{
				Type:      TypeError,
				Message:   "unknown message type: " + msg.Type,
				Code:      CodeSubscriptionError,
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}

// writePump drains the subscriber queue onto the socket and keeps the
// connection alive with protocol-level pings. A subscriber flagged slow is
// closed rather than allowed to lag further.
func (s *WSServer) writePump(conn *websocket.Conn, sub *Subscriber) {
	pings := time.NewTicker(pingPeriod)
	defer func() {
		pings.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Outbound():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if sub.Slow() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow"),
					time.Now().Add(writeWait))
				return
			}
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
