// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package realtime fans live analytics out to subscribed dashboards over
// WebSocket and SSE connections.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linkfolio/analytics/internal/chain"
)

// Stats is the live tuple pushed to dashboards.
type Stats struct {
	ActiveUsers  int64 `json:"activeUsers"`
	RecentViews  int64 `json:"recentViews"`
	RecentClicks int64 `json:"recentClicks"`
}

// StatsProvider supplies fresh live tuples; implemented by the query service.
type StatsProvider interface {
	RealTimeStats(ctx context.Context, profileID string) (Stats, error)
}

// Message is the JSON envelope of the realtime protocol, both directions.
type Message struct {
	Type        string `json:"type"`
	ProfileID   string `json:"profileId,omitempty"`
	Data        any    `json:"data,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	Message     string `json:"message,omitempty"`
	Code        string `json:"code,omitempty"`
	Connections int    `json:"connections,omitempty"`
}

// Client → server message types.
const (
	TypeSubscribe   = "subscribe:profile"
	TypeUnsubscribe = "unsubscribe:profile"
	TypePing        = "ping"
)

// Server → client message types.
const (
	TypeRealtime  = "analytics:realtime"
	TypeNewView   = "analytics:new_view"
	TypeNewClick  = "analytics:new_click"
	TypePong      = "pong"
	TypeHeartbeat = "heartbeat"
	TypeError     = "error"
)

// Error codes sent to clients.
const (
	CodeProfileNotFound   = "PROFILE_NOT_FOUND"
	CodeSubscriptionError = "SUBSCRIPTION_ERROR"
)

// subscriberBuffer bounds the per-subscriber outbound queue. A full queue
// drops the newest message and flags the subscriber for disconnect; the
// ingest path must never block on a slow socket.
const subscriberBuffer = 32

const snapshotInterval = 10 * time.Second

// Subscriber is one connected dashboard.
type Subscriber struct {
	send     chan Message
	profiles map[string]struct{} // guarded by the hub mutex
	slow     atomic.Bool
}

func newSubscriber() *Subscriber {
	return &Subscriber{
		send:     make(chan Message, subscriberBuffer),
		profiles: make(map[string]struct{}),
	}
}

// Outbound returns the channel the connection pump drains.
func (s *Subscriber) Outbound() <-chan Message { return s.send }

// Slow reports whether the subscriber overflowed its queue and should be
// disconnected.
func (s *Subscriber) Slow() bool { return s.slow.Load() }

// enqueue delivers without blocking; on overflow the message is dropped
// and the subscriber flagged.
func (s *Subscriber) enqueue(msg Message) {
	select {
	case s.send <- msg:
	default:
		s.slow.Store(true)
	}
}

// Hub tracks subscribers keyed by profileId and drives the periodic pushes.
type Hub struct {
	stats     StatsProvider
	chain     chain.Client
	logger    *slog.Logger
	heartbeat time.Duration

	// mu guards the two maps. It is held only for structural changes and
	// listener snapshots, never across a channel send or socket write.
	mu    sync.RWMutex
	subs  map[string]map[*Subscriber]struct{}
	conns map[*Subscriber]struct{}
}

// NewHub creates a hub. The heartbeat interval defaults to 30 s.
func NewHub(stats StatsProvider, chainClient chain.Client, logger *slog.Logger, heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		stats:     stats,
		chain:     chainClient,
		logger:    logger,
		heartbeat: heartbeat,
		subs:      make(map[string]map[*Subscriber]struct{}),
		conns:     make(map[*Subscriber]struct{}),
	}
}

// Register adds a connection to the hub and returns its subscriber handle.
func (h *Hub) Register() *Subscriber {
	sub := newSubscriber()
	h.mu.Lock()
	h.conns[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unregister removes a connection and all of its profile subscriptions.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	for profileID := range sub.profiles {
		if set, ok := h.subs[profileID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, profileID)
			}
		}
	}
	sub.profiles = make(map[string]struct{})
	delete(h.conns, sub)
	h.mu.Unlock()
}

// Subscribe attaches a subscriber to a profile stream. The profile is
// verified against the chain first; a definite "does not exist" is
// rejected, a probe failure is treated as unknown and allowed so chain
// outages do not darken dashboards.
func (h *Hub) Subscribe(ctx context.Context, sub *Subscriber, profileID string) {
	if profileID == "" {
		sub.enqueue(Message{
			Type:      TypeError,
			Message:   "profileId is required",
			Code:      CodeSubscriptionError,
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}

	exists, err := h.chain.ProfileExists(ctx, profileID)
	if err != nil {
		h.logger.Debug("profile probe failed on subscribe, allowing", "profile_id", profileID, "error", err)
	} else if !exists {
		sub.enqueue(Message{
			Type:      TypeError,
			Message:   "profile not found: " + profileID,
			Code:      CodeProfileNotFound,
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}

	h.mu.Lock()
	if _, ok := h.subs[profileID]; !ok {
		h.subs[profileID] = make(map[*Subscriber]struct{})
	}
	h.subs[profileID][sub] = struct{}{}
	sub.profiles[profileID] = struct{}{}
	h.mu.Unlock()

	// Initial snapshot so the dashboard renders immediately.
	h.pushSnapshot(ctx, profileID, sub)
}

// Unsubscribe detaches a subscriber from a profile stream.
func (h *Hub) Unsubscribe(sub *Subscriber, profileID string) {
	h.mu.Lock()
	if set, ok := h.subs[profileID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, profileID)
		}
	}
	delete(sub.profiles, profileID)
	h.mu.Unlock()
}

// PublishEvent pushes a per-event notification to the profile's
// subscribers. Called by ingest strictly after the store write commits.
func (h *Hub) PublishEvent(kind, profileID string, data any) {
	msgType := TypeNewView
	if kind == "click" {
		msgType = TypeNewClick
	}
	h.broadcast(profileID, Message{
		Type:      msgType,
		ProfileID: profileID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// ConnectionCount returns the number of connected subscribers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Run drives the periodic snapshot and heartbeat pushes until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	snapshots := time.NewTicker(snapshotInterval)
	heartbeats := time.NewTicker(h.heartbeat)
	defer snapshots.Stop()
	defer heartbeats.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-snapshots.C:
			h.pushAllSnapshots(ctx)
		case <-heartbeats.C:
			h.pushHeartbeat()
		}
	}
}

// subscribedProfiles snapshots the profile ids with at least one listener.
func (h *Hub) subscribedProfiles() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	profiles := make([]string, 0, len(h.subs))
	for profileID := range h.subs {
		profiles = append(profiles, profileID)
	}
	return profiles
}

func (h *Hub) pushAllSnapshots(ctx context.Context) {
	for _, profileID := range h.subscribedProfiles() {
		stats, err := h.stats.RealTimeStats(ctx, profileID)
		if err != nil {
			h.logger.Warn("realtime snapshot failed", "profile_id", profileID, "error", err)
			continue
		}
		h.broadcast(profileID, Message{
			Type:      TypeRealtime,
			ProfileID: profileID,
			Data:      stats,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (h *Hub) pushSnapshot(ctx context.Context, profileID string, sub *Subscriber) {
	stats, err := h.stats.RealTimeStats(ctx, profileID)
	if err != nil {
		h.logger.Warn("initial snapshot failed", "profile_id", profileID, "error", err)
		sub.enqueue(Message{
			Type:      TypeError,
			Message:   "failed to load analytics",
			Code:      CodeSubscriptionError,
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}
	sub.enqueue(Message{
		Type:      TypeRealtime,
		ProfileID: profileID,
		Data:      stats,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *Hub) pushHeartbeat() {
	h.mu.RLock()
	listeners := make([]*Subscriber, 0, len(h.conns))
	for sub := range h.conns {
		listeners = append(listeners, sub)
	}
	count := len(listeners)
	h.mu.RUnlock()

	msg := Message{
		Type:        TypeHeartbeat,
		Timestamp:   time.Now().UnixMilli(),
		Connections: count,
	}
	for _, sub := range listeners {
		sub.enqueue(msg)
	}
}

// broadcast snapshots the listener set under the read lock, then enqueues
// outside of it.
func (h *Hub) broadcast(profileID string, msg Message) {
	h.mu.RLock()
	set := h.subs[profileID]
	listeners := make([]*Subscriber, 0, len(set))
	for sub := range set {
		listeners = append(listeners, sub)
	}
	h.mu.RUnlock()

	for _, sub := range listeners {
		sub.enqueue(msg)
	}
}
