// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/linkfolio/analytics/internal/store"
)

const (
	dispatchInterval = 500 * time.Millisecond
	dispatchBatch    = 256
)

// Dispatcher drains the durable realtime_events bus into the hub. It is
// the delivery path when durable fan-out is enabled; ingest then skips the
// direct in-process publish so events are not pushed twice.
type Dispatcher struct {
	store  *store.Store
	hub    *Hub
	logger *slog.Logger
}

// NewDispatcher creates a bus dispatcher.
func NewDispatcher(st *store.Store, hub *Hub, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: st, hub: hub, logger: logger}
}

// Run polls the bus until ctx is done. Delivery is at-least-once: rows are
// marked processed only after the broadcast.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.drain(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("realtime bus drain failed", "error", err)
			}
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) error {
	events, err := d.store.PendingRealtimeEvents(ctx, dispatchBatch)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		var envelope struct {
			Kind      string          `json:"kind"`
			ProfileID string          `json:"profileId"`
			Event     json.RawMessage `json:"event"`
		}
		if err := json.Unmarshal([]byte(ev.Payload), &envelope); err != nil {
			d.logger.Warn("skipping malformed bus row", "id", ev.ID, "error", err)
			ids = append(ids, ev.ID)
			continue
		}
		d.hub.PublishEvent(envelope.Kind, envelope.ProfileID, envelope.Event)
		ids = append(ids, ev.ID)
	}
	return d.store.MarkRealtimeEventsProcessed(ctx, ids)
}
