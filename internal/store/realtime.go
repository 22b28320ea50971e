// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"fmt"
)

// PendingRealtimeEvents returns up to limit unprocessed bus rows in
// insertion order.
func (s *Store) PendingRealtimeEvents(ctx context.Context, limit int) ([]RealtimeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, kind, payload, created_at
		FROM realtime_events
		WHERE processed = 0
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending realtime events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []RealtimeEvent
	for rows.Next() {
		var (
			ev        RealtimeEvent
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.ProfileID, &ev.Kind, &ev.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan realtime event: %w", err)
		}
		if ev.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse realtime event time: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkRealtimeEventsProcessed flags delivered bus rows.
func (s *Store) MarkRealtimeEventsProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := s.db.PrepareContext(ctx, `UPDATE realtime_events SET processed = 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare mark processed: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("mark event %d processed: %w", id, err)
		}
	}
	return nil
}
