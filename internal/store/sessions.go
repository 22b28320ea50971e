// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetSession returns one session row, or sql.ErrNoRows when unknown.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, profile_id, visitor_ip, user_agent,
		       country, region, city, device_type, browser, os,
		       start_time, end_time, duration, page_views, link_clicks
		FROM sessions WHERE session_id = ?
	`, sessionID)

	var (
		sess      Session
		startTime string
		endTime   sql.NullString
		duration  sql.NullInt64
	)
	if err := row.Scan(
		&sess.SessionID, &sess.ProfileID, &sess.VisitorIP, &sess.UserAgent,
		&sess.Country, &sess.Region, &sess.City, &sess.DeviceType, &sess.Browser, &sess.OS,
		&startTime, &endTime, &duration, &sess.PageViews, &sess.LinkClicks,
	); err != nil {
		return nil, err
	}

	st, err := ParseTime(startTime)
	if err != nil {
		return nil, fmt.Errorf("parse session start: %w", err)
	}
	sess.StartTime = st
	if endTime.Valid {
		et, err := ParseTime(endTime.String)
		if err != nil {
			return nil, fmt.Errorf("parse session end: %w", err)
		}
		sess.EndTime = &et
	}
	if duration.Valid {
		d := duration.Int64
		sess.Duration = &d
	}
	return &sess, nil
}

// EndSession closes an open session at the given instant. Idempotent:
// already-closed sessions are left untouched. The bool reports whether
// the session exists at all.
func (s *Store) EndSession(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET end_time = ?,
		    duration = CAST(strftime('%s', ?) AS INTEGER) - CAST(strftime('%s', start_time) AS INTEGER)
		WHERE session_id = ? AND end_time IS NULL
	`, FormatTime(now), FormatTime(now), sessionID)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return exists > 0, nil
}

// CloseOrphanSessions closes sessions that have been open for longer than
// the inactivity window. The close time is pinned to the window edge, not
// to now, so the recorded duration never counts idle time.
func (s *Store) CloseOrphanSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := FormatTime(olderThan)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET end_time = ?,
		    duration = CAST(strftime('%s', ?) AS INTEGER) - CAST(strftime('%s', start_time) AS INTEGER)
		WHERE end_time IS NULL AND start_time < ?
	`, cutoff, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("close orphan sessions: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
