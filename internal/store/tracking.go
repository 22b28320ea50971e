// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store wraps the database with typed operations for the analytics tables.
type Store struct {
	db *sql.DB
}

// New creates a Store on top of an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection pool for read-side components that
// own their aggregation SQL (aggregator, query, retention).
func (s *Store) DB() *sql.DB {
	return s.db
}

const insertProfileViewSQL = `
	INSERT INTO profile_views (
		profile_id, session_id, visitor_ip, user_agent, referrer,
		country, region, city, device_type, browser, os, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertLinkClickSQL = `
	INSERT INTO link_clicks (
		profile_id, link_index, link_title, link_url, session_id,
		visitor_ip, user_agent, referrer, country, region, city,
		device_type, browser, os, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// upsertSessionSQL creates the session on first sight of a sessionId and
// advances endTime/duration plus one of the two event counters afterwards.
// Enrichment columns are set on create only; the session keeps the
// attributes of its first event.
const upsertSessionSQL = `
	INSERT INTO sessions (
		session_id, profile_id, visitor_ip, user_agent,
		country, region, city, device_type, browser, os,
		start_time, page_views, link_clicks
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		end_time   = excluded.start_time,
		duration   = CAST(strftime('%s', excluded.start_time) AS INTEGER) -
		             CAST(strftime('%s', start_time) AS INTEGER),
		page_views = page_views + excluded.page_views,
		link_clicks = link_clicks + excluded.link_clicks`

func execUpsertSession(ctx context.Context, tx *sql.Tx, profileID, sessionID string, v *ProfileView, c *LinkClick, at time.Time, isView bool) error {
	pageViews, linkClicks := 1, 0
	if !isView {
		pageViews, linkClicks = 0, 1
	}
	var ip, ua, country, region, city, deviceType, browser, os string
	if v != nil {
		ip, ua = v.VisitorIP, v.UserAgent
		country, region, city = v.Country, v.Region, v.City
		deviceType, browser, os = v.DeviceType, v.Browser, v.OS
	} else {
		ip, ua = c.VisitorIP, c.UserAgent
		country, region, city = c.Country, c.Region, c.City
		deviceType, browser, os = c.DeviceType, c.Browser, c.OS
	}
	_, err := tx.ExecContext(ctx, upsertSessionSQL,
		sessionID, profileID, ip, ua,
		country, region, city, deviceType, browser, os,
		FormatTime(at), pageViews, linkClicks)
	return err
}

func execIncrementDaily(ctx context.Context, tx *sql.Tx, profileID, date string, views, clicks int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO daily_stats (profile_id, date, views, clicks)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(profile_id, date) DO UPDATE SET
			views  = views + excluded.views,
			clicks = clicks + excluded.clicks
	`, profileID, date, views, clicks)
	return err
}

// execIncrementLinkStats bumps the best-effort click counter for a link.
// Title and URL are set on create and never overwritten here; the
// aggregator is the source of truth for those strings.
func execIncrementLinkStats(ctx context.Context, tx *sql.Tx, c *LinkClick, date string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO link_stats (profile_id, link_index, date, link_title, link_url, clicks)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(profile_id, link_index, date) DO UPDATE SET
			clicks = clicks + 1
	`, c.ProfileID, c.LinkIndex, date, c.LinkTitle, c.LinkURL)
	return err
}

func execInsertRealtimeEvent(ctx context.Context, tx *sql.Tx, profileID, kind, payload string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO realtime_events (profile_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, profileID, kind, payload, FormatTime(at))
	return err
}

// TrackView records one view event: raw row, session upsert and daily
// counter bump in a single transaction. A non-empty durablePayload also
// enqueues a realtime_events row for the at-least-once fan-out bus.
func (s *Store) TrackView(ctx context.Context, v *ProfileView, durablePayload string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin track view: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, insertProfileViewSQL,
		v.ProfileID, v.SessionID, v.VisitorIP, v.UserAgent, v.Referrer,
		v.Country, v.Region, v.City, v.DeviceType, v.Browser, v.OS,
		FormatTime(v.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert profile view: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("view id: %w", err)
	}

	if err := execUpsertSession(ctx, tx, v.ProfileID, v.SessionID, v, nil, v.CreatedAt, true); err != nil {
		return 0, fmt.Errorf("upsert session: %w", err)
	}
	if err := execIncrementDaily(ctx, tx, v.ProfileID, DateOf(v.CreatedAt), 1, 0); err != nil {
		return 0, fmt.Errorf("increment daily views: %w", err)
	}
	if durablePayload != "" {
		if err := execInsertRealtimeEvent(ctx, tx, v.ProfileID, "view", durablePayload, v.CreatedAt); err != nil {
			return 0, fmt.Errorf("enqueue realtime event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit track view: %w", err)
	}
	return id, nil
}

// TrackClick records one click event analogously to TrackView, additionally
// bumping the per-link daily counter.
func (s *Store) TrackClick(ctx context.Context, c *LinkClick, durablePayload string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin track click: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, insertLinkClickSQL,
		c.ProfileID, c.LinkIndex, c.LinkTitle, c.LinkURL, c.SessionID,
		c.VisitorIP, c.UserAgent, c.Referrer, c.Country, c.Region, c.City,
		c.DeviceType, c.Browser, c.OS, FormatTime(c.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert link click: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("click id: %w", err)
	}

	if err := execUpsertSession(ctx, tx, c.ProfileID, c.SessionID, nil, c, c.CreatedAt, false); err != nil {
		return 0, fmt.Errorf("upsert session: %w", err)
	}
	date := DateOf(c.CreatedAt)
	if err := execIncrementDaily(ctx, tx, c.ProfileID, date, 0, 1); err != nil {
		return 0, fmt.Errorf("increment daily clicks: %w", err)
	}
	if err := execIncrementLinkStats(ctx, tx, c, date); err != nil {
		return 0, fmt.Errorf("increment link stats: %w", err)
	}
	if durablePayload != "" {
		if err := execInsertRealtimeEvent(ctx, tx, c.ProfileID, "click", durablePayload, c.CreatedAt); err != nil {
			return 0, fmt.Errorf("enqueue realtime event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit track click: %w", err)
	}
	return id, nil
}

// TrackViewBatch records a batch of view events in one transaction. The
// raw inserts are coalesced; session and daily upserts still run per event.
func (s *Store) TrackViewBatch(ctx context.Context, views []*ProfileView) ([]int64, error) {
	if len(views) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch track: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert, err := tx.PrepareContext(ctx, insertProfileViewSQL)
	if err != nil {
		return nil, fmt.Errorf("prepare batch insert: %w", err)
	}
	defer func() { _ = insert.Close() }()

	ids := make([]int64, 0, len(views))
	for _, v := range views {
		res, err := insert.ExecContext(ctx,
			v.ProfileID, v.SessionID, v.VisitorIP, v.UserAgent, v.Referrer,
			v.Country, v.Region, v.City, v.DeviceType, v.Browser, v.OS,
			FormatTime(v.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("batch insert view: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("batch view id: %w", err)
		}
		ids = append(ids, id)

		if err := execUpsertSession(ctx, tx, v.ProfileID, v.SessionID, v, nil, v.CreatedAt, true); err != nil {
			return nil, fmt.Errorf("batch upsert session: %w", err)
		}
		if err := execIncrementDaily(ctx, tx, v.ProfileID, DateOf(v.CreatedAt), 1, 0); err != nil {
			return nil, fmt.Errorf("batch increment daily: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch track: %w", err)
	}
	return ids, nil
}
