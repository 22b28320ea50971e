// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package aggregate recomputes the per-day rollup tables from raw events.
// Every rollup write replaces the previous values for its key, so a rerun
// over the same day converges instead of double counting.
package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/linkfolio/analytics/internal/enrich"
	"github.com/linkfolio/analytics/internal/store"
)

// Aggregator owns the rollup SQL. It reads raw tables and writes the five
// *_stats tables.
type Aggregator struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates an aggregator over the analytics database.
func New(db *sql.DB, logger *slog.Logger) *Aggregator {
	return &Aggregator{db: db, logger: logger}
}

// dayRange returns the stored-format bounds [start, end) of a UTC day.
func dayRange(day time.Time) (date, start, end string) {
	midnight := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return store.DateOf(midnight), store.FormatTime(midnight), store.FormatTime(midnight.Add(24 * time.Hour))
}

// RunYesterday rolls up the previous UTC day; this is the nightly job.
func (a *Aggregator) RunYesterday(ctx context.Context) error {
	return a.RunForDate(ctx, time.Now().UTC().AddDate(0, 0, -1))
}

// RunForDate rolls up one UTC day for every profile with activity that day.
// Per-profile failures are logged and skipped; the run only fails as a whole
// when the profile scan itself fails or every profile errors.
func (a *Aggregator) RunForDate(ctx context.Context, day time.Time) error {
	date, start, end := dayRange(day)

	profiles, err := a.activeProfiles(ctx, start, end)
	if err != nil {
		return fmt.Errorf("scanning active profiles: %w", err)
	}
	if len(profiles) == 0 {
		a.logger.Debug("no activity to aggregate", "date", date)
		return nil
	}

	workers := min(32, 2*runtime.GOMAXPROCS(0))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, profileID := range profiles {
		wg.Add(1)
		sem <- struct{}{}
		go func(profileID string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := a.aggregateProfile(ctx, profileID, date, start, end); err != nil {
				a.logger.Error("profile rollup failed", "profile_id", profileID, "date", date, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(profileID)
	}
	wg.Wait()

	a.logger.Info("daily aggregation complete",
		"date", date, "profiles", len(profiles), "failed", failed)
	if failed == len(profiles) {
		return fmt.Errorf("aggregation failed for all %d profiles on %s", failed, date)
	}
	return nil
}

// Backfill rolls up every day in [from, to], inclusive, oldest first.
func (a *Aggregator) Backfill(ctx context.Context, from, to time.Time) error {
	for day := from.UTC().Truncate(24 * time.Hour); !day.After(to.UTC()); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.RunForDate(ctx, day); err != nil {
			return fmt.Errorf("backfill %s: %w", store.DateOf(day), err)
		}
	}
	return nil
}

// activeProfiles lists distinct profiles that saw any view, click or new
// session inside the window.
func (a *Aggregator) activeProfiles(ctx context.Context, start, end string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT profile_id FROM profile_views WHERE created_at >= ? AND created_at < ?
		UNION
		SELECT profile_id FROM link_clicks WHERE created_at >= ? AND created_at < ?
		UNION
		SELECT profile_id FROM sessions WHERE start_time >= ? AND start_time < ?
	`, start, end, start, end, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var profiles []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		profiles = append(profiles, id)
	}
	return profiles, rows.Err()
}

func (a *Aggregator) aggregateProfile(ctx context.Context, profileID, date, start, end string) error {
	if err := a.rollupDaily(ctx, profileID, date, start, end); err != nil {
		return fmt.Errorf("daily: %w", err)
	}
	if err := a.rollupLinks(ctx, profileID, date, start, end); err != nil {
		return fmt.Errorf("links: %w", err)
	}
	if err := a.rollupGeo(ctx, profileID, date, start, end); err != nil {
		return fmt.Errorf("geo: %w", err)
	}
	if err := a.rollupDevices(ctx, profileID, date, start, end); err != nil {
		return fmt.Errorf("devices: %w", err)
	}
	if err := a.rollupReferrers(ctx, profileID, date, start, end); err != nil {
		return fmt.Errorf("referrers: %w", err)
	}
	return nil
}

// rollupDaily recomputes the daily_stats row. Sessions are attributed to
// the day they started; a bounce is a session that never got past a single
// page view.
func (a *Aggregator) rollupDaily(ctx context.Context, profileID, date, start, end string) error {
	var views, uniqueViews int64
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT session_id)
		FROM profile_views
		WHERE profile_id = ? AND created_at >= ? AND created_at < ?
	`, profileID, start, end).Scan(&views, &uniqueViews)
	if err != nil {
		return err
	}

	var clicks, uniqueClicks int64
	err = a.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT session_id)
		FROM link_clicks
		WHERE profile_id = ? AND created_at >= ? AND created_at < ?
	`, profileID, start, end).Scan(&clicks, &uniqueClicks)
	if err != nil {
		return err
	}

	var sessions, bounced int64
	var avgDuration sql.NullFloat64
	err = a.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN page_views <= 1 THEN 1 ELSE 0 END), 0),
		       AVG(duration)
		FROM sessions
		WHERE profile_id = ? AND start_time >= ? AND start_time < ?
	`, profileID, start, end).Scan(&sessions, &bounced, &avgDuration)
	if err != nil {
		return err
	}

	var bounceRate sql.NullFloat64
	if sessions > 0 {
		bounceRate = sql.NullFloat64{Float64: 100 * float64(bounced) / float64(sessions), Valid: true}
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO daily_stats (
			profile_id, date, views, unique_views, clicks, unique_clicks,
			sessions, avg_duration, bounce_rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, date) DO UPDATE SET
			views         = excluded.views,
			unique_views  = excluded.unique_views,
			clicks        = excluded.clicks,
			unique_clicks = excluded.unique_clicks,
			sessions      = excluded.sessions,
			avg_duration  = excluded.avg_duration,
			bounce_rate   = excluded.bounce_rate
	`, profileID, date, views, uniqueViews, clicks, uniqueClicks, sessions, avgDuration, bounceRate)
	return err
}

// rollupLinks recomputes link_stats. The title and URL of a link come from
// its most recent click that day; an empty title is stored as "Untitled".
// CTR is clicks over the profile's day views, as a percentage.
func (a *Aggregator) rollupLinks(ctx context.Context, profileID, date, start, end string) error {
	var dayViews int64
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM profile_views
		WHERE profile_id = ? AND created_at >= ? AND created_at < ?
	`, profileID, start, end).Scan(&dayViews)
	if err != nil {
		return err
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT link_index,
		       COUNT(*),
		       COUNT(DISTINCT session_id),
		       (SELECT link_title FROM link_clicks lc2
		        WHERE lc2.profile_id = lc.profile_id AND lc2.link_index = lc.link_index
		          AND lc2.created_at >= ? AND lc2.created_at < ?
		        ORDER BY lc2.id DESC LIMIT 1),
		       (SELECT link_url FROM link_clicks lc2
		        WHERE lc2.profile_id = lc.profile_id AND lc2.link_index = lc.link_index
		          AND lc2.created_at >= ? AND lc2.created_at < ?
		        ORDER BY lc2.id DESC LIMIT 1)
		FROM link_clicks lc
		WHERE profile_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY link_index
	`, start, end, start, end, profileID, start, end)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	type linkRow struct {
		index         int
		clicks        int64
		uniqueClicks  int64
		title, urlStr string
	}
	var links []linkRow
	for rows.Next() {
		var lr linkRow
		if err := rows.Scan(&lr.index, &lr.clicks, &lr.uniqueClicks, &lr.title, &lr.urlStr); err != nil {
			return err
		}
		links = append(links, lr)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, lr := range links {
		title := lr.title
		if title == "" {
			title = "Untitled"
		}
		var ctr float64
		if dayViews > 0 {
			ctr = 100 * float64(lr.clicks) / float64(dayViews)
		}
		_, err := a.db.ExecContext(ctx, `
			INSERT INTO link_stats (
				profile_id, link_index, date, link_title, link_url,
				clicks, unique_clicks, ctr
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(profile_id, link_index, date) DO UPDATE SET
				link_title    = excluded.link_title,
				link_url      = excluded.link_url,
				clicks        = excluded.clicks,
				unique_clicks = excluded.unique_clicks,
				ctr           = excluded.ctr
		`, profileID, lr.index, date, title, lr.urlStr, lr.clicks, lr.uniqueClicks, ctr)
		if err != nil {
			return err
		}
	}
	return nil
}

// rollupGeo recomputes geo_stats. Events without a resolved country are
// left out of the table; the daily totals still include them.
func (a *Aggregator) rollupGeo(ctx context.Context, profileID, date, start, end string) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO geo_stats (profile_id, country, city, region, date, views, clicks)
		SELECT ?, country, city, MAX(region), ?, SUM(v), SUM(c)
		FROM (
			SELECT country, city, region, 1 AS v, 0 AS c FROM profile_views
			WHERE profile_id = ? AND created_at >= ? AND created_at < ? AND country != ''
			UNION ALL
			SELECT country, city, region, 0, 1 FROM link_clicks
			WHERE profile_id = ? AND created_at >= ? AND created_at < ? AND country != ''
		)
		GROUP BY country, city
		ON CONFLICT(profile_id, country, city, date) DO UPDATE SET
			region = excluded.region,
			views  = excluded.views,
			clicks = excluded.clicks
	`, profileID, date, profileID, start, end, profileID, start, end)
	return err
}

// rollupDevices recomputes device_stats, keyed by (type, browser, os).
func (a *Aggregator) rollupDevices(ctx context.Context, profileID, date, start, end string) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO device_stats (profile_id, device_type, browser, os, date, views, clicks)
		SELECT ?, device_type, browser, os, ?, SUM(v), SUM(c)
		FROM (
			SELECT device_type, browser, os, 1 AS v, 0 AS c FROM profile_views
			WHERE profile_id = ? AND created_at >= ? AND created_at < ? AND device_type != ''
			UNION ALL
			SELECT device_type, browser, os, 0, 1 FROM link_clicks
			WHERE profile_id = ? AND created_at >= ? AND created_at < ? AND device_type != ''
		)
		GROUP BY device_type, browser, os
		ON CONFLICT(profile_id, device_type, browser, os, date) DO UPDATE SET
			views  = excluded.views,
			clicks = excluded.clicks
	`, profileID, date, profileID, start, end, profileID, start, end)
	return err
}

// rollupReferrers recomputes referrer_stats. Classification happens here
// rather than in SQL; the raw referrer string stays the key so nothing is
// lost, with the empty string standing for direct traffic.
func (a *Aggregator) rollupReferrers(ctx context.Context, profileID, date, start, end string) error {
	rows, err := a.db.QueryContext(ctx, `
		SELECT referrer, SUM(v), SUM(c)
		FROM (
			SELECT referrer, 1 AS v, 0 AS c FROM profile_views
			WHERE profile_id = ? AND created_at >= ? AND created_at < ?
			UNION ALL
			SELECT referrer, 0, 1 FROM link_clicks
			WHERE profile_id = ? AND created_at >= ? AND created_at < ?
		)
		GROUP BY referrer
	`, profileID, start, end, profileID, start, end)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	type refRow struct {
		referrer      string
		views, clicks int64
	}
	var refs []refRow
	for rows.Next() {
		var rr refRow
		if err := rows.Scan(&rr.referrer, &rr.views, &rr.clicks); err != nil {
			return err
		}
		refs = append(refs, rr)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, rr := range refs {
		_, err := a.db.ExecContext(ctx, `
			INSERT INTO referrer_stats (profile_id, referrer, date, referrer_type, views, clicks)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(profile_id, referrer, date) DO UPDATE SET
				referrer_type = excluded.referrer_type,
				views         = excluded.views,
				clicks        = excluded.clicks
		`, profileID, rr.referrer, date, enrich.ClassifyReferrer(rr.referrer), rr.views, rr.clicks)
		if err != nil {
			return err
		}
	}
	return nil
}
