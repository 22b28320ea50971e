// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package query composes analytics reports from raw events and rollups,
// with a cache in front of everything except the freshness path.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linkfolio/analytics/internal/apperr"
	"github.com/linkfolio/analytics/internal/cache"
	"github.com/linkfolio/analytics/internal/enrich"
	"github.com/linkfolio/analytics/internal/realtime"
	"github.com/linkfolio/analytics/internal/store"
)

const topN = 10

// Service answers analytics queries. It reads the raw tables for the
// current day and the rollup tables for closed days.
type Service struct {
	db     *sql.DB
	cache  cache.Cache
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates the query service. ttl bounds cached reports.
func NewService(db *sql.DB, c cache.Cache, logger *slog.Logger, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{db: db, cache: c, logger: logger, ttl: ttl, now: time.Now}
}

// GetAnalytics returns the report for one profile and range, consulting the
// cache first. Cache failures are miss-equivalent and never fail the call.
func (s *Service) GetAnalytics(ctx context.Context, profileID string, tr TimeRange) (*AnalyticsReport, error) {
	if profileID == "" {
		return nil, apperr.Invalidf([]string{"profileId"}, "profileId is required")
	}

	key := fmt.Sprintf("analytics:%s:%d:%d", profileID, tr.Start.UnixMilli(), tr.End.UnixMilli())
	if payload, err := s.cache.Get(ctx, key); err == nil {
		var report AnalyticsReport
		if err := json.Unmarshal(payload, &report); err == nil {
			return &report, nil
		}
		s.logger.Warn("discarding corrupt cached report", "key", key)
	}

	report, err := s.buildReport(ctx, profileID, tr)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(report); err == nil {
		if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
			s.logger.Warn("caching report failed", "key", key, "error", err)
		}
	}
	return report, nil
}

// GetSummary returns the condensed 30-day payload.
func (s *Service) GetSummary(ctx context.Context, profileID string) (*Summary, error) {
	tr, _ := ParsePeriod("30d", s.now())
	report, err := s.GetAnalytics(ctx, profileID, tr)
	if err != nil {
		return nil, err
	}
	return &Summary{
		ProfileID:            report.ProfileID,
		ProfileViews:         report.ProfileViews,
		UniqueViews:          report.UniqueViews,
		TotalClicks:          report.TotalClicks,
		UniqueClicks:         report.UniqueClicks,
		TotalLinks:           report.TotalLinks,
		AverageClicksPerLink: report.AverageClicksPerLink,
		TopLink:              report.TopLink,
	}, nil
}

// GetLinks returns the period-scoped link slice.
func (s *Service) GetLinks(ctx context.Context, profileID string, tr TimeRange) (*LinksReport, error) {
	report, err := s.GetAnalytics(ctx, profileID, tr)
	if err != nil {
		return nil, err
	}
	return &LinksReport{
		ProfileID:       report.ProfileID,
		TotalLinks:      report.TotalLinks,
		TopLink:         report.TopLink,
		LinkPerformance: report.LinkPerformance,
	}, nil
}

// GetGeo returns the period-scoped geographic slice.
func (s *Service) GetGeo(ctx context.Context, profileID string, tr TimeRange) (*GeoReport, error) {
	report, err := s.GetAnalytics(ctx, profileID, tr)
	if err != nil {
		return nil, err
	}
	return &GeoReport{ProfileID: report.ProfileID, GeographicData: report.GeographicData}, nil
}

// RealTimeStats is the freshness path; it never touches the cache.
// Active users are open sessions started in the last 5 minutes; recent
// views and clicks count the last 60 seconds.
func (s *Service) RealTimeStats(ctx context.Context, profileID string) (realtime.Stats, error) {
	if profileID == "" {
		return realtime.Stats{}, apperr.Invalidf([]string{"profileId"}, "profileId is required")
	}
	now := s.now()
	activeSince := store.FormatTime(now.Add(-5 * time.Minute))
	recentSince := store.FormatTime(now.Add(-60 * time.Second))

	var stats realtime.Stats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sessions
			WHERE profile_id = ? AND end_time IS NULL AND start_time >= ?
		`, profileID, activeSince).Scan(&stats.ActiveUsers)
	})
	g.Go(func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM profile_views
			WHERE profile_id = ? AND created_at >= ?
		`, profileID, recentSince).Scan(&stats.RecentViews)
	})
	g.Go(func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM link_clicks
			WHERE profile_id = ? AND created_at >= ?
		`, profileID, recentSince).Scan(&stats.RecentClicks)
	})
	if err := g.Wait(); err != nil {
		return realtime.Stats{}, apperr.Wrap(apperr.Unavailable, "realtime stats", err)
	}
	return stats, nil
}

// buildReport dispatches to the rollup shortcut when the whole range is
// covered by closed, day-aligned rollups, otherwise reads raw tables.
func (s *Service) buildReport(ctx context.Context, profileID string, tr TimeRange) (*AnalyticsReport, error) {
	if s.canShortcut(tr) {
		return s.buildFromRollups(ctx, profileID, tr)
	}
	return s.buildFromRaw(ctx, profileID, tr)
}

// canShortcut requires the range to end before today midnight UTC and both
// bounds to sit on day boundaries; a partial first day would make the
// rollup substitution diverge from the raw answer.
func (s *Service) canShortcut(tr TimeRange) bool {
	if tr.Period == PeriodHour {
		return false
	}
	if !tr.endsBeforeToday(s.now()) {
		return false
	}
	aligned := func(t time.Time) bool {
		t = t.UTC()
		return t.Equal(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
	}
	return aligned(tr.Start) && aligned(tr.End)
}

// rangeBounds renders the half-open window in stored timestamp format.
func rangeBounds(tr TimeRange) (string, string) {
	return store.FormatTime(tr.Start), store.FormatTime(tr.End)
}

// dateBounds renders the inclusive date window for rollup queries.
func dateBounds(tr TimeRange) (string, string) {
	return store.DateOf(tr.Start), store.DateOf(tr.End.Add(-time.Second))
}

func newReport(profileID string, tr TimeRange) *AnalyticsReport {
	return &AnalyticsReport{
		ProfileID:       profileID,
		StartMs:         tr.Start.UnixMilli(),
		EndMs:           tr.End.UnixMilli(),
		Period:          tr.Period,
		TimeSeriesData:  []TimeSeriesPoint{},
		GeographicData:  []GeoPoint{},
		DeviceData:      []DevicePoint{},
		ReferrerData:    []ReferrerPoint{},
		LinkPerformance: []LinkPerformance{},
	}
}

// buildFromRaw answers the query entirely from the raw event tables with
// fanned-out sub-queries.
func (s *Service) buildFromRaw(ctx context.Context, profileID string, tr TimeRange) (*AnalyticsReport, error) {
	start, end := rangeBounds(tr)
	report := newReport(profileID, tr)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		report.ProfileViews, report.UniqueViews, err = s.rawTotals(ctx, "profile_views", profileID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		report.TotalClicks, report.UniqueClicks, err = s.rawTotals(ctx, "link_clicks", profileID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		report.TimeSeriesData, err = s.rawTimeSeries(ctx, profileID, tr)
		return err
	})
	g.Go(func() error {
		var err error
		report.GeographicData, err = s.rawGeo(ctx, profileID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		report.DeviceData, err = s.rawDevices(ctx, profileID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		report.ReferrerData, err = s.rawReferrers(ctx, profileID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		report.LinkPerformance, err = s.rawLinks(ctx, profileID, start, end)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "building report", err)
	}

	finalizeReport(report)
	return report, nil
}

// rawTotals counts events and unique sessions for one raw table. Unique
// sessions are counted per UTC day and summed, matching what the rollups
// store; sessions spanning midnight count once per day they touch.
func (s *Service) rawTotals(ctx context.Context, table, profileID, start, end string) (total, unique int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE((
		           SELECT SUM(u) FROM (
		               SELECT COUNT(DISTINCT session_id) AS u FROM `+table+`
		               WHERE profile_id = ?1 AND created_at >= ?2 AND created_at < ?3
		                 AND session_id != ''
		               GROUP BY strftime('%Y-%m-%d', created_at)
		           )
		       ), 0)
		FROM `+table+`
		WHERE profile_id = ?1 AND created_at >= ?2 AND created_at < ?3
	`, profileID, start, end).Scan(&total, &unique)
	return total, unique, err
}

func (s *Service) rawTimeSeries(ctx context.Context, profileID string, tr TimeRange) ([]TimeSeriesPoint, error) {
	start, end := rangeBounds(tr)
	bucket := tr.bucketExpr("created_at")

	buckets := make(map[string]*TimeSeriesPoint)
	collect := func(table string, isViews bool) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+bucket+` AS bucket, COUNT(*)
			FROM `+table+`
			WHERE profile_id = ? AND created_at >= ? AND created_at < ?
			GROUP BY bucket
		`, profileID, start, end)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var key string
			var n int64
			if err := rows.Scan(&key, &n); err != nil {
				return err
			}
			point, ok := buckets[key]
			if !ok {
				point = &TimeSeriesPoint{Date: key}
				buckets[key] = point
			}
			if isViews {
				point.Views += n
			} else {
				point.Clicks += n
			}
		}
		return rows.Err()
	}

	if err := collect("profile_views", true); err != nil {
		return nil, err
	}
	if err := collect("link_clicks", false); err != nil {
		return nil, err
	}
	return sortedSeries(buckets), nil
}

func (s *Service) rawGeo(ctx context.Context, profileID, start, end string) ([]GeoPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT country, SUM(v), SUM(c)
		FROM (
			SELECT country, 1 AS v, 0 AS c FROM profile_views
			WHERE profile_id = ?1 AND created_at >= ?2 AND created_at < ?3 AND country != ''
			UNION ALL
			SELECT country, 0, 1 FROM link_clicks
			WHERE profile_id = ?1 AND created_at >= ?2 AND created_at < ?3 AND country != ''
		)
		GROUP BY country
		ORDER BY SUM(v) DESC, country ASC
		LIMIT ?4
	`, profileID, start, end, topN)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	points := []GeoPoint{}
	for rows.Next() {
		var p GeoPoint
		if err := rows.Scan(&p.Country, &p.Views, &p.Clicks); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Service) rawDevices(ctx context.Context, profileID, start, end string) ([]DevicePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_type, SUM(v), SUM(c)
		FROM (
			SELECT device_type, 1 AS v, 0 AS c FROM profile_views
			WHERE profile_id = ?1 AND created_at >= ?2 AND created_at < ?3 AND device_type != ''
			UNION ALL
			SELECT device_type, 0, 1 FROM link_clicks
			WHERE profile_id = ?1 AND created_at >= ?2 AND created_at < ?3 AND device_type != ''
		)
		GROUP BY device_type
		ORDER BY SUM(v) DESC, device_type ASC
	`, profileID, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	points := []DevicePoint{}
	for rows.Next() {
		var p DevicePoint
		if err := rows.Scan(&p.DeviceType, &p.Views, &p.Clicks); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Service) rawReferrers(ctx context.Context, profileID, start, end string) ([]ReferrerPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT referrer, SUM(v), SUM(c)
		FROM (
			SELECT referrer, 1 AS v, 0 AS c FROM profile_views
			WHERE profile_id = ?1 AND created_at >= ?2 AND created_at < ?3
			UNION ALL
			SELECT referrer, 0, 1 FROM link_clicks
			WHERE profile_id = ?1 AND created_at >= ?2 AND created_at < ?3
		)
		GROUP BY referrer
	`, profileID, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	merged := make(map[string]*ReferrerPoint)
	for rows.Next() {
		var raw string
		var views, clicks int64
		if err := rows.Scan(&raw, &views, &clicks); err != nil {
			return nil, err
		}
		addReferrer(merged, raw, views, clicks)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topReferrers(merged), nil
}

// rawLinks groups clicks per link index, the same key the rollups use, so
// a title edit never splits a link's row. Title and URL come from the most
// recent click in the range; the per-group unique count is folded from
// per-day distinct sessions, mirroring the rollups.
func (s *Service) rawLinks(ctx context.Context, profileID, start, end string) ([]LinkPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		GROUP BY link_index, strftime('%Y-%m-%d', created_at)
	`, start, end, start, end, profileID, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	merged := make(map[int]*LinkPerformance)
	for rows.Next() {
		var (
			index          int
			clicks, unique int64
			title, urlStr  string
		)
		if err := rows.Scan(&index, &clicks, &unique, &title, &urlStr); err != nil {
			return nil, err
		}
		if title == "" {
			title = "Untitled"
		}
		lp, ok := merged[index]
		if !ok {
			lp = &LinkPerformance{LinkIndex: index, Title: title, URL: urlStr}
			merged[index] = lp
		}
		lp.Clicks += clicks
		lp.UniqueClicks += unique
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sortedLinks(merged), nil
}

// buildFromRollups answers the query from the *_stats tables.
func (s *Service) buildFromRollups(ctx context.Context, profileID string, tr TimeRange) (*AnalyticsReport, error) {
	firstDay, lastDay := dateBounds(tr)
	report := newReport(profileID, tr)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(views), 0), COALESCE(SUM(unique_views), 0),
			       COALESCE(SUM(clicks), 0), COALESCE(SUM(unique_clicks), 0)
			FROM daily_stats
			WHERE profile_id = ? AND date >= ? AND date <= ?
		`, profileID, firstDay, lastDay).
			Scan(&report.ProfileViews, &report.UniqueViews, &report.TotalClicks, &report.UniqueClicks)
	})
	g.Go(func() error {
		var err error
		report.TimeSeriesData, err = s.rollupTimeSeries(ctx, profileID, tr, firstDay, lastDay)
		return err
	})
	g.Go(func() error {
		var err error
		report.GeographicData, err = s.rollupGeo(ctx, profileID, firstDay, lastDay)
		return err
	})
	g.Go(func() error {
		var err error
		report.DeviceData, err = s.rollupDevices(ctx, profileID, firstDay, lastDay)
		return err
	})
	g.Go(func() error {
		var err error
		report.ReferrerData, err = s.rollupReferrers(ctx, profileID, firstDay, lastDay)
		return err
	})
	g.Go(func() error {
		var err error
		report.LinkPerformance, err = s.rollupLinks(ctx, profileID, firstDay, lastDay)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "building report from rollups", err)
	}

	finalizeReport(report)
	return report, nil
}

func (s *Service) rollupTimeSeries(ctx context.Context, profileID string, tr TimeRange, firstDay, lastDay string) ([]TimeSeriesPoint, error) {
	bucket := "date"
	if tr.Period != PeriodDay {
		bucket = tr.bucketExpr("date")
	}
	// Rows with zero traffic (session-only days) are skipped so the series
	// matches the raw answer bucket for bucket.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bucket+` AS bucket, SUM(views), SUM(clicks)
		FROM daily_stats
		WHERE profile_id = ? AND date >= ? AND date <= ? AND (views > 0 OR clicks > 0)
		GROUP BY bucket
		ORDER BY bucket
	`, profileID, firstDay, lastDay)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	points := []TimeSeriesPoint{}
	for rows.Next() {
		var p TimeSeriesPoint
		if err := rows.Scan(&p.Date, &p.Views, &p.Clicks); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Service) rollupGeo(ctx context.Context, profileID, firstDay, lastDay string) ([]GeoPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT country, SUM(views), SUM(clicks)
		FROM geo_stats
		WHERE profile_id = ? AND date >= ? AND date <= ?
		GROUP BY country
		ORDER BY SUM(views) DESC, country ASC
		LIMIT ?
	`, profileID, firstDay, lastDay, topN)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	points := []GeoPoint{}
	for rows.Next() {
		var p GeoPoint
		if err := rows.Scan(&p.Country, &p.Views, &p.Clicks); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Service) rollupDevices(ctx context.Context, profileID, firstDay, lastDay string) ([]DevicePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_type, SUM(views), SUM(clicks)
		FROM device_stats
		WHERE profile_id = ? AND date >= ? AND date <= ?
		GROUP BY device_type
		ORDER BY SUM(views) DESC, device_type ASC
	`, profileID, firstDay, lastDay)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	points := []DevicePoint{}
	for rows.Next() {
		var p DevicePoint
		if err := rows.Scan(&p.DeviceType, &p.Views, &p.Clicks); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Service) rollupReferrers(ctx context.Context, profileID, firstDay, lastDay string) ([]ReferrerPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT referrer, SUM(views), SUM(clicks)
		FROM referrer_stats
		WHERE profile_id = ? AND date >= ? AND date <= ?
		GROUP BY referrer
	`, profileID, firstDay, lastDay)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	merged := make(map[string]*ReferrerPoint)
	for rows.Next() {
		var raw string
		var views, clicks int64
		if err := rows.Scan(&raw, &views, &clicks); err != nil {
			return nil, err
		}
		addReferrer(merged, raw, views, clicks)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topReferrers(merged), nil
}

// rollupLinks mirrors rawLinks over link_stats: one row per link index,
// title and URL from the most recent day in the range.
func (s *Service) rollupLinks(ctx context.Context, profileID, firstDay, lastDay string) ([]LinkPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT link_index, SUM(clicks), SUM(unique_clicks),
		       (SELECT link_title FROM link_stats ls2
		        WHERE ls2.profile_id = ls.profile_id AND ls2.link_index = ls.link_index
		          AND ls2.date >= ? AND ls2.date <= ?
		        ORDER BY ls2.date DESC LIMIT 1),
		       (SELECT link_url FROM link_stats ls2
		        WHERE ls2.profile_id = ls.profile_id AND ls2.link_index = ls.link_index
		          AND ls2.date >= ? AND ls2.date <= ?
		        ORDER BY ls2.date DESC LIMIT 1)
		FROM link_stats ls
		WHERE profile_id = ? AND date >= ? AND date <= ?
		GROUP BY link_index
	`, firstDay, lastDay, firstDay, lastDay, profileID, firstDay, lastDay)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	merged := make(map[int]*LinkPerformance)
	for rows.Next() {
		var lp LinkPerformance
		if err := rows.Scan(&lp.LinkIndex, &lp.Clicks, &lp.UniqueClicks, &lp.Title, &lp.URL); err != nil {
			return nil, err
		}
		merged[lp.LinkIndex] = &lp
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sortedLinks(merged), nil
}

// addReferrer folds a raw referrer into the presentation map: hostname
// when parseable, "direct" for empty, the raw string otherwise.
func addReferrer(merged map[string]*ReferrerPoint, raw string, views, clicks int64) {
	label := enrich.ReferrerHost(raw)
	if label == "" {
		if raw == "" {
			label = "direct"
		} else {
			label = raw
		}
	}
	point, ok := merged[label]
	if !ok {
		point = &ReferrerPoint{Referrer: label}
		merged[label] = point
	}
	point.Views += views
	point.Clicks += clicks
}

func topReferrers(merged map[string]*ReferrerPoint) []ReferrerPoint {
	points := make([]ReferrerPoint, 0, len(merged))
	for _, p := range merged {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Views != points[j].Views {
			return points[i].Views > points[j].Views
		}
		return points[i].Referrer < points[j].Referrer
	})
	if len(points) > topN {
		points = points[:topN]
	}
	return points
}

func sortedSeries(buckets map[string]*TimeSeriesPoint) []TimeSeriesPoint {
	points := make([]TimeSeriesPoint, 0, len(buckets))
	for _, p := range buckets {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

func sortedLinks[K comparable](merged map[K]*LinkPerformance) []LinkPerformance {
	links := make([]LinkPerformance, 0, len(merged))
	for _, lp := range merged {
		links = append(links, *lp)
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Clicks != links[j].Clicks {
			return links[i].Clicks > links[j].Clicks
		}
		return links[i].LinkIndex < links[j].LinkIndex
	})
	return links
}

// finalizeReport fills the derived fields once the sub-queries are merged.
func finalizeReport(report *AnalyticsReport) {
	report.TotalLinks = int64(len(report.LinkPerformance))
	for i := range report.LinkPerformance {
		lp := &report.LinkPerformance[i]
		if report.ProfileViews > 0 {
			lp.CTR = 100 * float64(lp.Clicks) / float64(report.ProfileViews)
		} else {
			lp.CTR = 0
		}
	}
	if report.TotalLinks > 0 {
		report.AverageClicksPerLink = float64(report.TotalClicks) / float64(report.TotalLinks)
		top := report.LinkPerformance[0]
		report.TopLink = &top
	}
}
