// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package query

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/linkfolio/analytics/internal/aggregate"
	"github.com/linkfolio/analytics/internal/cache"
	"github.com/linkfolio/analytics/internal/store"
	"github.com/linkfolio/analytics/internal/testutil"
)

var testNow = time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db := testutil.TestDB(t)
	c := cache.NewMemoryCache(time.Hour)
	t.Cleanup(func() { _ = c.Close() })

	svc := NewService(db, c, testutil.TestLogger(), time.Hour)
	svc.now = func() time.Time { return testNow }
	return svc, store.New(db)
}

func seedView(t *testing.T, st *store.Store, sessionID, referrer, country, device string, at time.Time) {
	t.Helper()
	_, err := st.TrackView(context.Background(), &store.ProfileView{
		ProfileID:  "P1",
		SessionID:  sessionID,
		Referrer:   referrer,
		Country:    country,
		City:       "Berlin",
		DeviceType: device,
		Browser:    "Firefox",
		OS:         "Linux",
		CreatedAt:  at,
	}, "")
	if err != nil {
		t.Fatalf("seed view: %v", err)
	}
}

func seedClick(t *testing.T, st *store.Store, sessionID, title string, index int, at time.Time) {
	t.Helper()
	_, err := st.TrackClick(context.Background(), &store.LinkClick{
		ProfileID:  "P1",
		LinkIndex:  index,
		LinkTitle:  title,
		LinkURL:    "https://example.com/" + title,
		SessionID:  sessionID,
		Country:    "DE",
		City:       "Berlin",
		DeviceType: "desktop",
		Browser:    "Firefox",
		OS:         "Linux",
		CreatedAt:  at,
	}, "")
	if err != nil {
		t.Fatalf("seed click: %v", err)
	}
}

func TestShortcutMatchesRawPath(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	seedView(t, st, "S1", "https://www.google.com/search?q=x", "DE", "desktop", day1.Add(9*time.Hour))
	seedView(t, st, "S1", "", "DE", "desktop", day1.Add(9*time.Hour+time.Minute))
	seedView(t, st, "S2", "https://t.co/abc", "US", "mobile", day1.Add(15*time.Hour))
	seedView(t, st, "S3", "", "US", "mobile", day2.Add(8*time.Hour))
	seedClick(t, st, "S1", "A", 0, day1.Add(9*time.Hour+2*time.Minute))
	seedClick(t, st, "S3", "B", 1, day2.Add(8*time.Hour+time.Minute))
	seedClick(t, st, "S3", "B", 1, day2.Add(8*time.Hour+2*time.Minute))

	agg := aggregate.New(svc.db, testutil.TestLogger())
	if err := agg.Backfill(ctx, day1, day2); err != nil {
		t.Fatalf("aggregating: %v", err)
	}

	tr := TimeRange{Start: day1, End: day2.AddDate(0, 0, 1), Period: PeriodDay}
	if !svc.canShortcut(tr) {
		t.Fatal("day-aligned closed range should take the shortcut")
	}

	raw, err := svc.buildFromRaw(ctx, "P1", tr)
	if err != nil {
		t.Fatalf("raw path: %v", err)
	}
	rollup, err := svc.buildFromRollups(ctx, "P1", tr)
	if err != nil {
		t.Fatalf("rollup path: %v", err)
	}

	if !reflect.DeepEqual(raw, rollup) {
		t.Errorf("paths diverge:\nraw:    %+v\nrollup: %+v", raw, rollup)
	}
	if raw.ProfileViews != 4 || raw.TotalClicks != 3 {
		t.Errorf("totals views=%d clicks=%d, want 4/3", raw.ProfileViews, raw.TotalClicks)
	}
}

func TestLinkTitleChangeKeepsOneRow(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	// The link at index 0 is renamed between two clicks on a closed day.
	day := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	seedClick(t, st, "S1", "Old name", 0, day.Add(9*time.Hour))
	seedClick(t, st, "S2", "New name", 0, day.Add(15*time.Hour))

	agg := aggregate.New(svc.db, testutil.TestLogger())
	if err := agg.RunForDate(ctx, day); err != nil {
		t.Fatalf("aggregating: %v", err)
	}

	tr := TimeRange{Start: day, End: day.AddDate(0, 0, 1), Period: PeriodDay}
	raw, err := svc.buildFromRaw(ctx, "P1", tr)
	if err != nil {
		t.Fatalf("raw path: %v", err)
	}
	rollup, err := svc.buildFromRollups(ctx, "P1", tr)
	if err != nil {
		t.Fatalf("rollup path: %v", err)
	}

	if !reflect.DeepEqual(raw, rollup) {
		t.Errorf("paths diverge after a title change:\nraw:    %+v\nrollup: %+v", raw, rollup)
	}
	if len(raw.LinkPerformance) != 1 {
		t.Fatalf("linkPerformance = %+v, want one merged row", raw.LinkPerformance)
	}
	lp := raw.LinkPerformance[0]
	if lp.Clicks != 2 || lp.Title != "New name" {
		t.Errorf("merged row = %+v, want 2 clicks under the latest title", lp)
	}
}

func TestTopLink(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	today := testNow.Add(-2 * time.Hour)

	for i := 0; i < 5; i++ {
		seedClick(t, st, "S1", "A", 0, today.Add(time.Duration(i)*time.Minute))
	}
	for i := 0; i < 2; i++ {
		seedClick(t, st, "S2", "B", 1, today.Add(time.Duration(i)*time.Minute))
	}

	tr, err := ParsePeriod("7d", testNow)
	if err != nil {
		t.Fatal(err)
	}
	links, err := svc.GetLinks(ctx, "P1", tr)
	if err != nil {
		t.Fatalf("GetLinks: %v", err)
	}

	if links.TopLink == nil || links.TopLink.Title != "A" {
		t.Fatalf("topLink = %+v, want title A", links.TopLink)
	}
	if len(links.LinkPerformance) != 2 || links.LinkPerformance[0].Clicks != 5 {
		t.Errorf("linkPerformance = %+v, want A first with 5 clicks", links.LinkPerformance)
	}
}

func TestReferrerPresentedAsHostname(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedView(t, st, "S1", "https://www.google.com/search?q=x", "DE", "desktop", testNow.Add(-time.Hour))

	tr, _ := ParsePeriod("7d", testNow)
	report, err := svc.GetAnalytics(ctx, "P1", tr)
	if err != nil {
		t.Fatalf("GetAnalytics: %v", err)
	}
	if len(report.ReferrerData) != 1 || report.ReferrerData[0].Referrer != "www.google.com" {
		t.Errorf("referrerData = %+v, want hostname www.google.com", report.ReferrerData)
	}
}

func TestEmptyRange(t *testing.T) {
	svc, _ := newTestService(t)

	tr, _ := ParsePeriod("30d", testNow)
	report, err := svc.GetAnalytics(context.Background(), "P1", tr)
	if err != nil {
		t.Fatalf("GetAnalytics: %v", err)
	}

	if report.ProfileViews != 0 || report.TotalClicks != 0 || report.TotalLinks != 0 {
		t.Errorf("expected zero totals, got %+v", report)
	}
	if report.TopLink != nil {
		t.Error("topLink should be nil on an empty range")
	}
	for name, length := range map[string]int{
		"timeSeriesData":  len(report.TimeSeriesData),
		"geographicData":  len(report.GeographicData),
		"deviceData":      len(report.DeviceData),
		"referrerData":    len(report.ReferrerData),
		"linkPerformance": len(report.LinkPerformance),
	} {
		if length != 0 {
			t.Errorf("%s has %d entries on an empty range", name, length)
		}
	}
}

func TestGetAnalyticsServedFromCache(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedView(t, st, "S1", "", "DE", "desktop", testNow.Add(-time.Hour))
	tr, _ := ParsePeriod("7d", testNow)

	first, err := svc.GetAnalytics(ctx, "P1", tr)
	if err != nil {
		t.Fatal(err)
	}
	// New data after caching must not show up for the same range.
	seedView(t, st, "S2", "", "DE", "desktop", testNow.Add(-30*time.Minute))

	second, err := svc.GetAnalytics(ctx, "P1", tr)
	if err != nil {
		t.Fatal(err)
	}
	if second.ProfileViews != first.ProfileViews {
		t.Errorf("cached report changed: %d -> %d", first.ProfileViews, second.ProfileViews)
	}
}

func TestRealTimeStats(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	// Open session from 2 minutes ago plus a recent view; one stale view
	// outside the 60 s window.
	seedView(t, st, "S1", "", "DE", "desktop", testNow.Add(-2*time.Minute))
	seedView(t, st, "S1", "", "DE", "desktop", testNow.Add(-30*time.Second))
	seedView(t, st, "S2", "", "DE", "desktop", testNow.Add(-10*time.Minute))

	stats, err := svc.RealTimeStats(ctx, "P1")
	if err != nil {
		t.Fatalf("RealTimeStats: %v", err)
	}
	if stats.ActiveUsers != 1 {
		t.Errorf("activeUsers = %d, want 1 (S2 started too long ago)", stats.ActiveUsers)
	}
	if stats.RecentViews != 1 {
		t.Errorf("recentViews = %d, want 1", stats.RecentViews)
	}
	if stats.RecentClicks != 0 {
		t.Errorf("recentClicks = %d, want 0", stats.RecentClicks)
	}
}

func TestGeographicViewsBoundedByTotals(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedView(t, st, "S1", "", "DE", "desktop", testNow.Add(-time.Hour))
	seedView(t, st, "S2", "", "US", "mobile", testNow.Add(-time.Hour))
	seedView(t, st, "S3", "", "", "desktop", testNow.Add(-time.Hour))

	tr, _ := ParsePeriod("7d", testNow)
	report, err := svc.GetAnalytics(ctx, "P1", tr)
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range report.GeographicData {
		if g.Views > report.ProfileViews {
			t.Errorf("geo %s views %d exceed total %d", g.Country, g.Views, report.ProfileViews)
		}
	}
	if len(report.GeographicData) != 2 {
		t.Errorf("geographicData = %+v, want DE and US only", report.GeographicData)
	}
}
