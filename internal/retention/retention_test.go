// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package retention

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/linkfolio/analytics/internal/store"
	"github.com/linkfolio/analytics/internal/testutil"
)

var now = time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Store, *sql.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	st := store.New(db)
	svc := New(db, st, testutil.TestLogger(), Windows{Views: 90, Clicks: 90, Sessions: 30})
	svc.now = func() time.Time { return now }
	return svc, st, db
}

func trackViewAt(t *testing.T, st *store.Store, sessionID string, at time.Time) {
	t.Helper()
	_, err := st.TrackView(context.Background(), &store.ProfileView{
		ProfileID: "P1", SessionID: sessionID, CreatedAt: at,
	}, "")
	if err != nil {
		t.Fatal(err)
	}
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func TestRunPrunesAgedRows(t *testing.T) {
	svc, st, db := newTestService(t)

	trackViewAt(t, st, "ancient", now.AddDate(0, 0, -120))
	trackViewAt(t, st, "recent", now.AddDate(0, 0, -5))

	svc.Run(context.Background())

	if n := count(t, db, "profile_views"); n != 1 {
		t.Errorf("profile_views = %d, want 1 (120-day-old row pruned)", n)
	}
	// The 120-day-old session also exceeds the 30-day session window.
	if n := count(t, db, "sessions"); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
}

func TestRunPrunesProcessedBusRows(t *testing.T) {
	svc, _, db := newTestService(t)

	insert := func(processed int, at time.Time) {
		_, err := db.Exec(`
			INSERT INTO realtime_events (profile_id, kind, payload, processed, created_at)
			VALUES ('P1', 'view', '{}', ?, ?)
		`, processed, store.FormatTime(at))
		if err != nil {
			t.Fatal(err)
		}
	}
	insert(1, now.Add(-48*time.Hour)) // delivered long ago, prune
	insert(1, now.Add(-time.Hour))    // delivered recently, keep
	insert(0, now.Add(-48*time.Hour)) // still pending, keep

	svc.Run(context.Background())

	if n := count(t, db, "realtime_events"); n != 2 {
		t.Errorf("realtime_events = %d, want 2", n)
	}
	var pending int
	if err := db.QueryRow(`SELECT COUNT(*) FROM realtime_events WHERE processed = 0`).Scan(&pending); err != nil {
		t.Fatal(err)
	}
	if pending != 1 {
		t.Errorf("pending rows = %d, want the undelivered row untouched", pending)
	}
}

func TestRunKeepsRollupsInsideTwoYears(t *testing.T) {
	svc, _, db := newTestService(t)

	insert := func(date string) {
		_, err := db.Exec(`
			INSERT INTO daily_stats (profile_id, date, views) VALUES ('P1', ?, 1)
		`, date)
		if err != nil {
			t.Fatal(err)
		}
	}
	insert("2023-01-01") // beyond two years
	insert("2026-08-01")

	svc.Run(context.Background())

	if n := count(t, db, "daily_stats"); n != 1 {
		t.Errorf("daily_stats = %d, want 1", n)
	}
	var date string
	if err := db.QueryRow(`SELECT date FROM daily_stats`).Scan(&date); err != nil {
		t.Fatal(err)
	}
	if date != "2026-08-01" {
		t.Errorf("surviving rollup = %s, want the recent one", date)
	}
}

func TestCloseOrphans(t *testing.T) {
	svc, st, _ := newTestService(t)

	trackViewAt(t, st, "stale", now.Add(-30*time.Hour))
	trackViewAt(t, st, "live", now.Add(-2*time.Hour))

	svc.CloseOrphans(context.Background())

	stale, err := st.GetSession(context.Background(), "stale")
	if err != nil {
		t.Fatal(err)
	}
	if stale.EndTime == nil {
		t.Error("30-hour-old session still open")
	}
	live, err := st.GetSession(context.Background(), "live")
	if err != nil {
		t.Fatal(err)
	}
	if live.EndTime != nil {
		t.Error("2-hour-old session closed prematurely")
	}
}

func TestSweepCache(t *testing.T) {
	svc, _, db := newTestService(t)

	insert := func(key string, expiresAt time.Time) {
		_, err := db.Exec(`
			INSERT INTO analytics_cache (cache_key, payload, expires_at) VALUES (?, ?, ?)
		`, key, []byte("{}"), store.FormatTime(expiresAt))
		if err != nil {
			t.Fatal(err)
		}
	}
	insert("expired", now.Add(-time.Minute))
	insert("fresh", now.Add(time.Hour))

	svc.SweepCache(context.Background())

	if n := count(t, db, "analytics_cache"); n != 1 {
		t.Errorf("analytics_cache = %d, want 1", n)
	}
	var key string
	if err := db.QueryRow(`SELECT cache_key FROM analytics_cache`).Scan(&key); err != nil {
		t.Fatal(err)
	}
	if key != "fresh" {
		t.Errorf("surviving key = %s, want fresh", key)
	}
}

func TestVacuumBestEffort(t *testing.T) {
	svc, _, _ := newTestService(t)
	// Must not panic or error the run even when there is nothing to do.
	svc.Vacuum(context.Background())
}
