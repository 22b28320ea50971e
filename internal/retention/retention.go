// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package retention prunes aged rows and reclaims space. It is the only
// component allowed to delete from the analytics tables.
package retention

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/linkfolio/analytics/internal/store"
)

// rollupWindow keeps two years of rollups regardless of raw retention.
const rollupWindow = 2 * 365 * 24 * time.Hour

// orphanWindow is the implicit session inactivity timeout.
const orphanWindow = 24 * time.Hour

// busWindow keeps delivered realtime bus rows around briefly for debugging
// before they are dropped.
const busWindow = 24 * time.Hour

// Windows configures the raw-event retention, in days.
type Windows struct {
	Views    int
	Clicks   int
	Sessions int
}

// Service runs the pruning jobs.
type Service struct {
	db     *sql.DB
	store  *store.Store
	logger *slog.Logger
	win    Windows
	now    func() time.Time
}

// New creates the retention service.
func New(db *sql.DB, st *store.Store, logger *slog.Logger, win Windows) *Service {
	return &Service{db: db, store: st, logger: logger, win: win, now: time.Now}
}

// Run is the nightly prune. Deletes are per-table and non-transactional;
// a failed table is logged and the rest still runs, so a partial failure
// self-heals on the next schedule.
func (s *Service) Run(ctx context.Context) {
	now := s.now()
	type prune struct {
		table, column string
		cutoff        string
	}
	prunes := []prune{
		{"profile_views", "created_at", store.FormatTime(now.AddDate(0, 0, -s.win.Views))},
		{"link_clicks", "created_at", store.FormatTime(now.AddDate(0, 0, -s.win.Clicks))},
		{"sessions", "start_time", store.FormatTime(now.AddDate(0, 0, -s.win.Sessions))},
		{"daily_stats", "date", store.DateOf(now.Add(-rollupWindow))},
		{"link_stats", "date", store.DateOf(now.Add(-rollupWindow))},
		{"geo_stats", "date", store.DateOf(now.Add(-rollupWindow))},
		{"device_stats", "date", store.DateOf(now.Add(-rollupWindow))},
		{"referrer_stats", "date", store.DateOf(now.Add(-rollupWindow))},
	}

	for _, p := range prunes {
		if err := ctx.Err(); err != nil {
			return
		}
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM "+p.table+" WHERE "+p.column+" < ?", p.cutoff)
		if err != nil {
			s.logger.Error("retention delete failed", "table", p.table, "error", err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Info("retention pruned", "table", p.table, "rows", n)
		}
	}

	// Delivered bus rows are dispatcher bookkeeping, not analytics data;
	// without this the table grows without bound in durable mode. Pending
	// rows are never touched.
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM realtime_events WHERE processed = 1 AND created_at < ?
	`, store.FormatTime(now.Add(-busWindow)))
	if err != nil {
		s.logger.Error("retention delete failed", "table", "realtime_events", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("retention pruned", "table", "realtime_events", "rows", n)
	}
}

// CloseOrphans closes sessions idle past the 24 h window, pinning the end
// time to the window edge.
func (s *Service) CloseOrphans(ctx context.Context) {
	closed, err := s.store.CloseOrphanSessions(ctx, s.now().Add(-orphanWindow))
	if err != nil {
		s.logger.Error("closing orphan sessions failed", "error", err)
		return
	}
	if closed > 0 {
		s.logger.Info("closed orphan sessions", "count", closed)
	}
}

// SweepCache drops expired analytics_cache rows.
func (s *Service) SweepCache(ctx context.Context) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analytics_cache WHERE expires_at < ?`, store.FormatTime(s.now()))
	if err != nil {
		s.logger.Error("cache sweep failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("cache sweep removed entries", "count", n)
	}
}

// Vacuum reclaims physical space. Best effort; sqlite refuses VACUUM
// inside a transaction or while another one is active, which is fine to
// skip until next week.
func (s *Service) Vacuum(ctx context.Context) {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		s.logger.Warn("wal checkpoint failed", "error", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		s.logger.Warn("vacuum failed", "error", err)
	}
}
