// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// analyticsd is the analytics ingestion and query service for the
// link-aggregator platform.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/linkfolio/analytics/internal/aggregate"
	"github.com/linkfolio/analytics/internal/cache"
	"github.com/linkfolio/analytics/internal/chain"
	"github.com/linkfolio/analytics/internal/config"
	"github.com/linkfolio/analytics/internal/enrich"
	"github.com/linkfolio/analytics/internal/handler"
	"github.com/linkfolio/analytics/internal/ingest"
	"github.com/linkfolio/analytics/internal/logging"
	"github.com/linkfolio/analytics/internal/query"
	"github.com/linkfolio/analytics/internal/realtime"
	"github.com/linkfolio/analytics/internal/retention"
	"github.com/linkfolio/analytics/internal/scheduler"
	"github.com/linkfolio/analytics/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.IsDevelopment())
	slog.SetDefault(logger)
	logger.Info("starting analyticsd", "env", cfg.Env, "addr", cfg.ServerAddr())

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := store.Migrate(db); err != nil {
		return err
	}
	st := store.New(db)

	reportCache, err := cache.NewFromOptions(cache.FactoryOptions{
		RedisURL:   cfg.RedisURL,
		Prefix:     cfg.CachePrefix,
		DefaultTTL: cfg.CacheTTLDuration(),
		DB:         db,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = reportCache.Close() }()

	geo := enrich.NewGeoLookup()
	if err := geo.Init(cfg.GeoIPDBPath); err != nil {
		logger.Warn("geoip disabled", "error", err)
	}
	defer func() { _ = geo.Close() }()
	enricher := enrich.NewEnricher(geo)

	var chainClient chain.Client = chain.NopClient{}
	if cfg.ChainBaseURL != "" {
		chainClient = chain.NewCachedClient(chain.NewHTTPClient(cfg.ChainBaseURL), reportCache)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	querySvc := query.NewService(db, reportCache, logger, cfg.CacheTTLDuration())
	hub := realtime.NewHub(querySvc, chainClient, logger, cfg.HeartbeatInterval())
	go hub.Run(ctx)

	// With the durable bus on, the dispatcher is the delivery path and the
	// in-process publish is skipped so events are not pushed twice.
	var pub ingest.Publisher = hub
	if cfg.RealtimeDurable {
		pub = nil
		go realtime.NewDispatcher(st, hub, logger).Run(ctx)
	}
	ingestSvc := ingest.NewService(st, enricher, chainClient, pub, logger, ingest.Options{
		CheckProfiles: cfg.CheckProfiles,
		Durable:       cfg.RealtimeDurable,
	})

	aggregator := aggregate.New(db, logger)
	retainer := retention.New(db, st, logger, retention.Windows{
		Views:    cfg.RetentionViews,
		Clicks:   cfg.RetentionClicks,
		Sessions: cfg.RetentionSessions,
	})

	sched := scheduler.New(logger)
	jobs := []struct {
		name, spec string
		timeout    time.Duration
		job        func(context.Context) error
	}{
		{"daily-aggregation", "0 2 * * *", 30 * time.Minute, aggregator.RunYesterday},
		{"retention-prune", "0 3 * * *", 30 * time.Minute, noErr(retainer.Run)},
		{"orphan-sessions", "0 * * * *", 5 * time.Minute, noErr(retainer.CloseOrphans)},
		{"cache-sweep", "0 */6 * * *", 5 * time.Minute, noErr(retainer.SweepCache)},
		{"weekly-vacuum", "0 4 * * 0", time.Hour, noErr(retainer.Vacuum)},
		{"geoip-reload", "30 * * * *", time.Minute, func(context.Context) error { return geo.Reload() }},
	}
	for _, j := range jobs {
		if err := sched.Add(j.name, j.spec, j.timeout, j.job); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	router := handler.NewRouter(handler.Deps{
		Ingest:      ingestSvc,
		Query:       querySvc,
		Hub:         hub,
		WS:          realtime.NewWSServer(hub, logger, cfg.CORSOrigins),
		Logger:      logger,
		RateWindow:  time.Duration(cfg.RateLimitWindow) * time.Second,
		RateMax:     cfg.RateLimitMax,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()
	logger.Info("listening", "addr", cfg.ServerAddr())

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func noErr(fn func(context.Context)) func(context.Context) error {
	return func(ctx context.Context) error {
		fn(ctx)
		return nil
	}
}
