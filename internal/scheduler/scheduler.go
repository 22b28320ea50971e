// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler wraps robfig/cron with timeouts, panic recovery and
// structured logging for the background jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler owns the cron runner. All schedules are evaluated in UTC.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		logger: logger,
	}
}

// Add registers a named job with a 5-field cron spec. Each run gets its
// own timeout context; errors and panics are logged, never fatal.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("job panicked", "job", name, "panic", r)
			}
		}()

		started := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("job failed", "job", name, "duration", time.Since(started), "error", err)
			return
		}
		s.logger.Debug("job finished", "job", name, "duration", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, spec, err)
	}
	return nil
}

// Start launches the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
