// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linkfolio/analytics/internal/testutil"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(testutil.TestLogger())
	err := s.Add("broken", "not a cron spec", time.Minute, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("invalid cron spec accepted")
	}
}

func TestAddAcceptsStandardSpecs(t *testing.T) {
	s := New(testutil.TestLogger())
	for _, spec := range []string{"0 2 * * *", "0 * * * *", "0 */6 * * *", "0 4 * * 0"} {
		if err := s.Add("job", spec, time.Minute, func(context.Context) error { return nil }); err != nil {
			t.Errorf("Add(%q): %v", spec, err)
		}
	}
}

func TestJobRunsWithTimeoutAndRecovery(t *testing.T) {
	s := New(testutil.TestLogger())

	done := make(chan struct{})
	err := s.Add("probe", "@every 100ms", 50*time.Millisecond, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context has no deadline")
		}
		select {
		case done <- struct{}{}:
		default:
		}
		return errors.New("logged, not fatal")
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestStopWaitsForRunningJobs(t *testing.T) {
	s := New(testutil.TestLogger())
	s.Start()
	s.Stop() // must not hang or panic with no jobs
}
