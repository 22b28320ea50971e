// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package query

import (
	"testing"
	"time"

	"github.com/linkfolio/analytics/internal/apperr"
)

func TestParsePeriod(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		period     string
		wantDays   int
		wantBucket string
	}{
		{"7d", 7, PeriodDay},
		{"30d", 30, PeriodDay},
		{"", 30, PeriodDay},
		{"90d", 90, PeriodWeek},
	}
	for _, tt := range tests {
		tr, err := ParsePeriod(tt.period, now)
		if err != nil {
			t.Fatalf("ParsePeriod(%q): %v", tt.period, err)
		}
		if got := int(tr.End.Sub(tr.Start).Hours() / 24); got != tt.wantDays {
			t.Errorf("ParsePeriod(%q) span = %d days, want %d", tt.period, got, tt.wantDays)
		}
		if tr.Period != tt.wantBucket {
			t.Errorf("ParsePeriod(%q) bucket = %s, want %s", tt.period, tr.Period, tt.wantBucket)
		}
	}

	tr, err := ParsePeriod("1y", now)
	if err != nil {
		t.Fatalf("ParsePeriod(1y): %v", err)
	}
	if tr.Period != PeriodMonth {
		t.Errorf("1y bucket = %s, want month", tr.Period)
	}

	if _, err := ParsePeriod("14x", now); !apperr.Is(err, apperr.Invalid) {
		t.Errorf("unknown period error = %v, want Invalid", err)
	}
}

func TestRangeFromBounds(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		span       time.Duration
		wantBucket string
	}{
		{6 * time.Hour, PeriodHour},
		{10 * 24 * time.Hour, PeriodDay},
		{120 * 24 * time.Hour, PeriodWeek},
		{400 * 24 * time.Hour, PeriodMonth},
	}
	for _, tt := range tests {
		tr, err := RangeFromBounds(start.UnixMilli(), start.Add(tt.span).UnixMilli())
		if err != nil {
			t.Fatalf("RangeFromBounds(%v): %v", tt.span, err)
		}
		if tr.Period != tt.wantBucket {
			t.Errorf("span %v bucket = %s, want %s", tt.span, tr.Period, tt.wantBucket)
		}
	}

	if _, err := RangeFromBounds(0, start.UnixMilli()); !apperr.Is(err, apperr.Invalid) {
		t.Errorf("zero start error = %v, want Invalid", err)
	}
	if _, err := RangeFromBounds(start.UnixMilli(), start.UnixMilli()); !apperr.Is(err, apperr.Invalid) {
		t.Errorf("empty range error = %v, want Invalid", err)
	}
}

func TestEndsBeforeToday(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)

	closed := TimeRange{Start: midnight.AddDate(0, 0, -7), End: midnight, Period: PeriodDay}
	if !closed.endsBeforeToday(now) {
		t.Error("range ending at today's midnight should count as closed")
	}
	open := TimeRange{Start: midnight.AddDate(0, 0, -7), End: now, Period: PeriodDay}
	if open.endsBeforeToday(now) {
		t.Error("range ending now must not count as closed")
	}
}
