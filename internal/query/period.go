// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package query

import (
	"time"

	"github.com/linkfolio/analytics/internal/apperr"
)

// Granularity of the time series buckets.
const (
	PeriodHour  = "hour"
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// TimeRange is a half-open [Start, End) query window with a bucket
// granularity for the time series.
type TimeRange struct {
	Start  time.Time
	End    time.Time
	Period string
}

// ParsePeriod maps the API period shorthand to a range ending now.
func ParsePeriod(period string, now time.Time) (TimeRange, error) {
	now = now.UTC()
	switch period {
	case "", "30d":
		return TimeRange{Start: now.AddDate(0, 0, -30), End: now, Period: PeriodDay}, nil
	case "7d":
		return TimeRange{Start: now.AddDate(0, 0, -7), End: now, Period: PeriodDay}, nil
	case "90d":
		return TimeRange{Start: now.AddDate(0, 0, -90), End: now, Period: PeriodWeek}, nil
	case "1y":
		return TimeRange{Start: now.AddDate(-1, 0, 0), End: now, Period: PeriodMonth}, nil
	default:
		return TimeRange{}, apperr.Invalidf([]string{"period"}, "unknown period %q, want 7d, 30d, 90d or 1y", period)
	}
}

// ParsePeriodNow is ParsePeriod anchored at the current time.
func ParsePeriodNow(period string) (TimeRange, error) {
	return ParsePeriod(period, time.Now())
}

// RangeFromBounds builds a range from explicit epoch-millisecond bounds,
// picking the bucket granularity from the span.
func RangeFromBounds(startMs, endMs int64) (TimeRange, error) {
	if startMs <= 0 || endMs <= 0 {
		return TimeRange{}, apperr.Invalidf([]string{"start", "end"}, "start and end must be positive epoch milliseconds")
	}
	start := time.UnixMilli(startMs).UTC()
	end := time.UnixMilli(endMs).UTC()
	if !start.Before(end) {
		return TimeRange{}, apperr.Invalidf([]string{"start", "end"}, "start must be before end")
	}

	span := end.Sub(start)
	period := PeriodMonth
	switch {
	case span <= 48*time.Hour:
		period = PeriodHour
	case span <= 92*24*time.Hour:
		period = PeriodDay
	case span <= 366*24*time.Hour:
		period = PeriodWeek
	}
	return TimeRange{Start: start, End: end, Period: period}, nil
}

// bucketExpr returns the sqlite strftime expression that truncates a
// DATETIME column to the range's granularity. The formats sort
// lexicographically in chronological order.
func (tr TimeRange) bucketExpr(column string) string {
	switch tr.Period {
	case PeriodHour:
		return "strftime('%Y-%m-%d %H:00', " + column + ")"
	case PeriodWeek:
		return "strftime('%Y', " + column + ") || '-W' || strftime('%W', " + column + ")"
	case PeriodMonth:
		return "strftime('%Y-%m', " + column + ")"
	default:
		return "strftime('%Y-%m-%d', " + column + ")"
	}
}

// endsBeforeToday reports whether the range closes before midnight UTC
// today, which makes the rollup tables authoritative for the whole range.
func (tr TimeRange) endsBeforeToday(now time.Time) bool {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !tr.End.After(midnight)
}
