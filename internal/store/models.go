// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import "time"

// ProfileView is one raw view event row.
type ProfileView struct {
	ID         int64
	ProfileID  string
	SessionID  string
	VisitorIP  string
	UserAgent  string
	Referrer   string
	Country    string
	Region     string
	City       string
	DeviceType string
	Browser    string
	OS         string
	CreatedAt  time.Time
}

// LinkClick is one raw click event row.
type LinkClick struct {
	ID         int64
	ProfileID  string
	LinkIndex  int
	LinkTitle  string
	LinkURL    string
	SessionID  string
	VisitorIP  string
	UserAgent  string
	Referrer   string
	Country    string
	Region     string
	City       string
	DeviceType string
	Browser    string
	OS         string
	CreatedAt  time.Time
}

// Session is a contiguous activity span by a single visitor.
type Session struct {
	SessionID  string
	ProfileID  string
	VisitorIP  string
	UserAgent  string
	Country    string
	Region     string
	City       string
	DeviceType string
	Browser    string
	OS         string
	StartTime  time.Time
	EndTime    *time.Time
	Duration   *int64 // seconds
	PageViews  int64
	LinkClicks int64
}

// DailyStats is the per-profile per-day rollup row.
type DailyStats struct {
	ProfileID    string
	Date         string
	Views        int64
	UniqueViews  int64
	Clicks       int64
	UniqueClicks int64
	Sessions     int64
	AvgDuration  *float64
	BounceRate   *float64
}

// LinkStats is the per-link per-day rollup row.
type LinkStats struct {
	ProfileID    string
	LinkIndex    int
	Date         string
	LinkTitle    string
	LinkURL      string
	Clicks       int64
	UniqueClicks int64
	CTR          float64
}

// RealtimeEvent is a durable fan-out bus row.
type RealtimeEvent struct {
	ID        int64
	ProfileID string
	Kind      string
	Payload   string
	CreatedAt time.Time
	Processed bool
}

// TimeLayout is the canonical UTC timestamp format for DATETIME columns.
const TimeLayout = "2006-01-02 15:04:05"

// DateLayout is the canonical format for DATE columns (midnight UTC truncation).
const DateLayout = "2006-01-02"

// FormatTime renders a timestamp for storage, always in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp back into a UTC time.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}

// DateOf returns the midnight-UTC date bucket of a timestamp.
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
