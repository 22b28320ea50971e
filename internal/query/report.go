// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package query

// TimeSeriesPoint is one bucket of the merged view/click series.
type TimeSeriesPoint struct {
	Date   string `json:"date"`
	Views  int64  `json:"views"`
	Clicks int64  `json:"clicks"`
}

// GeoPoint is one country's share of the range.
type GeoPoint struct {
	Country string `json:"country"`
	Views   int64  `json:"views"`
	Clicks  int64  `json:"clicks"`
}

// DevicePoint is one device type's share of the range.
type DevicePoint struct {
	DeviceType string `json:"deviceType"`
	Views      int64  `json:"views"`
	Clicks     int64  `json:"clicks"`
}

// ReferrerPoint is one referrer's share of the range. Referrer is the
// hostname when the stored value parses, "direct" for empty referrers and
// the raw string otherwise.
type ReferrerPoint struct {
	Referrer string `json:"referrer"`
	Views    int64  `json:"views"`
	Clicks   int64  `json:"clicks"`
}

// LinkPerformance is one link's click stats over the range.
type LinkPerformance struct {
	LinkIndex    int     `json:"linkIndex"`
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	Clicks       int64   `json:"clicks"`
	UniqueClicks int64   `json:"uniqueClicks"`
	CTR          float64 `json:"ctr"`
}

// AnalyticsReport is the full dashboard payload for one profile and range.
type AnalyticsReport struct {
	ProfileID            string            `json:"profileId"`
	StartMs              int64             `json:"start"`
	EndMs                int64             `json:"end"`
	Period               string            `json:"period"`
	ProfileViews         int64             `json:"profileViews"`
	UniqueViews          int64             `json:"uniqueViews"`
	TotalClicks          int64             `json:"totalClicks"`
	UniqueClicks         int64             `json:"uniqueClicks"`
	TotalLinks           int64             `json:"totalLinks"`
	AverageClicksPerLink float64           `json:"averageClicksPerLink"`
	TopLink              *LinkPerformance  `json:"topLink"`
	TimeSeriesData       []TimeSeriesPoint `json:"timeSeriesData"`
	GeographicData       []GeoPoint        `json:"geographicData"`
	DeviceData           []DevicePoint     `json:"deviceData"`
	ReferrerData         []ReferrerPoint   `json:"referrerData"`
	LinkPerformance      []LinkPerformance `json:"linkPerformance"`
}

// Summary is the condensed 30-day payload.
type Summary struct {
	ProfileID            string           `json:"profileId"`
	ProfileViews         int64            `json:"profileViews"`
	UniqueViews          int64            `json:"uniqueViews"`
	TotalClicks          int64            `json:"totalClicks"`
	UniqueClicks         int64            `json:"uniqueClicks"`
	TotalLinks           int64            `json:"totalLinks"`
	AverageClicksPerLink float64          `json:"averageClicksPerLink"`
	TopLink              *LinkPerformance `json:"topLink"`
}

// LinksReport is the period-scoped link slice.
type LinksReport struct {
	ProfileID       string            `json:"profileId"`
	TotalLinks      int64             `json:"totalLinks"`
	TopLink         *LinkPerformance  `json:"topLink"`
	LinkPerformance []LinkPerformance `json:"linkPerformance"`
}

// GeoReport is the period-scoped geographic slice.
type GeoReport struct {
	ProfileID      string     `json:"profileId"`
	GeographicData []GeoPoint `json:"geographicData"`
}
