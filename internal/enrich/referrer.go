// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package enrich

import (
	"net/url"
	"strings"
)

// Referrer type values.
const (
	ReferrerDirect = "direct"
	ReferrerSearch = "search"
	ReferrerSocial = "social"
	ReferrerOther  = "other"
)

var searchHosts = []string{
	"google.", "bing.", "yahoo.", "duckduckgo.", "baidu.", "yandex.", "ecosia.",
}

var socialHosts = []string{
	"facebook.", "fb.com", "twitter.", "x.com", "t.co", "instagram.",
	"linkedin.", "tiktok.", "reddit.", "youtube.", "youtu.be", "pinterest.",
	"threads.", "mastodon.", "bsky.app", "telegram.", "t.me", "discord.",
}

// ReferrerHost reduces a raw referrer to its lowercase hostname, as-is
// ("www." stays). Unparseable or empty input yields "".
func ReferrerHost(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" {
		// Bare hostnames arrive without a scheme.
		u, err = url.Parse("https://" + referrer)
		if err != nil || u.Host == "" {
			return ""
		}
	}
	return strings.ToLower(u.Hostname())
}

// ClassifyReferrer buckets a raw referrer into direct, search, social or
// other by hostname. The empty string and the literal "direct" (as sent
// by clients that tag direct traffic themselves) are both direct.
func ClassifyReferrer(referrer string) string {
	if referrer == "" || referrer == ReferrerDirect {
		return ReferrerDirect
	}
	host := strings.TrimPrefix(ReferrerHost(referrer), "www.")
	if host == "" {
		return ReferrerOther
	}
	for _, prefix := range searchHosts {
		if strings.HasPrefix(host, prefix) || strings.Contains(host, "."+prefix) {
			return ReferrerSearch
		}
	}
	for _, known := range socialHosts {
		if strings.HasPrefix(host, known) || strings.Contains(host, "."+known) || host == strings.TrimSuffix(known, ".") {
			return ReferrerSocial
		}
	}
	return ReferrerOther
}
