// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package enrich

import (
	"github.com/mileusna/useragent"
)

// Device holds the parsed device attributes of a user agent.
type Device struct {
	Type    string // mobile, tablet or desktop
	Browser string
	OS      string
}

// Device type values.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// ParseUserAgent extracts browser, OS and device type from a user agent
// string. An empty input returns all-empty fields; anything else defaults
// the device type to desktop when the parser reports neither mobile nor
// tablet.
func ParseUserAgent(uaString string) Device {
	if uaString == "" {
		return Device{}
	}

	ua := useragent.Parse(uaString)

	device := Device{
		Browser: ua.Name,
		OS:      ua.OS,
	}

	switch {
	case ua.Mobile:
		device.Type = DeviceMobile
	case ua.Tablet:
		device.Type = DeviceTablet
	default:
		device.Type = DeviceDesktop
	}

	return device
}
