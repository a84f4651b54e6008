// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/waybar-bike/internal/tracking"
)

type fuelLevel int

const (
	fuelLevelFull fuelLevel = iota
	fuelLevelReserve
	fuelLevelEmpty
)

var fuelIcons = map[fuelLevel]string{
	fuelLevelFull:    "⛽",
	fuelLevelReserve: "⚠️",
	fuelLevelEmpty:   "🛑",
}

var permissionStatus = map[tracking.Permission]localize.MsgID{
	tracking.PermissionPrompt:  "Waiting for GPS",
	tracking.PermissionGranted: "GPS active",
	tracking.PermissionDenied:  "GPS access denied",
}

var i18nVars = map[string]localize.MsgID{
	"fuel":       "Fuel",
	"range":      "Range",
	"trip":       "Trip",
	"odometer":   "Odometer",
	"economy":    "Fuel economy",
	"reserve":    "Reserve",
	"speed":      "Speed",
	"lastrefuel": "Last refuel",
	"norefuel":   "No refuel recorded yet",
	"gps":        "GPS",
	"sunrise":    "Sunrise",
	"sunset":     "Sunset",
}
