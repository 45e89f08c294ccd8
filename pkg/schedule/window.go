// Package schedule decides whether a local hour falls inside a venue's
// operating window. Both forward aggregation and retroactive correction go
// through this one filter, so open/closed semantics can never diverge
// between the two paths.
package schedule

import (
	"github.com/parkpulse/parkpulse/pkg/model"
)

// IsWithin reports whether hour falls inside [openHour, closeHour).
// When closeHour is earlier than openHour the window crosses local midnight:
// open=22 close=2 accepts 22, 23, 0, 1.
func IsWithin(hour, openHour, closeHour int) bool {
	if openHour <= closeHour {
		return hour >= openHour && hour < closeHour
	}
	return hour >= openHour || hour < closeHour
}

// Operating returns the OPERATING windows among ws. INFO, TICKETED_EVENT and
// EXTRA_HOURS windows never gate statistical inclusion.
func Operating(ws []model.OperatingWindow) []model.OperatingWindow {
	var out []model.OperatingWindow
	for _, w := range ws {
		if w.Type == model.WindowOperating {
			out = append(out, w)
		}
	}
	return out
}

// HourOpen reports whether hour is inside any OPERATING window in ws.
// A date with no OPERATING window is closed all day: no hour passes.
func HourOpen(hour int, ws []model.OperatingWindow) bool {
	for _, w := range Operating(ws) {
		if IsWithin(hour, w.OpenHour(), w.CloseHour()) {
			return true
		}
	}
	return false
}

// OpenHours returns the set of local hours (0-23) inside any OPERATING
// window in ws, in ascending order.
func OpenHours(ws []model.OperatingWindow) []int {
	var hours []int
	for h := 0; h < 24; h++ {
		if HourOpen(h, ws) {
			hours = append(hours, h)
		}
	}
	return hours
}

// OpenMinutes returns the total in-window minutes for the date, counting each
// open hour as 60. Used as the denominator of the operational percentage.
func OpenMinutes(ws []model.OperatingWindow) float64 {
	return float64(len(OpenHours(ws)) * 60)
}
