// Package localtime maps UTC instants onto venue-local calendar buckets.
//
// Every function is pure: callers pass the instant, nothing reads the wall
// clock. Offsets are taken from the IANA zone database at the instant in
// question, so DST transitions and non-whole-hour offsets come out right.
package localtime

import (
	"fmt"
	"time"

	"github.com/parkpulse/parkpulse/pkg/model"
)

// Bucket is a venue-local calendar position: a date plus an hour of day.
type Bucket struct {
	Date string
	Hour int
}

// Split converts a UTC instant into its local date, hour and formatted
// timestamp as observed in the given IANA zone.
func Split(utc time.Time, zone string) (Bucket, string, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Bucket{}, "", fmt.Errorf("unknown timezone %q: %w", zone, err)
	}

	local := utc.In(loc)
	b := Bucket{
		Date: local.Format(model.DateFormat),
		Hour: local.Hour(),
	}
	return b, local.Format(model.LocalTimeFormat), nil
}

// PreviousHour returns the bucket one hour before now as observed in zone.
// This is what unattended runs aggregate: by the time a run fires, the
// previous local hour is complete everywhere in that zone.
func PreviousHour(now time.Time, zone string) (Bucket, error) {
	b, _, err := Split(now.Add(-time.Hour), zone)
	return b, err
}

// PreviousDate returns the local calendar date one day before now as
// observed in zone.
func PreviousDate(now time.Time, zone string) (string, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return "", fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	return now.In(loc).AddDate(0, 0, -1).Format(model.DateFormat), nil
}

// PreviousMonth returns the year and month before now as observed in zone.
func PreviousMonth(now time.Time, zone string) (int, int, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return 0, 0, fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	prev := now.In(loc).AddDate(0, -1, 0)
	return prev.Year(), int(prev.Month()), nil
}

// Convert re-expresses a (date, hour) pair from one zone in another zone.
// Used by manual runs triggered with a reference timezone different from the
// target venue's own: both zones observe the same instant, possibly on
// different calendar dates.
func Convert(date string, hour int, fromZone, toZone string) (Bucket, error) {
	from, err := time.LoadLocation(fromZone)
	if err != nil {
		return Bucket{}, fmt.Errorf("unknown timezone %q: %w", fromZone, err)
	}
	to, err := time.LoadLocation(toZone)
	if err != nil {
		return Bucket{}, fmt.Errorf("unknown timezone %q: %w", toZone, err)
	}

	day, err := time.ParseInLocation(model.DateFormat, date, from)
	if err != nil {
		return Bucket{}, fmt.Errorf("bad date %q: %w", date, err)
	}
	instant := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, from)

	local := instant.In(to)
	return Bucket{
		Date: local.Format(model.DateFormat),
		Hour: local.Hour(),
	}, nil
}

// DayBounds returns the UTC instants at which a local calendar date begins
// and ends in zone. The end bound is exclusive.
func DayBounds(date, zone string) (time.Time, time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	day, err := time.ParseInLocation(model.DateFormat, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad date %q: %w", date, err)
	}
	return day.UTC(), day.AddDate(0, 0, 1).UTC(), nil
}
