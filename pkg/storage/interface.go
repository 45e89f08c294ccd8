package storage

import (
	"context"
	"errors"
	"time"

	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/schedule"
)

// ErrNotFound is returned by point lookups when no row exists for the key.
var ErrNotFound = errors.New("storage: not found")

// Store is the keyed storage surface the pipeline needs: idempotent upserts,
// range reads by key prefix and range deletes by key prefix.
// Implementations: badger (production), memory (testing).
type Store interface {
	// Reference data, written by external sync processes; read-only to the
	// pipeline itself.
	UpsertVenue(ctx context.Context, v model.Venue) error
	Venues(ctx context.Context) ([]model.Venue, error)
	UpsertAttraction(ctx context.Context, a model.Attraction) error
	Attraction(ctx context.Context, id string) (model.Attraction, error)
	Attractions(ctx context.Context, venueID string) ([]model.Attraction, error)
	AllAttractions(ctx context.Context) ([]model.Attraction, error)

	// Operating windows, keyed by (venue, local date). SetWindows replaces
	// the full set for the date.
	SetWindows(ctx context.Context, venueID, date string, ws []model.OperatingWindow) error
	Windows(ctx context.Context, venueID, date string) ([]model.OperatingWindow, error)

	// Raw samples. WriteRawSamples persists one ingestion batch; samples are
	// immutable and only ever removed by DeleteRawSamples.
	WriteRawSamples(ctx context.Context, samples []model.RawSample) error
	RawSamples(ctx context.Context, attractionID, date string, hour int) ([]model.RawSample, error)
	RawSampleDates(ctx context.Context, attractionID string) ([]string, error)
	DeleteRawSamples(ctx context.Context, attractionID, date string) (int, error)

	// Aggregates. Upserts are keyed by (attraction, date[, hour]) and
	// overwrite in place, so re-running a rollup is always safe.
	UpsertHourly(ctx context.Context, s model.HourlyStat) error
	Hourly(ctx context.Context, attractionID, date string) ([]model.HourlyStat, error)
	UpsertDaily(ctx context.Context, s model.DailyStat) error
	Daily(ctx context.Context, attractionID, date string) (model.DailyStat, error)
	DailyForMonth(ctx context.Context, attractionID string, year, month int) ([]model.DailyStat, error)
	DailyDates(ctx context.Context, attractionID string) ([]string, error)
	UpsertMonthly(ctx context.Context, s model.MonthlyStat) error
	Monthly(ctx context.Context, attractionID string, year, month int) (model.MonthlyStat, error)

	Close() error
}

// WithinOpenWindow reports whether a UTC instant falls inside any OPERATING
// window of the venue on that instant's venue-local date. Convenience
// predicate for presentation reads; the aggregation path applies the
// schedule filter itself.
func WithinOpenWindow(ctx context.Context, s Store, venue model.Venue, at time.Time) (bool, error) {
	loc, err := time.LoadLocation(venue.Timezone)
	if err != nil {
		return false, err
	}
	local := at.In(loc)

	ws, err := s.Windows(ctx, venue.ID, local.Format(model.DateFormat))
	if err != nil {
		return false, err
	}
	return schedule.HourOpen(local.Hour(), ws), nil
}
