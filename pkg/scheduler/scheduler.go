// Package scheduler orchestrates pipeline runs: it decides which venue-local
// date/hour each run targets, fans work out across attractions, and folds
// per-item failures into a run summary instead of aborting the batch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parkpulse/parkpulse/pkg/aggregate"
	"github.com/parkpulse/parkpulse/pkg/events"
	"github.com/parkpulse/parkpulse/pkg/ingest"
	"github.com/parkpulse/parkpulse/pkg/localtime"
	"github.com/parkpulse/parkpulse/pkg/logger"
	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/retention"
	"github.com/parkpulse/parkpulse/pkg/storage"
)

// Runner wires the pipeline stages together. Each Run* method is a
// short-lived batch job with no state carried between invocations, so a
// crashed run is recovered by simply running it again.
type Runner struct {
	store     storage.Store
	ingest    *ingest.Service
	agg       *aggregate.Aggregator
	corrector *aggregate.Corrector
	sweeper   *retention.Sweeper
	publisher events.Publisher
	log       logger.Logger

	// Now is the clock used to derive default dates/hours. Overridable in
	// tests; defaults to time.Now.
	Now func() time.Time
}

func New(store storage.Store, ing *ingest.Service, agg *aggregate.Aggregator, corrector *aggregate.Corrector, sweeper *retention.Sweeper, publisher events.Publisher, log logger.Logger) *Runner {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Runner{
		store:     store,
		ingest:    ing,
		agg:       agg,
		corrector: corrector,
		sweeper:   sweeper,
		publisher: publisher,
		log:       log,
		Now:       time.Now,
	}
}

// AddPublisher fans run summaries out to an additional publisher. Called
// during wiring, before any Run* method.
func (r *Runner) AddPublisher(p events.Publisher) {
	r.publisher = events.Multi{r.publisher, p}
}

// HourlyOptions selects the scope of a RunHourly invocation. With a zero
// value the run targets every active attraction at its venue's previous
// local hour.
type HourlyOptions struct {
	// Date and Hour pin an explicit venue-local (or reference-zone) slot.
	// An empty Date means "previous local hour per venue timezone".
	Date    string
	Hour    int
	HasHour bool

	// AllHours aggregates every hour of the target date instead of one.
	AllHours bool

	// AttractionID limits the run to a single attraction.
	AttractionID string

	// ReferenceTimezone, when set alongside Date/Hour, states the zone the
	// explicit slot was expressed in; it is converted into each venue's own
	// zone before aggregating.
	ReferenceTimezone string
}

// DailyOptions selects the scope of a RunDaily invocation.
type DailyOptions struct {
	// Date is a venue-local date; empty means "previous local date".
	Date string

	// Cleanup runs the retention sweeper for each venue whose daily
	// aggregation finished with zero errors.
	Cleanup bool

	// ForceUpdate recomputes dates that already have a daily stat instead
	// of skipping them.
	ForceUpdate bool
}

// MonthlyOptions selects the scope of a RunMonthly invocation. Zero values
// mean "previous month per venue timezone".
type MonthlyOptions struct {
	Year  int
	Month int
}

// RunHourly aggregates one hour (or a whole day of hours) per attraction.
// Venues are grouped by timezone so that an unattended run hits each
// venue's own previous local hour rather than a single global UTC hour.
func (r *Runner) RunHourly(ctx context.Context, opts HourlyOptions) model.RunSummary {
	sum := r.newSummary("hourly")

	groups, err := r.loadGroups(ctx, opts.AttractionID)
	if err != nil {
		return r.finish(ctx, sum, fmt.Sprintf("load venues: %v", err), err)
	}

	now := r.Now()
	for _, grp := range groups {
		date, hours, err := r.hourlySlots(grp.venue, opts, now)
		if err != nil {
			r.log.WithField("venue", grp.venue.ID).Errorf("resolve target hour: %v", err)
			sum.ErrorCount += len(grp.attractions)
			sum.TotalItems += len(grp.attractions)
			continue
		}

		for _, a := range grp.attractions {
			for _, h := range hours {
				if ctx.Err() != nil {
					return r.finish(ctx, sum, "run cancelled", ctx.Err())
				}
				sum.TotalItems++
				skipped, err := r.agg.Hour(ctx, a.ID, date, h)
				switch {
				case err != nil:
					r.log.WithFields(map[string]interface{}{
						"attraction": a.ID, "date": date, "hour": h,
					}).Errorf("hourly aggregation: %v", err)
					sum.ErrorCount++
				case skipped:
					sum.SkippedCount++
				default:
					sum.SuccessCount++
				}
			}
		}
	}

	msg := fmt.Sprintf("aggregated %d hourly stats, %d out-of-window", sum.SuccessCount, sum.SkippedCount)
	return r.finish(ctx, sum, msg, nil)
}

// hourlySlots resolves the (date, hours) a venue should be aggregated for.
func (r *Runner) hourlySlots(venue model.Venue, opts HourlyOptions, now time.Time) (string, []int, error) {
	if opts.Date == "" {
		prev, err := localtime.PreviousHour(now, venue.Timezone)
		if err != nil {
			return "", nil, err
		}
		if opts.AllHours {
			return prev.Date, allHours(), nil
		}
		return prev.Date, []int{prev.Hour}, nil
	}

	// Explicit date without an explicit hour covers the whole day.
	if opts.AllHours || !opts.HasHour {
		return opts.Date, allHours(), nil
	}

	date, hour := opts.Date, opts.Hour
	if opts.ReferenceTimezone != "" && opts.ReferenceTimezone != venue.Timezone {
		b, err := localtime.Convert(date, hour, opts.ReferenceTimezone, venue.Timezone)
		if err != nil {
			return "", nil, err
		}
		date, hour = b.Date, b.Hour
	}
	return date, []int{hour}, nil
}

// RunDaily rolls hourly stats up into daily stats, one date per venue, and
// optionally sweeps expired raw samples for venues that finished clean.
func (r *Runner) RunDaily(ctx context.Context, opts DailyOptions) model.RunSummary {
	sum := r.newSummary("daily")

	groups, err := r.loadGroups(ctx, "")
	if err != nil {
		return r.finish(ctx, sum, fmt.Sprintf("load venues: %v", err), err)
	}

	now := r.Now()
	swept := 0
	for _, grp := range groups {
		date := opts.Date
		if date == "" {
			d, err := localtime.PreviousDate(now, grp.venue.Timezone)
			if err != nil {
				r.log.WithField("venue", grp.venue.ID).Errorf("resolve target date: %v", err)
				sum.ErrorCount += len(grp.attractions)
				sum.TotalItems += len(grp.attractions)
				continue
			}
			date = d
		}

		venueErrors := 0
		for _, a := range grp.attractions {
			if ctx.Err() != nil {
				return r.finish(ctx, sum, "run cancelled", ctx.Err())
			}
			sum.TotalItems++

			if !opts.ForceUpdate {
				if _, err := r.store.Daily(ctx, a.ID, date); err == nil {
					sum.SkippedCount++
					continue
				} else if !errors.Is(err, storage.ErrNotFound) {
					sum.ErrorCount++
					venueErrors++
					continue
				}
			}

			if err := r.agg.Day(ctx, a.ID, date); err != nil {
				r.log.WithFields(map[string]interface{}{
					"attraction": a.ID, "date": date,
				}).Errorf("daily aggregation: %v", err)
				sum.ErrorCount++
				venueErrors++
				continue
			}
			sum.SuccessCount++
		}

		// Raw samples are only eligible for deletion once the venue's day
		// aggregated without errors.
		if opts.Cleanup && venueErrors == 0 {
			for _, a := range grp.attractions {
				res, err := r.sweeper.SweepAttraction(ctx, a, grp.venue, now)
				if err != nil {
					r.log.WithField("attraction", a.ID).Errorf("retention sweep: %v", err)
					sum.ErrorCount++
					continue
				}
				swept += res.DatesDeleted
			}
		}
	}

	msg := fmt.Sprintf("aggregated %d daily stats, %d skipped", sum.SuccessCount, sum.SkippedCount)
	if opts.Cleanup {
		msg += fmt.Sprintf(", swept %d raw dates", swept)
	}
	return r.finish(ctx, sum, msg, nil)
}

// RunMonthly rolls daily stats up into monthly stats, one month per venue.
func (r *Runner) RunMonthly(ctx context.Context, opts MonthlyOptions) model.RunSummary {
	sum := r.newSummary("monthly")

	groups, err := r.loadGroups(ctx, "")
	if err != nil {
		return r.finish(ctx, sum, fmt.Sprintf("load venues: %v", err), err)
	}

	now := r.Now()
	for _, grp := range groups {
		year, month := opts.Year, opts.Month
		if year == 0 || month == 0 {
			y, m, err := localtime.PreviousMonth(now, grp.venue.Timezone)
			if err != nil {
				r.log.WithField("venue", grp.venue.ID).Errorf("resolve target month: %v", err)
				sum.ErrorCount += len(grp.attractions)
				sum.TotalItems += len(grp.attractions)
				continue
			}
			year, month = y, m
		}

		for _, a := range grp.attractions {
			if ctx.Err() != nil {
				return r.finish(ctx, sum, "run cancelled", ctx.Err())
			}
			sum.TotalItems++
			if err := r.agg.Month(ctx, a.ID, year, month); err != nil {
				r.log.WithFields(map[string]interface{}{
					"attraction": a.ID, "year": year, "month": month,
				}).Errorf("monthly aggregation: %v", err)
				sum.ErrorCount++
				continue
			}
			sum.SuccessCount++
		}
	}

	msg := fmt.Sprintf("aggregated %d monthly stats", sum.SuccessCount)
	return r.finish(ctx, sum, msg, nil)
}

// RunBackfillDaily recomputes stored daily stats against current operating
// windows. Empty date and attraction id widen the scope to everything.
func (r *Runner) RunBackfillDaily(ctx context.Context, date, attractionID string) model.RunSummary {
	sum := r.newSummary("backfill-daily")

	res, err := r.corrector.Run(ctx, attractionID, date)
	sum.TotalItems = res.Processed
	sum.ErrorCount = res.Errors
	sum.SuccessCount = res.Updated
	sum.SkippedCount = res.Processed - res.Updated - res.Errors
	if err != nil {
		return r.finish(ctx, sum, fmt.Sprintf("backfill aborted: %v", err), err)
	}

	msg := fmt.Sprintf("recomputed %d daily stats, %d changed", res.Processed, res.Updated)
	return r.finish(ctx, sum, msg, nil)
}

// RunIngest performs one live-data poll across all active venues.
func (r *Runner) RunIngest(ctx context.Context) model.RunSummary {
	sum := r.newSummary("ingest")

	results := r.ingest.PollAll(ctx, r.Now())
	written, unmatched := 0, 0
	for _, res := range results {
		sum.TotalItems++
		if res.Err != nil {
			sum.ErrorCount++
		} else {
			sum.SuccessCount++
		}
		written += res.RawSamplesWritten
		unmatched += res.UnmatchedCount
	}

	msg := fmt.Sprintf("wrote %d raw samples across %d venues, %d unmatched entities", written, len(results), unmatched)
	return r.finish(ctx, sum, msg, nil)
}

// venueGroup pairs a venue with its active attractions.
type venueGroup struct {
	venue       model.Venue
	attractions []model.Attraction
}

// loadGroups loads active attractions grouped per venue, optionally
// narrowed to a single attraction.
func (r *Runner) loadGroups(ctx context.Context, attractionID string) ([]venueGroup, error) {
	venues, err := r.store.Venues(ctx)
	if err != nil {
		return nil, err
	}

	var all []model.Attraction
	if attractionID != "" {
		a, err := r.store.Attraction(ctx, attractionID)
		if err != nil {
			return nil, err
		}
		all = []model.Attraction{a}
	} else {
		all, err = r.store.AllAttractions(ctx)
		if err != nil {
			return nil, err
		}
	}

	byVenue := make(map[string][]model.Attraction)
	for _, a := range all {
		if !a.Active {
			continue
		}
		byVenue[a.VenueID] = append(byVenue[a.VenueID], a)
	}

	var groups []venueGroup
	for _, v := range venues {
		if !v.Active {
			continue
		}
		if as := byVenue[v.ID]; len(as) > 0 {
			groups = append(groups, venueGroup{venue: v, attractions: as})
		}
	}
	return groups, nil
}

func (r *Runner) newSummary(scope string) model.RunSummary {
	return model.RunSummary{
		RunID:     uuid.NewString(),
		Scope:     scope,
		StartedAt: r.Now().UTC(),
	}
}

// finish stamps the summary, publishes it, and logs the outcome. A publish
// failure is logged but never fails the run itself.
func (r *Runner) finish(ctx context.Context, sum model.RunSummary, msg string, fatal error) model.RunSummary {
	sum.FinishedAt = r.Now().UTC()
	sum.Message = msg
	sum.Success = fatal == nil && sum.ErrorCount == 0

	if err := r.publisher.Publish(context.WithoutCancel(ctx), sum); err != nil {
		r.log.Errorf("publish run summary: %v", err)
	}

	fields := map[string]interface{}{
		"run_id":  sum.RunID,
		"scope":   sum.Scope,
		"total":   sum.TotalItems,
		"ok":      sum.SuccessCount,
		"errors":  sum.ErrorCount,
		"skipped": sum.SkippedCount,
	}
	if sum.Success {
		r.log.WithFields(fields).Info(msg)
	} else {
		r.log.WithFields(fields).Error(msg)
	}
	return sum
}

func allHours() []int {
	hs := make([]int, 24)
	for i := range hs {
		hs[i] = i
	}
	return hs
}
