// Package retention deletes raw samples once they are both aggregated and
// older than the retention floor. Hourly, daily and monthly rows are never
// swept; after a sweep the backfill corrector is the only recovery path for
// a date, which is exactly what the daily hourly digest exists for.
package retention

import (
	"context"
	"fmt"

	"time"

	"github.com/parkpulse/parkpulse/pkg/logger"
	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/storage"
)

// Sweeper removes expired raw samples.
type Sweeper struct {
	store storage.Store
	// minDays is the retention floor: dates younger than this many venue-local
	// days are kept regardless of aggregation state, so near-term
	// recomputation can still reach raw data.
	minDays int
	log     logger.Logger
}

// New builds a sweeper with the given retention floor in days.
func New(store storage.Store, minDays int, log logger.Logger) *Sweeper {
	return &Sweeper{store: store, minDays: minDays, log: log.WithField("component", "retention")}
}

// Result counts one sweep's work.
type Result struct {
	DatesScanned   int
	DatesDeleted   int
	SamplesDeleted int
	Skipped        int
	Errors         int
}

// SweepAttraction deletes raw sample dates for one attraction that are (a)
// older than the retention floor as observed in the venue's timezone and (b)
// covered by a stored daily stat.
func (s *Sweeper) SweepAttraction(ctx context.Context, attraction model.Attraction, venue model.Venue, now time.Time) (Result, error) {
	var res Result

	cutoff, err := cutoffDate(now, venue.Timezone, s.minDays)
	if err != nil {
		return res, fmt.Errorf("venue %s: %w", venue.ID, err)
	}

	dates, err := s.store.RawSampleDates(ctx, attraction.ID)
	if err != nil {
		return res, fmt.Errorf("raw dates for %s: %w", attraction.ID, err)
	}

	for _, date := range dates {
		if ctx.Err() != nil {
			break
		}
		res.DatesScanned++

		if date >= cutoff {
			res.Skipped++
			continue
		}
		// Deletion is gated on successful daily aggregation: no daily row,
		// no delete.
		if _, err := s.store.Daily(ctx, attraction.ID, date); err != nil {
			if err == storage.ErrNotFound {
				s.log.Warnf("Keeping raw samples for %s/%s: no daily stat yet", attraction.ID, date)
				res.Skipped++
				continue
			}
			res.Errors++
			continue
		}

		n, err := s.store.DeleteRawSamples(ctx, attraction.ID, date)
		if err != nil {
			s.log.Errorf("Delete failed for %s/%s: %v", attraction.ID, date, err)
			res.Errors++
			continue
		}
		res.DatesDeleted++
		res.SamplesDeleted += n
	}
	return res, nil
}

// Sweep runs SweepAttraction across every active attraction of every active
// venue. Per-attraction failures are counted and the sweep continues.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) Result {
	var total Result

	venues, err := s.store.Venues(ctx)
	if err != nil {
		s.log.Errorf("Listing venues failed: %v", err)
		total.Errors++
		return total
	}

	for _, v := range venues {
		if !v.Active {
			continue
		}
		attractions, err := s.store.Attractions(ctx, v.ID)
		if err != nil {
			s.log.Errorf("Listing attractions for %s failed: %v", v.ID, err)
			total.Errors++
			continue
		}
		for _, a := range attractions {
			if !a.Active {
				continue
			}
			res, err := s.SweepAttraction(ctx, a, v, now)
			if err != nil {
				s.log.Errorf("Sweep failed for %s: %v", a.ID, err)
				total.Errors++
			}
			total.DatesScanned += res.DatesScanned
			total.DatesDeleted += res.DatesDeleted
			total.SamplesDeleted += res.SamplesDeleted
			total.Skipped += res.Skipped
			total.Errors += res.Errors
		}
	}

	s.log.Infof("Retention sweep: %d dates scanned, %d deleted (%d samples), %d kept, %d errors",
		total.DatesScanned, total.DatesDeleted, total.SamplesDeleted, total.Skipped, total.Errors)
	return total
}

// cutoffDate returns the oldest venue-local date that must be retained.
func cutoffDate(now time.Time, zone string, minDays int) (string, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return "", fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	return now.In(loc).AddDate(0, 0, -minDays).Format(model.DateFormat), nil
}
