package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/parkpulse/parkpulse/pkg/logger"
	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/storage"
)

// Corrector recomputes daily statistics after timezone or operating-window
// data has been corrected. It never needs raw samples: stored hourly rows
// (or, once those are gone too, the daily row's hourly digest) carry enough
// to re-run the daily formula against the current schedule.
type Corrector struct {
	store storage.Store
	log   logger.Logger
}

// NewCorrector builds a corrector over the given store.
func NewCorrector(store storage.Store, log logger.Logger) *Corrector {
	return &Corrector{store: store, log: log.WithField("component", "backfill")}
}

// RecomputeDay rebuilds the DailyStat for (attraction, date) from hourly
// rows, falling back to the stored hourly digest, filtered through the
// current OPERATING windows. Returns whether the stored row changed.
func (c *Corrector) RecomputeDay(ctx context.Context, attractionID, date string) (updated bool, err error) {
	attraction, err := c.store.Attraction(ctx, attractionID)
	if err != nil {
		return false, fmt.Errorf("attraction %s: %w", attractionID, err)
	}
	windows, err := c.store.Windows(ctx, attraction.VenueID, date)
	if err != nil {
		return false, fmt.Errorf("windows for %s/%s: %w", attraction.VenueID, date, err)
	}

	previous, prevErr := c.store.Daily(ctx, attractionID, date)
	havePrevious := prevErr == nil
	if prevErr != nil && prevErr != storage.ErrNotFound {
		return false, fmt.Errorf("daily row for %s/%s: %w", attractionID, date, prevErr)
	}

	hourly, err := c.store.Hourly(ctx, attractionID, date)
	if err != nil {
		return false, fmt.Errorf("hourly rows for %s/%s: %w", attractionID, date, err)
	}

	var digest []model.HourDigest
	switch {
	case len(hourly) > 0:
		digest = digestFromHourly(hourly)
	case havePrevious:
		// Raw samples and hourly rows may both be gone by now; the digest
		// is the recovery path of last resort.
		digest = previous.Hours
	default:
		c.log.Debugf("Nothing to recompute for %s/%s", attractionID, date)
		return false, nil
	}

	stat := dayFromDigest(attractionID, date, digest, windows)
	if havePrevious && statsEqual(previous, stat) {
		return false, nil
	}
	if err := c.store.UpsertDaily(ctx, stat); err != nil {
		return false, fmt.Errorf("%w: daily %s/%s: %v", model.ErrStoreWrite, attractionID, date, err)
	}
	return true, nil
}

// statsEqual compares two daily rows by their canonical encoding.
func statsEqual(a, b model.DailyStat) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}

// Result counts the rows a backfill run touched.
type Result struct {
	Processed int
	Updated   int
	Errors    int
}

// Run recomputes daily stats across a scope: a single attraction or all
// attractions (empty id), a single date or every date with a daily row
// (empty date). Per-row failures are counted and the sweep continues.
func (c *Corrector) Run(ctx context.Context, attractionID, date string) (Result, error) {
	var res Result

	var attractions []model.Attraction
	if attractionID != "" {
		a, err := c.store.Attraction(ctx, attractionID)
		if err != nil {
			return res, fmt.Errorf("attraction %s: %w", attractionID, err)
		}
		attractions = []model.Attraction{a}
	} else {
		var err error
		attractions, err = c.store.AllAttractions(ctx)
		if err != nil {
			return res, fmt.Errorf("listing attractions: %w", err)
		}
	}

	for _, a := range attractions {
		if ctx.Err() != nil {
			break
		}
		if !a.Active {
			continue
		}

		dates := []string{date}
		if date == "" {
			var err error
			dates, err = c.store.DailyDates(ctx, a.ID)
			if err != nil {
				c.log.Errorf("Listing dates for %s failed: %v", a.ID, err)
				res.Errors++
				continue
			}
		}

		for _, d := range dates {
			res.Processed++
			updated, err := c.RecomputeDay(ctx, a.ID, d)
			if err != nil {
				c.log.Errorf("Recompute failed for %s/%s: %v", a.ID, d, err)
				res.Errors++
				continue
			}
			if updated {
				res.Updated++
			}
		}
	}

	c.log.Infof("Backfill done: %d processed, %d updated, %d errors",
		res.Processed, res.Updated, res.Errors)
	return res, nil
}
