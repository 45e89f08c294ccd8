// Package aggregate rolls raw samples up into hourly, daily and monthly
// statistics. Every rollup is a pure recomputation over its inputs followed
// by an idempotent upsert: re-running with the same inputs overwrites the
// target row with identical values.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/parkpulse/parkpulse/pkg/logger"
	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/schedule"
	"github.com/parkpulse/parkpulse/pkg/storage"
)

// minutesPerHour is the contribution of a fully operational hour.
const minutesPerHour = 60.0

// Aggregator computes the three rollup levels.
type Aggregator struct {
	store storage.Store
	log   logger.Logger
}

// New builds an aggregator over the given store.
func New(store storage.Store, log logger.Logger) *Aggregator {
	return &Aggregator{store: store, log: log.WithField("component", "aggregate")}
}

// Hour recomputes the HourlyStat for (attraction, date, hour) from raw
// samples. Returns skipped=true when the hour lies outside the date's
// OPERATING windows; no row is written in that case, so every stored
// HourlyStat is backed by in-window samples.
func (g *Aggregator) Hour(ctx context.Context, attractionID, date string, hour int) (skipped bool, err error) {
	attraction, err := g.store.Attraction(ctx, attractionID)
	if err != nil {
		return false, fmt.Errorf("attraction %s: %w", attractionID, err)
	}

	windows, err := g.store.Windows(ctx, attraction.VenueID, date)
	if err != nil {
		return false, fmt.Errorf("windows for %s/%s: %w", attraction.VenueID, date, err)
	}
	if !schedule.HourOpen(hour, windows) {
		// Closed hour (or no OPERATING window at all). Closed is a fact,
		// not an error.
		return true, nil
	}

	samples, err := g.store.RawSamples(ctx, attractionID, date, hour)
	if err != nil {
		return false, fmt.Errorf("raw samples for %s/%s/%d: %w", attractionID, date, hour, err)
	}

	stat := hourFromSamples(attractionID, date, hour, samples)
	if err := g.store.UpsertHourly(ctx, stat); err != nil {
		return false, fmt.Errorf("%w: hourly %s/%s/%d: %v", model.ErrStoreWrite, attractionID, date, hour, err)
	}
	return false, nil
}

// hourFromSamples is the pure hourly rollup. Sentinel samples (NO_DATA,
// NO_EXTERNAL_ID) prove the poll happened but carry no telemetry; they are
// excluded from the sample count and every statistic.
//
// Operational minutes are estimated from the fraction of telemetry samples
// whose status was OPERATING. Single-rider waits deliberately do not feed
// that estimate.
func hourFromSamples(attractionID, date string, hour int, samples []model.RawSample) model.HourlyStat {
	stat := model.HourlyStat{
		AttractionID: attractionID,
		Date:         date,
		Hour:         hour,
	}

	var standby, singleRider []float64
	var telemetry, operating int
	for _, s := range samples {
		if s.Status == model.StatusNoData || s.Status == model.StatusNoExternalID {
			continue
		}
		telemetry++
		if s.Status == model.StatusOperating {
			operating++
		}
		if s.StandbyWait != nil {
			standby = append(standby, float64(*s.StandbyWait))
		}
		if s.SingleRiderWait != nil {
			singleRider = append(singleRider, float64(*s.SingleRiderWait))
		}
	}

	stat.SampleCount = telemetry
	if telemetry > 0 {
		stat.OperationalMinutes = Round2(minutesPerHour * float64(operating) / float64(telemetry))
	}
	if len(standby) > 0 {
		lo, hi := minMax(standby)
		stat.AvgStandby = Round2(Mean(standby))
		stat.MinStandby = Round2(lo)
		stat.MaxStandby = Round2(hi)
	}
	if len(singleRider) > 0 {
		stat.AvgSingleRider = Round2(Mean(singleRider))
	}
	return stat
}

// Day recomputes the DailyStat for (attraction, date) from that date's
// hourly rows, restricted to in-window hours. When no hourly data exists the
// result is an all-zero row, not a failure.
func (g *Aggregator) Day(ctx context.Context, attractionID, date string) error {
	attraction, err := g.store.Attraction(ctx, attractionID)
	if err != nil {
		return fmt.Errorf("attraction %s: %w", attractionID, err)
	}
	windows, err := g.store.Windows(ctx, attraction.VenueID, date)
	if err != nil {
		return fmt.Errorf("windows for %s/%s: %w", attraction.VenueID, date, err)
	}
	hourly, err := g.store.Hourly(ctx, attractionID, date)
	if err != nil {
		return fmt.Errorf("hourly rows for %s/%s: %w", attractionID, date, err)
	}

	stat := dayFromDigest(attractionID, date, digestFromHourly(hourly), windows)
	if err := g.store.UpsertDaily(ctx, stat); err != nil {
		return fmt.Errorf("%w: daily %s/%s: %v", model.ErrStoreWrite, attractionID, date, err)
	}
	return nil
}

// digestFromHourly projects hourly rows onto the 24-entry digest shape the
// daily rollup (and later recomputation) consumes.
func digestFromHourly(hourly []model.HourlyStat) []model.HourDigest {
	digest := make([]model.HourDigest, 24)
	for h := range digest {
		digest[h].Hour = h
	}
	for _, hs := range hourly {
		if hs.Hour < 0 || hs.Hour > 23 {
			continue
		}
		digest[hs.Hour] = model.HourDigest{
			Hour:               hs.Hour,
			AvgStandby:         hs.AvgStandby,
			AvgSingleRider:     hs.AvgSingleRider,
			SampleCount:        hs.SampleCount,
			OperationalMinutes: hs.OperationalMinutes,
		}
	}
	return digest
}

// dayFromDigest is the pure daily rollup. It is the single formula shared by
// forward aggregation and retroactive correction; both paths therefore agree
// on open/closed semantics and arithmetic by construction.
//
// Daily avg/min/max/median are taken over the per-hour averages of in-window
// hours that saw telemetry, matching the median's definition.
func dayFromDigest(attractionID, date string, digest []model.HourDigest, windows []model.OperatingWindow) model.DailyStat {
	digest = normalizeDigest(digest)
	stat := model.DailyStat{
		AttractionID: attractionID,
		Date:         date,
		Hours:        digest,
	}

	openHours := schedule.OpenHours(windows)
	openMinutes := schedule.OpenMinutes(windows)

	var standby, singleRider []float64
	var operationalMinutes, downtimeMinutes float64
	peak := model.HourDigest{Hour: -1}
	quiet := model.HourDigest{Hour: -1}

	for _, h := range openHours {
		d := digest[h]
		operationalMinutes += d.OperationalMinutes
		if d.OperationalMinutes == 0 {
			// In-window hour with zero operational fraction, including
			// hours that produced no telemetry at all.
			downtimeMinutes += minutesPerHour
		}
		stat.SampleCount += d.SampleCount
		if d.SampleCount == 0 {
			continue
		}
		standby = append(standby, d.AvgStandby)
		if d.AvgSingleRider > 0 {
			singleRider = append(singleRider, d.AvgSingleRider)
		}
		if peak.Hour < 0 || d.AvgStandby > peak.AvgStandby {
			peak = d
		}
		if quiet.Hour < 0 || d.AvgStandby < quiet.AvgStandby {
			quiet = d
		}
	}

	if len(standby) > 0 {
		lo, hi := minMax(standby)
		stat.AvgStandby = Round2(Mean(standby))
		stat.MinStandby = Round2(lo)
		stat.MaxStandby = Round2(hi)
		stat.MedianStandby = Round2(Median(standby))
		stat.PeakHour = peak.Hour
		stat.PeakWait = peak.AvgStandby
		stat.QuietHour = quiet.Hour
		stat.QuietWait = quiet.AvgStandby
	}
	if len(singleRider) > 0 {
		lo, hi := minMax(singleRider)
		stat.AvgSingleRider = Round2(Mean(singleRider))
		stat.MinSingleRider = Round2(lo)
		stat.MaxSingleRider = Round2(hi)
	}

	stat.DowntimeMinutes = Round2(downtimeMinutes)
	if openMinutes > 0 {
		stat.OperationalPercent = Round2(operationalMinutes / openMinutes * 100)
	}
	return stat
}

// normalizeDigest expands a possibly sparse digest to exactly 24 entries
// indexed by hour.
func normalizeDigest(digest []model.HourDigest) []model.HourDigest {
	full := make([]model.HourDigest, 24)
	for h := range full {
		full[h].Hour = h
	}
	for _, d := range digest {
		if d.Hour >= 0 && d.Hour <= 23 {
			full[d.Hour] = d
		}
	}
	return full
}

// Month recomputes the MonthlyStat for (attraction, year, month) from the
// month's daily rows.
func (g *Aggregator) Month(ctx context.Context, attractionID string, year, month int) error {
	dailies, err := g.store.DailyForMonth(ctx, attractionID, year, month)
	if err != nil {
		return fmt.Errorf("daily rows for %s/%04d-%02d: %w", attractionID, year, month, err)
	}

	stat := monthFromDailies(attractionID, year, month, dailies)
	if err := g.store.UpsertMonthly(ctx, stat); err != nil {
		return fmt.Errorf("%w: monthly %s/%04d-%02d: %v", model.ErrStoreWrite, attractionID, year, month, err)
	}
	return nil
}

// monthFromDailies is the pure monthly rollup. Operating days are days with
// at least one telemetry sample; days without samples contribute nothing.
func monthFromDailies(attractionID string, year, month int, dailies []model.DailyStat) model.MonthlyStat {
	stat := model.MonthlyStat{
		AttractionID: attractionID,
		Year:         year,
		Month:        month,
	}

	var standby, singleRider, opPercents []float64
	hourSums := make([]float64, 24)
	hourCounts := make([]int, 24)
	var weekdaySums [7]float64
	var weekdayCounts [7]int
	busiestDay, quietestDay := -1, -1
	var busiestWait, quietestWait float64

	for _, d := range dailies {
		stat.SampleCount += d.SampleCount
		if d.SampleCount == 0 {
			continue
		}
		stat.OperatingDays++

		standby = append(standby, d.AvgStandby)
		if d.AvgSingleRider > 0 {
			singleRider = append(singleRider, d.AvgSingleRider)
		}
		opPercents = append(opPercents, d.OperationalPercent)

		day, err := time.Parse(model.DateFormat, d.Date)
		if err != nil {
			continue
		}
		dom := day.Day()
		if busiestDay < 0 || d.AvgStandby > busiestWait {
			busiestDay, busiestWait = dom, d.AvgStandby
		}
		if quietestDay < 0 || d.AvgStandby < quietestWait {
			quietestDay, quietestWait = dom, d.AvgStandby
		}

		// Monday=0 .. Sunday=6.
		wd := (int(day.Weekday()) + 6) % 7
		weekdaySums[wd] += d.AvgStandby
		weekdayCounts[wd]++

		for _, h := range d.Hours {
			if h.SampleCount > 0 {
				hourSums[h.Hour] += h.AvgStandby
				hourCounts[h.Hour]++
			}
		}
	}

	if len(standby) > 0 {
		lo, hi := minMax(standby)
		stat.AvgStandby = Round2(Mean(standby))
		stat.MinStandby = Round2(lo)
		stat.MaxStandby = Round2(hi)
		stat.MedianStandby = Round2(Median(standby))
		stat.BusiestDay = busiestDay
		stat.BusiestDayWait = busiestWait
		stat.QuietestDay = quietestDay
		stat.QuietestDayWait = quietestWait
		stat.AvgOperationalPercent = Round2(Mean(opPercents))
	}
	if len(singleRider) > 0 {
		lo, hi := minMax(singleRider)
		stat.AvgSingleRider = Round2(Mean(singleRider))
		stat.MinSingleRider = Round2(lo)
		stat.MaxSingleRider = Round2(hi)
		stat.MedianSingleRider = Round2(Median(singleRider))
	}

	peakHour, quietHour := -1, -1
	var peakWait, quietWait float64
	for h := 0; h < 24; h++ {
		if hourCounts[h] == 0 {
			continue
		}
		avg := Round2(hourSums[h] / float64(hourCounts[h]))
		if peakHour < 0 || avg > peakWait {
			peakHour, peakWait = h, avg
		}
		if quietHour < 0 || avg < quietWait {
			quietHour, quietWait = h, avg
		}
	}
	if peakHour >= 0 {
		stat.PeakHour = peakHour
		stat.PeakHourWait = peakWait
		stat.QuietHour = quietHour
		stat.QuietHourWait = quietWait
	}

	for wd := 0; wd < 7; wd++ {
		if weekdayCounts[wd] > 0 {
			stat.WeekdayAvg[wd] = Round2(weekdaySums[wd] / float64(weekdayCounts[wd]))
		}
	}
	return stat
}
