package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/parkpulse/parkpulse/pkg/logger"
	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/storage/memory"
)

const testDate = "2024-06-01"

func intPtr(v int) *int { return &v }

// seedPark sets up one venue with one attraction and a 10:00-22:00 OPERATING
// window on testDate.
func seedPark(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertVenue(ctx, model.Venue{ID: "v1", Timezone: "Europe/Paris", Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertAttraction(ctx, model.Attraction{ID: "r1", ExternalID: "e1", VenueID: "v1", Active: true}); err != nil {
		t.Fatal(err)
	}
	setWindow(t, store, testDate, 10, 22)
}

func setWindow(t *testing.T, store *memory.Store, date string, open, close int) {
	t.Helper()
	loc, _ := time.LoadLocation("Europe/Paris")
	day, _ := time.ParseInLocation(model.DateFormat, date, loc)
	w := model.OperatingWindow{
		VenueID: "v1", Date: date, Type: model.WindowOperating,
		Opens:  day.Add(time.Duration(open) * time.Hour),
		Closes: day.Add(time.Duration(close) * time.Hour),
	}
	if err := store.SetWindows(context.Background(), "v1", date, []model.OperatingWindow{w}); err != nil {
		t.Fatal(err)
	}
}

// hourSample builds one OPERATING sample at the given local hour with
// standby wait equal to the hour index.
func hourSample(date string, hour int) model.RawSample {
	return model.RawSample{
		AttractionID: "r1",
		CapturedAt:   time.Date(2024, 6, 1, hour, 0, 0, 0, time.UTC),
		LocalDate:    date,
		LocalHour:    hour,
		StandbyWait:  intPtr(hour),
		Status:       model.StatusOperating,
	}
}

func TestHour_EndToEndParisDay(t *testing.T) {
	// 24 samples, one per local hour, standby wait = hour index. Window is
	// 10:00-22:00, so hours 10..21 aggregate and 9/22 are skipped.
	store := memory.New()
	seedPark(t, store)
	ctx := context.Background()

	var samples []model.RawSample
	for h := 0; h < 24; h++ {
		samples = append(samples, hourSample(testDate, h))
	}
	if err := store.WriteRawSamples(ctx, samples); err != nil {
		t.Fatal(err)
	}

	agg := New(store, logger.NewNop())
	for h := 0; h < 24; h++ {
		skipped, err := agg.Hour(ctx, "r1", testDate, h)
		if err != nil {
			t.Fatalf("Hour(%d) failed: %v", h, err)
		}
		wantSkipped := h < 10 || h >= 22
		if skipped != wantSkipped {
			t.Errorf("Hour(%d): skipped=%v, want %v", h, skipped, wantSkipped)
		}
	}

	hourly, err := store.Hourly(ctx, "r1", testDate)
	if err != nil {
		t.Fatal(err)
	}
	if len(hourly) != 12 {
		t.Fatalf("Expected 12 hourly rows (10..21), got %d", len(hourly))
	}
	for _, hs := range hourly {
		if hs.AvgStandby != float64(hs.Hour) {
			t.Errorf("Hour %d: avg %v, want %v", hs.Hour, hs.AvgStandby, float64(hs.Hour))
		}
		if hs.SampleCount != 1 || hs.OperationalMinutes != 60 {
			t.Errorf("Hour %d: count=%d opMinutes=%v", hs.Hour, hs.SampleCount, hs.OperationalMinutes)
		}
	}

	if err := agg.Day(ctx, "r1", testDate); err != nil {
		t.Fatalf("Day failed: %v", err)
	}
	daily, err := store.Daily(ctx, "r1", testDate)
	if err != nil {
		t.Fatal(err)
	}
	if daily.AvgStandby != 15.5 {
		t.Errorf("Daily avg %v, want 15.5", daily.AvgStandby)
	}
	if daily.MinStandby != 10 || daily.MaxStandby != 21 {
		t.Errorf("Daily min/max %v/%v, want 10/21", daily.MinStandby, daily.MaxStandby)
	}
	if daily.PeakHour != 21 || daily.QuietHour != 10 {
		t.Errorf("Peak/quiet hour %d/%d, want 21/10", daily.PeakHour, daily.QuietHour)
	}
	if daily.OperationalPercent != 100 {
		t.Errorf("Operational percent %v, want 100", daily.OperationalPercent)
	}
	if daily.SampleCount != 12 {
		t.Errorf("Sample count %d, want 12", daily.SampleCount)
	}
}

func TestHour_Idempotent(t *testing.T) {
	store := memory.New()
	seedPark(t, store)
	ctx := context.Background()

	samples := []model.RawSample{
		hourSample(testDate, 12),
		{AttractionID: "r1", CapturedAt: time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC),
			LocalDate: testDate, LocalHour: 12, StandbyWait: intPtr(30), Status: model.StatusOperating},
		{AttractionID: "r1", CapturedAt: time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
			LocalDate: testDate, LocalHour: 12, Status: model.StatusDown},
	}
	if err := store.WriteRawSamples(ctx, samples); err != nil {
		t.Fatal(err)
	}

	agg := New(store, logger.NewNop())
	if _, err := agg.Hour(ctx, "r1", testDate, 12); err != nil {
		t.Fatal(err)
	}
	first, err := store.Hourly(ctx, "r1", testDate)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := agg.Hour(ctx, "r1", testDate, 12); err != nil {
		t.Fatal(err)
	}
	second, err := store.Hourly(ctx, "r1", testDate)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Expected single rows, got %d then %d", len(first), len(second))
	}
	if first[0] != second[0] {
		t.Errorf("Re-running produced different rows:\n%+v\n%+v", first[0], second[0])
	}
	// 2 of 3 telemetry samples were OPERATING.
	if first[0].OperationalMinutes != 40 {
		t.Errorf("Operational minutes %v, want 40", first[0].OperationalMinutes)
	}
	if first[0].AvgStandby != 21 { // (12+30)/2
		t.Errorf("Avg standby %v, want 21", first[0].AvgStandby)
	}
}

func TestHour_SentinelSamplesCarryNoTelemetry(t *testing.T) {
	store := memory.New()
	seedPark(t, store)
	ctx := context.Background()

	samples := []model.RawSample{
		{AttractionID: "r1", CapturedAt: time.Now(), LocalDate: testDate, LocalHour: 12, Status: model.StatusNoData},
		{AttractionID: "r1", CapturedAt: time.Now(), LocalDate: testDate, LocalHour: 12, Status: model.StatusNoExternalID},
	}
	if err := store.WriteRawSamples(ctx, samples); err != nil {
		t.Fatal(err)
	}

	agg := New(store, logger.NewNop())
	if _, err := agg.Hour(ctx, "r1", testDate, 12); err != nil {
		t.Fatal(err)
	}

	hourly, _ := store.Hourly(ctx, "r1", testDate)
	if len(hourly) != 1 {
		t.Fatalf("Expected zero-valued row, got %d rows", len(hourly))
	}
	if hourly[0].SampleCount != 0 || hourly[0].AvgStandby != 0 || hourly[0].OperationalMinutes != 0 {
		t.Errorf("Sentinel-only hour must be all zero: %+v", hourly[0])
	}
}

func TestDay_NoHourlyDataProducesZeroRow(t *testing.T) {
	store := memory.New()
	seedPark(t, store)
	ctx := context.Background()

	agg := New(store, logger.NewNop())
	if err := agg.Day(ctx, "r1", testDate); err != nil {
		t.Fatalf("Day must not fail on absent input: %v", err)
	}

	daily, err := store.Daily(ctx, "r1", testDate)
	if err != nil {
		t.Fatal(err)
	}
	if daily.AvgStandby != 0 || daily.SampleCount != 0 {
		t.Errorf("Expected all-zero daily stat, got %+v", daily)
	}
	// Every in-window hour had zero operational fraction.
	if daily.DowntimeMinutes != 720 {
		t.Errorf("Downtime %v, want 720", daily.DowntimeMinutes)
	}
}

func TestDay_OperationalPercentage(t *testing.T) {
	store := memory.New()
	seedPark(t, store)
	ctx := context.Background()

	// Two open hours running, the remaining ten open hours down.
	for h := 10; h < 22; h++ {
		op := 0.0
		if h == 10 || h == 11 {
			op = 60
		}
		err := store.UpsertHourly(ctx, model.HourlyStat{
			AttractionID: "r1", Date: testDate, Hour: h,
			AvgStandby: 20, SampleCount: 4, OperationalMinutes: op,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	agg := New(store, logger.NewNop())
	if err := agg.Day(ctx, "r1", testDate); err != nil {
		t.Fatal(err)
	}

	daily, _ := store.Daily(ctx, "r1", testDate)
	// 120 operational minutes over 720 in-window minutes.
	if daily.OperationalPercent != 16.67 {
		t.Errorf("Operational percent %v, want 16.67", daily.OperationalPercent)
	}
	if daily.DowntimeMinutes != 600 {
		t.Errorf("Downtime %v, want 600", daily.DowntimeMinutes)
	}
}

func TestRecomputeDay_RoundTripFromDigest(t *testing.T) {
	// A daily stat recomputed from its own digest under an unchanged window
	// must reproduce itself exactly.
	store := memory.New()
	seedPark(t, store)
	ctx := context.Background()

	var samples []model.RawSample
	for h := 0; h < 24; h++ {
		samples = append(samples, hourSample(testDate, h))
	}
	if err := store.WriteRawSamples(ctx, samples); err != nil {
		t.Fatal(err)
	}

	agg := New(store, logger.NewNop())
	for h := 0; h < 24; h++ {
		if _, err := agg.Hour(ctx, "r1", testDate, h); err != nil {
			t.Fatal(err)
		}
	}
	if err := agg.Day(ctx, "r1", testDate); err != nil {
		t.Fatal(err)
	}
	original, err := store.Daily(ctx, "r1", testDate)
	if err != nil {
		t.Fatal(err)
	}

	// Rebuild a store holding only reference data and the daily row: raw
	// samples and hourly rows are gone, as after retention.
	trimmed := memory.New()
	seedPark(t, trimmed)
	if err := trimmed.UpsertDaily(ctx, original); err != nil {
		t.Fatal(err)
	}

	corrector := NewCorrector(trimmed, logger.NewNop())
	updated, err := corrector.RecomputeDay(ctx, "r1", testDate)
	if err != nil {
		t.Fatalf("RecomputeDay failed: %v", err)
	}
	if updated {
		t.Error("Unchanged window must reproduce the identical daily stat")
	}
}

func TestRecomputeDay_RespondsToCorrectedWindow(t *testing.T) {
	store := memory.New()
	seedPark(t, store)
	ctx := context.Background()

	var samples []model.RawSample
	for h := 0; h < 24; h++ {
		samples = append(samples, hourSample(testDate, h))
	}
	if err := store.WriteRawSamples(ctx, samples); err != nil {
		t.Fatal(err)
	}

	agg := New(store, logger.NewNop())
	for h := 0; h < 24; h++ {
		if _, err := agg.Hour(ctx, "r1", testDate, h); err != nil {
			t.Fatal(err)
		}
	}
	if err := agg.Day(ctx, "r1", testDate); err != nil {
		t.Fatal(err)
	}

	// The schedule sync discovers the park actually closed at 18:00.
	setWindow(t, store, testDate, 10, 18)

	corrector := NewCorrector(store, logger.NewNop())
	updated, err := corrector.RecomputeDay(ctx, "r1", testDate)
	if err != nil {
		t.Fatal(err)
	}
	if !updated {
		t.Fatal("Corrected window must change the daily stat")
	}

	daily, _ := store.Daily(ctx, "r1", testDate)
	// Hours 10..17 now: avg 13.5, max 17.
	if daily.AvgStandby != 13.5 {
		t.Errorf("Avg %v, want 13.5", daily.AvgStandby)
	}
	if daily.MaxStandby != 17 || daily.PeakHour != 17 {
		t.Errorf("Max/peak %v/%d, want 17/17", daily.MaxStandby, daily.PeakHour)
	}
}

func TestBackfillRun_ScopesAndCounts(t *testing.T) {
	store := memory.New()
	seedPark(t, store)
	ctx := context.Background()

	// Two dates with daily rows built from hourly data.
	agg := New(store, logger.NewNop())
	for _, date := range []string{testDate, "2024-06-02"} {
		setWindow(t, store, date, 10, 22)
		for h := 10; h < 22; h++ {
			err := store.UpsertHourly(ctx, model.HourlyStat{
				AttractionID: "r1", Date: date, Hour: h,
				AvgStandby: float64(h), SampleCount: 2, OperationalMinutes: 60,
			})
			if err != nil {
				t.Fatal(err)
			}
		}
		if err := agg.Day(ctx, "r1", date); err != nil {
			t.Fatal(err)
		}
	}

	corrector := NewCorrector(store, logger.NewNop())

	// Nothing changed: everything processed, nothing updated.
	res, err := corrector.Run(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 || res.Updated != 0 || res.Errors != 0 {
		t.Errorf("Unexpected result: %+v", res)
	}

	// Shrink one date's window; only that row updates.
	setWindow(t, store, "2024-06-02", 10, 14)
	res, err = corrector.Run(ctx, "r1", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 || res.Updated != 1 {
		t.Errorf("Unexpected result after correction: %+v", res)
	}
}

func TestMonth_Rollup(t *testing.T) {
	store := memory.New()
	seedPark(t, store)
	ctx := context.Background()

	// June 2024: the 1st is a Saturday. Three operating days with known
	// averages, one silent day.
	days := []struct {
		date string
		avg  float64
		op   float64
	}{
		{"2024-06-01", 30, 90}, // Saturday
		{"2024-06-03", 10, 100}, // Monday
		{"2024-06-08", 40, 80}, // Saturday
	}
	for _, d := range days {
		stat := model.DailyStat{
			AttractionID: "r1", Date: d.date,
			AvgStandby: d.avg, MinStandby: d.avg, MaxStandby: d.avg, MedianStandby: d.avg,
			SampleCount: 10, OperationalPercent: d.op,
			Hours: []model.HourDigest{{Hour: 12, AvgStandby: d.avg, SampleCount: 10}},
		}
		if err := store.UpsertDaily(ctx, stat); err != nil {
			t.Fatal(err)
		}
	}
	// A day with zero samples must not count as an operating day.
	if err := store.UpsertDaily(ctx, model.DailyStat{AttractionID: "r1", Date: "2024-06-05"}); err != nil {
		t.Fatal(err)
	}

	agg := New(store, logger.NewNop())
	if err := agg.Month(ctx, "r1", 2024, 6); err != nil {
		t.Fatal(err)
	}

	m, err := store.Monthly(ctx, "r1", 2024, 6)
	if err != nil {
		t.Fatal(err)
	}
	if m.OperatingDays != 3 {
		t.Errorf("Operating days %d, want 3", m.OperatingDays)
	}
	if m.SampleCount != 30 {
		t.Errorf("Sample count %d, want 30", m.SampleCount)
	}
	if m.AvgStandby != 26.67 { // (30+10+40)/3
		t.Errorf("Avg standby %v, want 26.67", m.AvgStandby)
	}
	if m.MedianStandby != 30 {
		t.Errorf("Median %v, want 30", m.MedianStandby)
	}
	if m.BusiestDay != 8 || m.BusiestDayWait != 40 {
		t.Errorf("Busiest day %d (%v), want 8 (40)", m.BusiestDay, m.BusiestDayWait)
	}
	if m.QuietestDay != 3 || m.QuietestDayWait != 10 {
		t.Errorf("Quietest day %d (%v), want 3 (10)", m.QuietestDay, m.QuietestDayWait)
	}
	if m.AvgOperationalPercent != 90 {
		t.Errorf("Avg operational percent %v, want 90", m.AvgOperationalPercent)
	}
	// Weekday buckets: Monday index 0, Saturday index 5.
	if m.WeekdayAvg[0] != 10 {
		t.Errorf("Monday avg %v, want 10", m.WeekdayAvg[0])
	}
	if m.WeekdayAvg[5] != 35 { // (30+40)/2
		t.Errorf("Saturday avg %v, want 35", m.WeekdayAvg[5])
	}
	if m.PeakHour != 12 {
		t.Errorf("Peak hour %d, want 12", m.PeakHour)
	}
}
