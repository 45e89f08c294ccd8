package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkpulse/parkpulse/pkg/aggregate"
	"github.com/parkpulse/parkpulse/pkg/ingest"
	"github.com/parkpulse/parkpulse/pkg/logger"
	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/provider"
	"github.com/parkpulse/parkpulse/pkg/retention"
	"github.com/parkpulse/parkpulse/pkg/storage/memory"
)

func intPtr(v int) *int { return &v }

// capturePublisher records published run summaries.
type capturePublisher struct {
	mu        sync.Mutex
	summaries []model.RunSummary
}

func (p *capturePublisher) Publish(_ context.Context, s model.RunSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, s)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type fakeClient struct {
	data map[string]*provider.LiveData
	err  error
}

func (f *fakeClient) FetchLive(_ context.Context, venueExternalID string) (*provider.LiveData, error) {
	if f.err != nil {
		return nil, f.err
	}
	if d, ok := f.data[venueExternalID]; ok {
		return d, nil
	}
	return provider.NewLiveData(venueExternalID, nil), nil
}

func newTestRunner(store *memory.Store, client provider.Client, pub *capturePublisher, now time.Time) *Runner {
	log := logger.NewNop()
	agg := aggregate.New(store, log)
	r := New(
		store,
		ingest.New(store, client, provider.NewGate(0), log),
		agg,
		aggregate.NewCorrector(store, log),
		retention.New(store, 7, log),
		pub,
		log,
	)
	r.Now = func() time.Time { return now }
	return r
}

// seedVenue registers a venue with one active attraction and a 9:00-22:00
// window on the given dates.
func seedVenue(t *testing.T, store *memory.Store, venueID, attractionID, zone string, dates ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertVenue(ctx, model.Venue{ID: venueID, ExternalID: "x-" + venueID, Timezone: zone, Active: true}))
	require.NoError(t, store.UpsertAttraction(ctx, model.Attraction{ID: attractionID, ExternalID: "x-" + attractionID, VenueID: venueID, Active: true}))

	loc, err := time.LoadLocation(zone)
	require.NoError(t, err)
	for _, date := range dates {
		day, err := time.ParseInLocation(model.DateFormat, date, loc)
		require.NoError(t, err)
		w := model.OperatingWindow{
			VenueID: venueID, Date: date, Type: model.WindowOperating,
			Opens:  day.Add(9 * time.Hour),
			Closes: day.Add(22 * time.Hour),
		}
		require.NoError(t, store.SetWindows(ctx, venueID, date, []model.OperatingWindow{w}))
	}
}

func seedSample(t *testing.T, store *memory.Store, attractionID, date string, hour, wait int) {
	t.Helper()
	s := model.RawSample{
		AttractionID: attractionID,
		CapturedAt:   time.Now().UTC(),
		LocalDate:    date,
		LocalHour:    hour,
		StandbyWait:  intPtr(wait),
		Status:       model.StatusOperating,
	}
	require.NoError(t, store.WriteRawSamples(context.Background(), []model.RawSample{s}))
}

func TestRunHourly_PerTimezonePreviousHour(t *testing.T) {
	// 13:30 UTC is 15:30 in Paris and 09:30 in New York, so the default run
	// must target hour 14 for the Paris venue and hour 8 for the NY venue.
	now := time.Date(2024, 6, 15, 13, 30, 0, 0, time.UTC)
	store := memory.New()
	seedVenue(t, store, "paris", "pr1", "Europe/Paris", "2024-06-15")
	seedVenue(t, store, "ny", "ny1", "America/New_York", "2024-06-15")
	seedSample(t, store, "pr1", "2024-06-15", 14, 40)
	seedSample(t, store, "ny1", "2024-06-15", 8, 10)

	pub := &capturePublisher{}
	r := newTestRunner(store, &fakeClient{}, pub, now)

	sum := r.RunHourly(context.Background(), HourlyOptions{})
	require.True(t, sum.Success)
	assert.Equal(t, 2, sum.TotalItems)
	assert.Equal(t, 2, sum.SuccessCount)

	ctx := context.Background()
	parisRows, err := store.Hourly(ctx, "pr1", "2024-06-15")
	require.NoError(t, err)
	require.Len(t, parisRows, 1)
	assert.Equal(t, 14, parisRows[0].Hour)
	assert.Equal(t, 40.0, parisRows[0].AvgStandby)

	nyRows, err := store.Hourly(ctx, "ny1", "2024-06-15")
	require.NoError(t, err)
	require.Len(t, nyRows, 1)
	assert.Equal(t, 8, nyRows[0].Hour)
	assert.Equal(t, 10.0, nyRows[0].AvgStandby)

	require.Len(t, pub.summaries, 1)
	assert.Equal(t, "hourly", pub.summaries[0].Scope)
	assert.NotEmpty(t, pub.summaries[0].RunID)
}

func TestRunHourly_ReferenceTimezoneConversion(t *testing.T) {
	// An explicit 14:00 expressed in UTC is 16:00 Paris local in June.
	store := memory.New()
	seedVenue(t, store, "paris", "pr1", "Europe/Paris", "2024-06-15")
	seedSample(t, store, "pr1", "2024-06-15", 16, 25)

	r := newTestRunner(store, &fakeClient{}, &capturePublisher{}, time.Now())

	sum := r.RunHourly(context.Background(), HourlyOptions{
		Date: "2024-06-15", Hour: 14, HasHour: true,
		ReferenceTimezone: "UTC",
	})
	require.True(t, sum.Success)
	assert.Equal(t, 1, sum.SuccessCount)

	rows, err := store.Hourly(context.Background(), "pr1", "2024-06-15")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 16, rows[0].Hour)
}

func TestRunHourly_AllHoursCountsSkips(t *testing.T) {
	// A full-day run over a 9:00-22:00 window aggregates 13 hours and skips
	// the 11 closed ones.
	store := memory.New()
	seedVenue(t, store, "paris", "pr1", "Europe/Paris", "2024-06-15")
	for h := 0; h < 24; h++ {
		seedSample(t, store, "pr1", "2024-06-15", h, h)
	}

	r := newTestRunner(store, &fakeClient{}, &capturePublisher{}, time.Now())

	sum := r.RunHourly(context.Background(), HourlyOptions{Date: "2024-06-15", AllHours: true})
	require.True(t, sum.Success)
	assert.Equal(t, 24, sum.TotalItems)
	assert.Equal(t, 13, sum.SuccessCount)
	assert.Equal(t, 11, sum.SkippedCount)
}

func TestRunDaily_SkipsExistingUnlessForced(t *testing.T) {
	now := time.Date(2024, 6, 16, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	seedVenue(t, store, "paris", "pr1", "Europe/Paris", "2024-06-15")
	seedSample(t, store, "pr1", "2024-06-15", 12, 30)

	r := newTestRunner(store, &fakeClient{}, &capturePublisher{}, now)
	ctx := context.Background()

	_, err := r.agg.Hour(ctx, "pr1", "2024-06-15", 12)
	require.NoError(t, err)

	sum := r.RunDaily(ctx, DailyOptions{})
	require.True(t, sum.Success)
	assert.Equal(t, 1, sum.SuccessCount)

	// Second run finds the stored daily stat and skips.
	sum = r.RunDaily(ctx, DailyOptions{})
	assert.Equal(t, 1, sum.SkippedCount)
	assert.Equal(t, 0, sum.SuccessCount)

	// Forcing recomputes it.
	sum = r.RunDaily(ctx, DailyOptions{ForceUpdate: true})
	assert.Equal(t, 1, sum.SuccessCount)
}

func TestRunDaily_CleanupSweepsExpiredDates(t *testing.T) {
	// 2024-06-01 is past the 7-day floor relative to 2024-06-16 and gets a
	// daily stat from this run, so cleanup deletes its raw samples. The
	// previous date's samples are inside the floor and survive.
	now := time.Date(2024, 6, 16, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	seedVenue(t, store, "paris", "pr1", "Europe/Paris", "2024-06-01", "2024-06-15")
	seedSample(t, store, "pr1", "2024-06-01", 12, 20)
	seedSample(t, store, "pr1", "2024-06-15", 12, 30)

	r := newTestRunner(store, &fakeClient{}, &capturePublisher{}, now)
	ctx := context.Background()

	daily := aggregate.New(store, logger.NewNop())
	require.NoError(t, daily.Day(ctx, "pr1", "2024-06-01"))

	sum := r.RunDaily(ctx, DailyOptions{Cleanup: true})
	require.True(t, sum.Success)

	old, err := store.RawSamples(ctx, "pr1", "2024-06-01", 12)
	require.NoError(t, err)
	assert.Empty(t, old, "expired aggregated date should be swept")

	recent, err := store.RawSamples(ctx, "pr1", "2024-06-15", 12)
	require.NoError(t, err)
	assert.Len(t, recent, 1, "date inside the retention floor must survive")
}

func TestRunMonthly_DefaultsToPreviousMonth(t *testing.T) {
	// July 2nd in Paris: the default monthly run targets June.
	now := time.Date(2024, 7, 2, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	seedVenue(t, store, "paris", "pr1", "Europe/Paris", "2024-06-15")
	seedSample(t, store, "pr1", "2024-06-15", 12, 30)

	r := newTestRunner(store, &fakeClient{}, &capturePublisher{}, now)
	ctx := context.Background()

	daily := aggregate.New(store, logger.NewNop())
	require.NoError(t, daily.Day(ctx, "pr1", "2024-06-15"))

	sum := r.RunMonthly(ctx, MonthlyOptions{})
	require.True(t, sum.Success)
	assert.Equal(t, 1, sum.SuccessCount)

	m, err := store.Monthly(ctx, "pr1", 2024, 6)
	require.NoError(t, err)
	assert.Equal(t, 2024, m.Year)
	assert.Equal(t, 6, m.Month)
}

func TestRunBackfillDaily_ReportsUpdatedAndUnchanged(t *testing.T) {
	store := memory.New()
	seedVenue(t, store, "paris", "pr1", "Europe/Paris", "2024-06-15")
	seedSample(t, store, "pr1", "2024-06-15", 12, 30)

	r := newTestRunner(store, &fakeClient{}, &capturePublisher{}, time.Now())
	ctx := context.Background()

	daily := aggregate.New(store, logger.NewNop())
	require.NoError(t, daily.Day(ctx, "pr1", "2024-06-15"))

	// Nothing changed since aggregation, so the recompute is a no-op.
	sum := r.RunBackfillDaily(ctx, "2024-06-15", "pr1")
	require.True(t, sum.Success)
	assert.Equal(t, 1, sum.TotalItems)
	assert.Equal(t, 1, sum.SkippedCount)
}

func TestRunIngest_CountsVenueFailures(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 30, 0, 0, time.UTC)
	store := memory.New()
	seedVenue(t, store, "paris", "pr1", "Europe/Paris", "2024-06-15")
	seedVenue(t, store, "ny", "ny1", "America/New_York", "2024-06-15")

	client := &fakeClient{data: map[string]*provider.LiveData{
		"x-paris": provider.NewLiveData("x-paris", []provider.LiveEntity{{
			ExternalID: "x-pr1", Status: model.StatusOperating, StandbyWait: intPtr(20),
		}}),
		// No payload for the NY venue: its attraction still gets a NO_DATA
		// sample, which is not an error.
	}}
	r := newTestRunner(store, client, &capturePublisher{}, now)

	sum := r.RunIngest(context.Background())
	require.True(t, sum.Success)
	assert.Equal(t, 2, sum.TotalItems)
	assert.Equal(t, 2, sum.SuccessCount)

	client.err = errors.New("provider down")
	sum = r.RunIngest(context.Background())
	assert.False(t, sum.Success)
	assert.Equal(t, 2, sum.ErrorCount)
}

func TestRunHourly_SingleAttractionScope(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 30, 0, 0, time.UTC)
	store := memory.New()
	seedVenue(t, store, "paris", "pr1", "Europe/Paris", "2024-06-15")
	seedVenue(t, store, "ny", "ny1", "America/New_York", "2024-06-15")
	seedSample(t, store, "pr1", "2024-06-15", 14, 40)
	seedSample(t, store, "ny1", "2024-06-15", 8, 10)

	r := newTestRunner(store, &fakeClient{}, &capturePublisher{}, now)

	sum := r.RunHourly(context.Background(), HourlyOptions{AttractionID: "ny1"})
	require.True(t, sum.Success)
	assert.Equal(t, 1, sum.TotalItems)

	parisRows, err := store.Hourly(context.Background(), "pr1", "2024-06-15")
	require.NoError(t, err)
	assert.Empty(t, parisRows)
}
