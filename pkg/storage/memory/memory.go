// Package memory implements storage.Store in process memory. Data is lost on
// restart; useful for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/storage"
)

// Store keeps every entity family in its own map, keyed the same way the
// badger backend keys them.
type Store struct {
	mu sync.RWMutex

	venues      map[string]model.Venue
	attractions map[string]model.Attraction
	windows     map[string][]model.OperatingWindow // venueID|date
	raw         map[string][]model.RawSample       // attractionID|date|hour
	hourly      map[string]model.HourlyStat        // attractionID|date|hour
	daily       map[string]model.DailyStat         // attractionID|date
	monthly     map[string]model.MonthlyStat       // attractionID|year-month
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		venues:      make(map[string]model.Venue),
		attractions: make(map[string]model.Attraction),
		windows:     make(map[string][]model.OperatingWindow),
		raw:         make(map[string][]model.RawSample),
		hourly:      make(map[string]model.HourlyStat),
		daily:       make(map[string]model.DailyStat),
		monthly:     make(map[string]model.MonthlyStat),
	}
}

func (s *Store) Close() error { return nil }

func rawKey(attractionID, date string, hour int) string {
	return fmt.Sprintf("%s|%s|%02d", attractionID, date, hour)
}

func (s *Store) UpsertVenue(ctx context.Context, v model.Venue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venues[v.ID] = v
	return nil
}

func (s *Store) Venues(ctx context.Context) ([]model.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Venue, 0, len(s.venues))
	for _, v := range s.venues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertAttraction(ctx context.Context, a model.Attraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attractions[a.ID] = a
	return nil
}

func (s *Store) Attraction(ctx context.Context, id string) (model.Attraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attractions[id]
	if !ok {
		return model.Attraction{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) Attractions(ctx context.Context, venueID string) ([]model.Attraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Attraction
	for _, a := range s.attractions {
		if a.VenueID == venueID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AllAttractions(ctx context.Context) ([]model.Attraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Attraction, 0, len(s.attractions))
	for _, a := range s.attractions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetWindows(ctx context.Context, venueID, date string, ws []model.OperatingWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[venueID+"|"+date] = append([]model.OperatingWindow(nil), ws...)
	return nil
}

func (s *Store) Windows(ctx context.Context, venueID, date string) ([]model.OperatingWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.OperatingWindow(nil), s.windows[venueID+"|"+date]...), nil
}

func (s *Store) WriteRawSamples(ctx context.Context, samples []model.RawSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sm := range samples {
		key := rawKey(sm.AttractionID, sm.LocalDate, sm.LocalHour)
		s.raw[key] = append(s.raw[key], sm)
	}
	return nil
}

func (s *Store) RawSamples(ctx context.Context, attractionID, date string, hour int) ([]model.RawSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]model.RawSample(nil), s.raw[rawKey(attractionID, date, hour)]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

func (s *Store) RawSampleDates(ctx context.Context, attractionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, samples := range s.raw {
		if len(samples) > 0 && samples[0].AttractionID == attractionID {
			seen[samples[0].LocalDate] = true
		}
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

func (s *Store) DeleteRawSamples(ctx context.Context, attractionID, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int
	for h := 0; h < 24; h++ {
		key := rawKey(attractionID, date, h)
		deleted += len(s.raw[key])
		delete(s.raw, key)
	}
	return deleted, nil
}

func (s *Store) UpsertHourly(ctx context.Context, st model.HourlyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hourly[rawKey(st.AttractionID, st.Date, st.Hour)] = st
	return nil
}

func (s *Store) Hourly(ctx context.Context, attractionID, date string) ([]model.HourlyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.HourlyStat
	for h := 0; h < 24; h++ {
		if st, ok := s.hourly[rawKey(attractionID, date, h)]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) UpsertDaily(ctx context.Context, st model.DailyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily[st.AttractionID+"|"+st.Date] = st
	return nil
}

func (s *Store) Daily(ctx context.Context, attractionID, date string) (model.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.daily[attractionID+"|"+date]
	if !ok {
		return model.DailyStat{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) DailyForMonth(ctx context.Context, attractionID string, year, month int) ([]model.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := fmt.Sprintf("%s|%04d-%02d", attractionID, year, month)
	var out []model.DailyStat
	for key, st := range s.daily {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) DailyDates(ctx context.Context, attractionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var dates []string
	for _, st := range s.daily {
		if st.AttractionID == attractionID {
			dates = append(dates, st.Date)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

func (s *Store) UpsertMonthly(ctx context.Context, st model.MonthlyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monthly[fmt.Sprintf("%s|%04d-%02d", st.AttractionID, st.Year, st.Month)] = st
	return nil
}

func (s *Store) Monthly(ctx context.Context, attractionID string, year, month int) (model.MonthlyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.monthly[fmt.Sprintf("%s|%04d-%02d", attractionID, year, month)]
	if !ok {
		return model.MonthlyStat{}, storage.ErrNotFound
	}
	return st, nil
}
