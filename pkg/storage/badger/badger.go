// Package badger implements storage.Store on BadgerDB (LSM tree).
//
// Keys are binary and sort by (entity kind, attraction hash, local date,
// hour, capture time), which makes every read and delete the pipeline needs
// a prefix scan.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/storage"
)

// Key kind bytes. Grouping by kind first keeps each entity family in its own
// contiguous key range.
const (
	kindVenue      = 'v'
	kindAttraction = 'a'
	kindWindow     = 'w'
	kindRaw        = 'r'
	kindHourly     = 'h'
	kindDaily      = 'd'
	kindMonthly    = 'm'
)

// Store implements storage.Store using BadgerDB.
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = modest defaults).
	MaxMemoryMB int64
}

// New opens a BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Badger's defaults assume a beefy server; bound the caches so the
	// store behaves on small batch-job hosts.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(1).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db}, nil
}

// Close shuts down BadgerDB cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs Badger's value log garbage collection. Retention deletes leave
// garbage in the value log; without periodic GC disk usage only grows.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// ---- keys ----

func hash8(id string) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, xxhash.Sum64String(id))
	return b
}

func venueKey(id string) []byte {
	return append([]byte{kindVenue}, id...)
}

func attractionKey(venueID, id string) []byte {
	k := append([]byte{kindAttraction}, hash8(venueID)...)
	return append(k, id...)
}

func windowKey(venueID, date string) []byte {
	k := append([]byte{kindWindow}, hash8(venueID)...)
	return append(k, date...)
}

// rawKey orders samples by capture time within an attraction-date-hour.
func rawKey(attractionID, date string, hour int, capturedAt time.Time) []byte {
	k := rawHourPrefix(attractionID, date, hour)
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(capturedAt.UnixNano()))
	return append(k, ts...)
}

func rawDatePrefix(attractionID, date string) []byte {
	k := append([]byte{kindRaw}, hash8(attractionID)...)
	return append(k, date...)
}

func rawHourPrefix(attractionID, date string, hour int) []byte {
	return append(rawDatePrefix(attractionID, date), byte(hour))
}

func hourlyKey(attractionID, date string, hour int) []byte {
	k := append([]byte{kindHourly}, hash8(attractionID)...)
	k = append(k, date...)
	return append(k, byte(hour))
}

func dailyKey(attractionID, date string) []byte {
	k := append([]byte{kindDaily}, hash8(attractionID)...)
	return append(k, date...)
}

func monthlyKey(attractionID string, year, month int) []byte {
	k := append([]byte{kindMonthly}, hash8(attractionID)...)
	yb := make([]byte, 2)
	binary.BigEndian.PutUint16(yb, uint16(year))
	k = append(k, yb...)
	return append(k, byte(month))
}

// ---- generic helpers ----

func (s *Store) setJSON(ctx context.Context, key []byte, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) getJSON(ctx context.Context, key []byte, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err == badger.ErrKeyNotFound {
		return storage.ErrNotFound
	}
	return err
}

// scanPrefix decodes every value under prefix through fn. The iterator
// checks the context every 1000 keys so a cancelled run never blocks on a
// long scan.
func (s *Store) scanPrefix(ctx context.Context, prefix []byte, fn func(val []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		var n int
		for it.Rewind(); it.Valid(); it.Next() {
			n++
			if n%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			if err := it.Item().Value(func(val []byte) error {
				return fn(val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---- reference data ----

func (s *Store) UpsertVenue(ctx context.Context, v model.Venue) error {
	return s.setJSON(ctx, venueKey(v.ID), v)
}

func (s *Store) Venues(ctx context.Context) ([]model.Venue, error) {
	var out []model.Venue
	err := s.scanPrefix(ctx, []byte{kindVenue}, func(val []byte) error {
		var v model.Venue
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertAttraction(ctx context.Context, a model.Attraction) error {
	return s.setJSON(ctx, attractionKey(a.VenueID, a.ID), a)
}

func (s *Store) Attraction(ctx context.Context, id string) (model.Attraction, error) {
	// Attractions are keyed under their venue; a point lookup by id alone
	// scans the attraction range. The set is small (thousands at most).
	var found model.Attraction
	var ok bool
	err := s.scanPrefix(ctx, []byte{kindAttraction}, func(val []byte) error {
		if ok {
			return nil
		}
		var a model.Attraction
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		if a.ID == id {
			found = a
			ok = true
		}
		return nil
	})
	if err != nil {
		return model.Attraction{}, err
	}
	if !ok {
		return model.Attraction{}, storage.ErrNotFound
	}
	return found, nil
}

func (s *Store) Attractions(ctx context.Context, venueID string) ([]model.Attraction, error) {
	prefix := append([]byte{kindAttraction}, hash8(venueID)...)
	return s.scanAttractions(ctx, prefix)
}

func (s *Store) AllAttractions(ctx context.Context) ([]model.Attraction, error) {
	return s.scanAttractions(ctx, []byte{kindAttraction})
}

func (s *Store) scanAttractions(ctx context.Context, prefix []byte) ([]model.Attraction, error) {
	var out []model.Attraction
	err := s.scanPrefix(ctx, prefix, func(val []byte) error {
		var a model.Attraction
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- operating windows ----

func (s *Store) SetWindows(ctx context.Context, venueID, date string, ws []model.OperatingWindow) error {
	return s.setJSON(ctx, windowKey(venueID, date), ws)
}

func (s *Store) Windows(ctx context.Context, venueID, date string) ([]model.OperatingWindow, error) {
	var ws []model.OperatingWindow
	err := s.getJSON(ctx, windowKey(venueID, date), &ws)
	if err == storage.ErrNotFound {
		// No schedule row means closed all day, not an error.
		return nil, nil
	}
	return ws, err
}

// ---- raw samples ----

// WriteRawSamples persists one ingestion batch in a single transaction.
func (s *Store) WriteRawSamples(ctx context.Context, samples []model.RawSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for i, sm := range samples {
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}
				data, err := json.Marshal(sm)
				if err != nil {
					return fmt.Errorf("failed to encode sample: %w", err)
				}
				key := rawKey(sm.AttractionID, sm.LocalDate, sm.LocalHour, sm.CapturedAt)
				if err := txn.Set(key, data); err != nil {
					return fmt.Errorf("failed to write sample: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("raw sample write cancelled: %w", ctx.Err())
	}
}

func (s *Store) RawSamples(ctx context.Context, attractionID, date string, hour int) ([]model.RawSample, error) {
	var out []model.RawSample
	err := s.scanPrefix(ctx, rawHourPrefix(attractionID, date, hour), func(val []byte) error {
		var sm model.RawSample
		if err := json.Unmarshal(val, &sm); err != nil {
			return err
		}
		out = append(out, sm)
		return nil
	})
	return out, err
}

func (s *Store) RawSampleDates(ctx context.Context, attractionID string) ([]string, error) {
	prefix := append([]byte{kindRaw}, hash8(attractionID)...)
	return s.datesUnderPrefix(ctx, prefix)
}

// DeleteRawSamples removes every sample for (attraction, local date) and
// returns how many were deleted.
func (s *Store) DeleteRawSamples(ctx context.Context, attractionID, date string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	prefix := rawDatePrefix(attractionID, date)
	var deleted int
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		var keys [][]byte
		var n int
		for it.Rewind(); it.Valid(); it.Next() {
			n++
			if n%1000 == 0 {
				select {
				case <-ctx.Done():
					it.Close()
					return ctx.Err()
				default:
				}
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	return deleted, err
}

// ---- aggregates ----

func (s *Store) UpsertHourly(ctx context.Context, st model.HourlyStat) error {
	return s.setJSON(ctx, hourlyKey(st.AttractionID, st.Date, st.Hour), st)
}

func (s *Store) Hourly(ctx context.Context, attractionID, date string) ([]model.HourlyStat, error) {
	prefix := append([]byte{kindHourly}, hash8(attractionID)...)
	prefix = append(prefix, date...)

	var out []model.HourlyStat
	err := s.scanPrefix(ctx, prefix, func(val []byte) error {
		var st model.HourlyStat
		if err := json.Unmarshal(val, &st); err != nil {
			return err
		}
		out = append(out, st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out, nil
}

func (s *Store) UpsertDaily(ctx context.Context, st model.DailyStat) error {
	return s.setJSON(ctx, dailyKey(st.AttractionID, st.Date), st)
}

func (s *Store) Daily(ctx context.Context, attractionID, date string) (model.DailyStat, error) {
	var st model.DailyStat
	err := s.getJSON(ctx, dailyKey(attractionID, date), &st)
	return st, err
}

func (s *Store) DailyForMonth(ctx context.Context, attractionID string, year, month int) ([]model.DailyStat, error) {
	// Daily keys embed the date string, so the year-month is itself a prefix.
	prefix := append([]byte{kindDaily}, hash8(attractionID)...)
	prefix = append(prefix, fmt.Sprintf("%04d-%02d", year, month)...)

	var out []model.DailyStat
	err := s.scanPrefix(ctx, prefix, func(val []byte) error {
		var st model.DailyStat
		if err := json.Unmarshal(val, &st); err != nil {
			return err
		}
		out = append(out, st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) DailyDates(ctx context.Context, attractionID string) ([]string, error) {
	var dates []string
	prefix := append([]byte{kindDaily}, hash8(attractionID)...)
	err := s.scanPrefix(ctx, prefix, func(val []byte) error {
		var st model.DailyStat
		if err := json.Unmarshal(val, &st); err != nil {
			return err
		}
		dates = append(dates, st.Date)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(dates)
	return dates, nil
}

func (s *Store) UpsertMonthly(ctx context.Context, st model.MonthlyStat) error {
	return s.setJSON(ctx, monthlyKey(st.AttractionID, st.Year, st.Month), st)
}

func (s *Store) Monthly(ctx context.Context, attractionID string, year, month int) (model.MonthlyStat, error) {
	var st model.MonthlyStat
	err := s.getJSON(ctx, monthlyKey(attractionID, year, month), &st)
	return st, err
}

// datesUnderPrefix extracts the distinct dates embedded in keys under
// prefix. Keys place the 10-byte date directly after the prefix.
func (s *Store) datesUnderPrefix(ctx context.Context, prefix []byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var n int
		for it.Rewind(); it.Valid(); it.Next() {
			n++
			if n%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			key := it.Item().Key()
			if len(key) >= len(prefix)+10 {
				seen[string(key[len(prefix):len(prefix)+10])] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}
