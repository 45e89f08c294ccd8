package model

import (
	"encoding/json"
	"errors"
	"time"
)

// DateFormat is the local calendar date layout used throughout the pipeline.
// All dates are venue-local, never UTC.
const DateFormat = "2006-01-02"

// LocalTimeFormat is the layout for the formatted venue-local timestamp
// stored on every raw sample.
const LocalTimeFormat = "2006-01-02 15:04:05"

// Attraction status codes. The first group comes from the live-data provider;
// the sentinel group is written by the ingestion service so that "no telemetry
// arrived" is never confused with "closed".
const (
	StatusOperating     = "OPERATING"
	StatusDown          = "DOWN"
	StatusClosed        = "CLOSED"
	StatusRefurbishment = "REFURBISHMENT"

	StatusNoData       = "NO_DATA"
	StatusNoExternalID = "NO_EXTERNAL_ID"
)

// Error taxonomy for per-item failures. Items that fail with one of these are
// counted into the run summary; they never abort a batch.
var (
	ErrProviderUnavailable = errors.New("live-data provider unavailable")
	ErrMissingTimezone     = errors.New("venue has no timezone")
	ErrStoreWrite          = errors.New("store write failed")
)

// Venue is a park/complex with a single IANA timezone and an operating
// calendar. Venues are maintained by an external sync process; this pipeline
// only reads them.
type Venue struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Timezone   string `json:"timezone"`
	Active     bool   `json:"active"`
}

// Attraction is a ride, show or dining location belonging to a venue.
// An inactive attraction is excluded from ingestion and aggregation.
type Attraction struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	VenueID    string `json:"venueId"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
}

// WindowType classifies an operating window. Only OPERATING windows gate
// statistical inclusion.
type WindowType string

const (
	WindowOperating     WindowType = "OPERATING"
	WindowInfo          WindowType = "INFO"
	WindowTicketedEvent WindowType = "TICKETED_EVENT"
	WindowExtraHours    WindowType = "EXTRA_HOURS"
)

// OperatingWindow is one open/close span for a venue on a local calendar
// date. Closing may be earlier in wall-clock terms than opening, which means
// the window crosses local midnight. Written by an external schedule sync;
// read-only here.
type OperatingWindow struct {
	VenueID string     `json:"venueId"`
	Date    string     `json:"date"`
	Type    WindowType `json:"type"`
	Opens   time.Time  `json:"opens"`
	Closes  time.Time  `json:"closes"`
}

// OpenHour returns the venue-local hour of the window's opening instant.
func (w OperatingWindow) OpenHour() int { return w.Opens.Hour() }

// CloseHour returns the venue-local hour of the window's closing instant.
func (w OperatingWindow) CloseHour() int { return w.Closes.Hour() }

// RawSample is one point-in-time observation of an attraction. One sample is
// written per active attraction per ingestion poll, even when the provider had
// nothing to say (Status then carries a sentinel). Immutable once written;
// deleted only by the retention sweeper.
type RawSample struct {
	AttractionID    string          `json:"attractionId"`
	CapturedAt      time.Time       `json:"capturedAt"`
	LocalDate       string          `json:"localDate"`
	LocalHour       int             `json:"localHour"`
	LocalTime       string          `json:"localTime"`
	StandbyWait     *int            `json:"standbyWait"`
	SingleRiderWait *int            `json:"singleRiderWait"`
	Status          string          `json:"status"`
	LastUpdated     time.Time       `json:"lastUpdated"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Showtimes       json.RawMessage `json:"showtimes,omitempty"`
}

// HourlyStat is the rollup of one attraction-hour. Keyed by
// (attraction, date, hour); recomputing overwrites in place.
type HourlyStat struct {
	AttractionID       string  `json:"attractionId"`
	Date               string  `json:"date"`
	Hour               int     `json:"hour"`
	AvgStandby         float64 `json:"avgStandby"`
	MinStandby         float64 `json:"minStandby"`
	MaxStandby         float64 `json:"maxStandby"`
	AvgSingleRider     float64 `json:"avgSingleRider"`
	SampleCount        int     `json:"sampleCount"`
	OperationalMinutes float64 `json:"operationalMinutes"`
}

// HourDigest is one entry of the compact per-hour array stored on a
// DailyStat. It carries enough to recompute the day after raw samples and
// hourly rows are gone.
type HourDigest struct {
	Hour               int     `json:"hour"`
	AvgStandby         float64 `json:"avgStandby"`
	AvgSingleRider     float64 `json:"avgSingleRider"`
	SampleCount        int     `json:"sampleCount"`
	OperationalMinutes float64 `json:"operationalMinutes"`
}

// DailyStat is the rollup of one attraction-day, computed from hourly stats
// restricted to in-window hours. Keyed by (attraction, date).
type DailyStat struct {
	AttractionID       string       `json:"attractionId"`
	Date               string       `json:"date"`
	AvgStandby         float64      `json:"avgStandby"`
	MinStandby         float64      `json:"minStandby"`
	MaxStandby         float64      `json:"maxStandby"`
	MedianStandby      float64      `json:"medianStandby"`
	AvgSingleRider     float64      `json:"avgSingleRider"`
	MinSingleRider     float64      `json:"minSingleRider"`
	MaxSingleRider     float64      `json:"maxSingleRider"`
	SampleCount        int          `json:"sampleCount"`
	DowntimeMinutes    float64      `json:"downtimeMinutes"`
	OperationalPercent float64      `json:"operationalPercent"`
	PeakHour           int          `json:"peakHour"`
	PeakWait           float64      `json:"peakWait"`
	QuietHour          int          `json:"quietHour"`
	QuietWait          float64      `json:"quietWait"`
	Hours              []HourDigest `json:"hours"`
}

// MonthlyStat is the rollup of one attraction-month, computed from the
// month's daily stats. Keyed by (attraction, year, month).
type MonthlyStat struct {
	AttractionID          string     `json:"attractionId"`
	Year                  int        `json:"year"`
	Month                 int        `json:"month"`
	AvgStandby            float64    `json:"avgStandby"`
	MinStandby            float64    `json:"minStandby"`
	MaxStandby            float64    `json:"maxStandby"`
	MedianStandby         float64    `json:"medianStandby"`
	AvgSingleRider        float64    `json:"avgSingleRider"`
	MinSingleRider        float64    `json:"minSingleRider"`
	MaxSingleRider        float64    `json:"maxSingleRider"`
	MedianSingleRider     float64    `json:"medianSingleRider"`
	OperatingDays         int        `json:"operatingDays"`
	SampleCount           int        `json:"sampleCount"`
	AvgOperationalPercent float64    `json:"avgOperationalPercent"`
	BusiestDay            int        `json:"busiestDay"`
	BusiestDayWait        float64    `json:"busiestDayWait"`
	QuietestDay           int        `json:"quietestDay"`
	QuietestDayWait       float64    `json:"quietestDayWait"`
	PeakHour              int        `json:"peakHour"`
	PeakHourWait          float64    `json:"peakHourWait"`
	QuietHour             int        `json:"quietHour"`
	QuietHourWait         float64    `json:"quietHourWait"`
	WeekdayAvg            [7]float64 `json:"weekdayAvg"`
}

// RunSummary is the structured result of one orchestrated run. Per-item
// failures are folded into ErrorCount/SkippedCount rather than thrown past
// the orchestrator.
type RunSummary struct {
	RunID        string    `json:"runId"`
	Scope        string    `json:"scope"`
	Success      bool      `json:"success"`
	TotalItems   int       `json:"totalItems"`
	SuccessCount int       `json:"successCount"`
	ErrorCount   int       `json:"errorCount"`
	SkippedCount int       `json:"skippedCount"`
	Message      string    `json:"message"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}
