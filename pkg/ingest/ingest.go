// Package ingest polls the live-data provider and normalizes the results
// into raw samples. One sample is written per active attraction per poll,
// sentinel statuses included, so downstream aggregation can always tell
// "closed all day" from "no telemetry arrived".
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/parkpulse/parkpulse/pkg/localtime"
	"github.com/parkpulse/parkpulse/pkg/logger"
	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/provider"
	"github.com/parkpulse/parkpulse/pkg/storage"
)

// Service fetches live data venue by venue. Every provider call goes through
// the shared rate gate first.
type Service struct {
	store  storage.Store
	client provider.Client
	gate   *provider.Gate
	log    logger.Logger
}

// New builds the ingestion service.
func New(store storage.Store, client provider.Client, gate *provider.Gate, log logger.Logger) *Service {
	return &Service{
		store:  store,
		client: client,
		gate:   gate,
		log:    log.WithField("component", "ingest"),
	}
}

// VenueResult is the outcome of one venue poll. Err being set does not imply
// nothing was written: a failed fetch still writes NO_DATA samples so the
// poll leaves a trace.
type VenueResult struct {
	VenueID           string
	RawSamplesWritten int
	MatchedCount      int
	UnmatchedCount    int
	Err               error
}

// PollVenue fetches live data for one venue and writes one raw sample per
// active attraction as a single batch sharing the capture instant now.
func (s *Service) PollVenue(ctx context.Context, venue model.Venue, now time.Time) VenueResult {
	res := VenueResult{VenueID: venue.ID}

	if venue.Timezone == "" {
		res.Err = fmt.Errorf("venue %s: %w", venue.ID, model.ErrMissingTimezone)
		return res
	}
	bucket, localFormatted, err := localtime.Split(now, venue.Timezone)
	if err != nil {
		res.Err = fmt.Errorf("venue %s: %w", venue.ID, err)
		return res
	}

	attractions, err := s.store.Attractions(ctx, venue.ID)
	if err != nil {
		res.Err = fmt.Errorf("venue %s: listing attractions: %w", venue.ID, err)
		return res
	}

	// The gate runs before the fetch on every invocation, success or failure.
	if err := s.gate.Wait(ctx); err != nil {
		res.Err = fmt.Errorf("venue %s: rate gate: %w", venue.ID, err)
		return res
	}

	live, fetchErr := s.client.FetchLive(ctx, venue.ExternalID)
	if fetchErr != nil {
		// No data available for this venue this poll. Samples below become
		// NO_DATA; the error is surfaced but does not abort anything.
		s.log.Warnf("Live fetch failed for venue %s: %v", venue.ID, fetchErr)
		live = provider.NewLiveData(venue.ExternalID, nil)
		res.Err = fmt.Errorf("venue %s: %w: %v", venue.ID, model.ErrProviderUnavailable, fetchErr)
	}

	var batch []model.RawSample
	for _, a := range attractions {
		if !a.Active {
			continue
		}
		batch = append(batch, s.buildSample(a, live, now, bucket, localFormatted, &res))
	}

	if len(batch) > 0 {
		if err := s.store.WriteRawSamples(ctx, batch); err != nil {
			res.Err = fmt.Errorf("venue %s: %w: %v", venue.ID, model.ErrStoreWrite, err)
			return res
		}
		res.RawSamplesWritten = len(batch)
	}

	// Entities the provider sent but we don't track. Logged and counted,
	// never stored: samples hang off attractions, not provider entities.
	res.UnmatchedCount = live.Len() - res.MatchedCount
	if res.UnmatchedCount > 0 {
		s.log.Debugf("Venue %s: %d unmatched live entities", venue.ID, res.UnmatchedCount)
	}

	return res
}

func (s *Service) buildSample(a model.Attraction, live *provider.LiveData, now time.Time, bucket localtime.Bucket, localFormatted string, res *VenueResult) model.RawSample {
	sample := model.RawSample{
		AttractionID: a.ID,
		CapturedAt:   now.UTC(),
		LocalDate:    bucket.Date,
		LocalHour:    bucket.Hour,
		LocalTime:    localFormatted,
	}

	if a.ExternalID == "" {
		sample.Status = model.StatusNoExternalID
		return sample
	}

	entity, ok := live.Lookup(a.ExternalID)
	if !ok {
		sample.Status = model.StatusNoData
		return sample
	}

	res.MatchedCount++
	sample.Status = entity.Status
	sample.StandbyWait = entity.StandbyWait
	sample.SingleRiderWait = entity.SingleRiderWait
	sample.LastUpdated = entity.LastUpdated
	sample.Payload = entity.Raw
	sample.Showtimes = entity.Showtimes
	return sample
}

// PollAll runs one poll across every active venue. A venue's failure never
// prevents the remaining venues from being polled; the caller folds the
// per-venue results into the run summary.
func (s *Service) PollAll(ctx context.Context, now time.Time) []VenueResult {
	venues, err := s.store.Venues(ctx)
	if err != nil {
		s.log.Errorf("Listing venues failed: %v", err)
		return []VenueResult{{Err: fmt.Errorf("listing venues: %w", err)}}
	}

	var results []VenueResult
	for _, v := range venues {
		if !v.Active {
			continue
		}
		if ctx.Err() != nil {
			// Run-scoped cancellation between venue iterations; rows already
			// written stay valid.
			break
		}
		r := s.PollVenue(ctx, v, now)
		if r.Err != nil {
			s.log.Warnf("Poll failed for venue %s: %v", v.ID, r.Err)
		} else {
			s.log.Infof("Polled venue %s: %d samples, %d matched, %d unmatched",
				v.ID, r.RawSamplesWritten, r.MatchedCount, r.UnmatchedCount)
		}
		results = append(results, r)
	}
	return results
}
