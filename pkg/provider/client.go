// Package provider talks to the external live-data service: one request per
// venue, returning per-attraction queue status.
//
// The wire payload is modeled with nested pointers so "field absent" and
// "field null" stay distinguishable; the ingestion sentinels depend on that
// distinction.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parkpulse/parkpulse/pkg/logger"
)

// Client fetches live entity data for one venue.
type Client interface {
	FetchLive(ctx context.Context, venueExternalID string) (*LiveData, error)
}

// waitBlock is one queue lane in the wire payload. WaitTime nil means the
// provider reported an explicit null.
type waitBlock struct {
	WaitTime *int `json:"waitTime"`
}

// queueBlock is the queue object of a live entity. A nil lane means the lane
// was absent from the payload entirely.
type queueBlock struct {
	Standby     *waitBlock `json:"STANDBY"`
	SingleRider *waitBlock `json:"SINGLE_RIDER"`
}

type liveEntityWire struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Queue       *queueBlock     `json:"queue"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Showtimes   json.RawMessage `json:"showtimes"`
}

type liveResponseWire struct {
	ID       string            `json:"id"`
	LiveData []json.RawMessage `json:"liveData"`
}

// LiveEntity is one attraction's live entry, decoded and flattened.
type LiveEntity struct {
	ExternalID      string
	Status          string
	StandbyWait     *int
	SingleRiderWait *int
	LastUpdated     time.Time
	Showtimes       json.RawMessage
	Raw             json.RawMessage
}

// LiveData is the result of one venue fetch, indexed by entity external id.
type LiveData struct {
	VenueExternalID string
	entities        map[string]LiveEntity
}

// Lookup returns the live entry for an external id, if the provider sent one.
func (d *LiveData) Lookup(externalID string) (LiveEntity, bool) {
	e, ok := d.entities[externalID]
	return e, ok
}

// Len returns how many live entries the provider sent.
func (d *LiveData) Len() int { return len(d.entities) }

// HTTPClient implements Client against the provider's REST API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	log     logger.Logger
}

// NewHTTPClient builds a provider client with a hard request timeout; a
// venue fetch that hangs must fail the venue, not the run.
func NewHTTPClient(baseURL string, timeout time.Duration, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		log:     log.WithField("component", "provider"),
	}
}

// FetchLive requests the venue's live data. Non-success responses and
// malformed payloads are errors; the caller treats them as "no data for this
// venue this poll", never as fatal for the run.
func (c *HTTPClient) FetchLive(ctx context.Context, venueExternalID string) (*LiveData, error) {
	url := fmt.Sprintf("%s/entity/%s/live", c.baseURL, venueExternalID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var wire liveResponseWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	data := &LiveData{
		VenueExternalID: venueExternalID,
		entities:        make(map[string]LiveEntity, len(wire.LiveData)),
	}
	for _, raw := range wire.LiveData {
		var e liveEntityWire
		if err := json.Unmarshal(raw, &e); err != nil {
			// One malformed entity should not sink the venue.
			c.log.Warnf("Skipping malformed live entity for venue %s: %v", venueExternalID, err)
			continue
		}
		data.entities[e.ID] = flattenEntity(e, raw)
	}

	c.log.Debugf("Fetched %d live entities for venue %s", data.Len(), venueExternalID)
	return data, nil
}

func flattenEntity(e liveEntityWire, raw json.RawMessage) LiveEntity {
	out := LiveEntity{
		ExternalID:  e.ID,
		Status:      e.Status,
		LastUpdated: e.LastUpdated,
		Showtimes:   e.Showtimes,
		Raw:         raw,
	}
	if e.Queue != nil {
		if e.Queue.Standby != nil {
			out.StandbyWait = e.Queue.Standby.WaitTime
		}
		if e.Queue.SingleRider != nil {
			out.SingleRiderWait = e.Queue.SingleRider.WaitTime
		}
	}
	return out
}

// NewLiveData builds a LiveData from entities directly. Used by tests and by
// fake providers.
func NewLiveData(venueExternalID string, entities []LiveEntity) *LiveData {
	d := &LiveData{
		VenueExternalID: venueExternalID,
		entities:        make(map[string]LiveEntity, len(entities)),
	}
	for _, e := range entities {
		d.entities[e.ExternalID] = e
	}
	return d
}
