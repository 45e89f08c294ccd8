package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces a minimum spacing between calls to the live-data provider.
// One Gate is shared process-wide, so however many workers are in flight,
// outbound requests stay serialized at the configured interval.
type Gate struct {
	limiter *rate.Limiter
}

// NewGate builds a gate allowing one call per minInterval.
func NewGate(minInterval time.Duration) *Gate {
	return &Gate{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Wait blocks until the next call is allowed or ctx is done. It is called
// before every provider request, success or failure.
func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
