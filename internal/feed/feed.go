// Package feed defines the market data boundary: quote, spot, and
// risk-free rate sources. Implementations handle transport; retry and
// rate limiting live at the engine boundary, so source errors map to
// the two sentinels below and nothing else retries internally.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/seenimoa/volsurf/pkg/models"
)

var (
	// ErrUnavailable indicates the upstream source could not be reached
	// or returned an unusable response.
	ErrUnavailable = errors.New("feed: source unavailable")

	// ErrRateLimited indicates the upstream source rejected the request
	// for quota reasons.
	ErrRateLimited = errors.New("feed: source rate limited")
)

// QuoteSource supplies option chain snapshots for an underlying.
type QuoteSource interface {
	FetchChain(ctx context.Context, symbol string, asOf time.Time) ([]models.OptionQuote, error)
}

// SpotSource supplies the underlying spot price.
type SpotSource interface {
	Spot(ctx context.Context, symbol string, asOf time.Time) (float64, error)
}

// RateSource supplies the risk-free rate used for discounting.
type RateSource interface {
	RiskFreeRate(ctx context.Context, asOf time.Time) (float64, error)
}

// FixedRate is a RateSource returning a constant annualized rate.
type FixedRate float64

// RiskFreeRate returns the fixed rate. Non-finite values are rejected.
func (r FixedRate) RiskFreeRate(ctx context.Context, asOf time.Time) (float64, error) {
	v := float64(r)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("feed: fixed rate %v is not finite", v)
	}
	return v, nil
}
