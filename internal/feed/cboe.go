package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seenimoa/volsurf/internal/infra"
	"github.com/seenimoa/volsurf/pkg/models"
	"github.com/seenimoa/volsurf/pkg/utils"
)

// CBOE offers free delayed market data via its CDN JSON APIs, no API
// key required. Option records are keyed by OCC contract symbols.
const defaultCBOEBaseURL = "https://cdn.cboe.com/api/global/delayed_quotes"

var cboeHeaders = map[string]string{
	"Accept":          "application/json",
	"Accept-Language": "en-US,en;q=0.9",
}

// CBOEClient implements QuoteSource and SpotSource against the CBOE
// delayed quotes CDN.
type CBOEClient struct {
	baseURL string
	limiter *infra.RateLimiter
}

// NewCBOEClient creates a client gated by the given rate limiter. A nil
// limiter disables client-side gating.
func NewCBOEClient(limiter *infra.RateLimiter) *CBOEClient {
	return &CBOEClient{
		baseURL: defaultCBOEBaseURL,
		limiter: limiter,
	}
}

// newCBOEClientWithBase is used by tests to point at a local server.
func newCBOEClientWithBase(baseURL string, limiter *infra.RateLimiter) *CBOEClient {
	return &CBOEClient{baseURL: baseURL, limiter: limiter}
}

type cboeOptionsResponse struct {
	Data cboeOptionsPayload `json:"data"`
}

type cboeOptionsPayload struct {
	Symbol       string             `json:"symbol"`
	CurrentPrice float64            `json:"current_price"`
	Options      []cboeOptionRecord `json:"options"`
}

type cboeOptionRecord struct {
	Option         string  `json:"option"`
	Bid            float64 `json:"bid"`
	BidSize        int64   `json:"bid_size"`
	Ask            float64 `json:"ask"`
	AskSize        int64   `json:"ask_size"`
	Volume         int64   `json:"volume"`
	OpenInterest   int64   `json:"open_interest"`
	LastTradePrice float64 `json:"last_trade_price"`
}

type cboeQuoteResponse struct {
	Data struct {
		Symbol       string  `json:"symbol"`
		CurrentPrice float64 `json:"current_price"`
	} `json:"data"`
}

// FetchChain fetches the full delayed options chain for symbol. Records
// whose contract symbol does not parse are dropped; quote timestamps are
// stamped with asOf so one build spans a single snapshot time.
func (c *CBOEClient) FetchChain(ctx context.Context, symbol string, asOf time.Time) ([]models.OptionQuote, error) {
	symbol = utils.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("feed: symbol is required")
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}

	var resp cboeOptionsResponse
	if err := c.getJSON(ctx, c.baseURL+"/options/"+symbol+".json", &resp); err != nil {
		return nil, fmt.Errorf("cboe options chain %s: %w", symbol, err)
	}

	quotes := make([]models.OptionQuote, 0, len(resp.Data.Options))
	for _, opt := range resp.Data.Options {
		contract, err := models.ParseOCCSymbol(opt.Option)
		if err != nil {
			continue
		}
		quotes = append(quotes, models.OptionQuote{
			Contract:     contract,
			Bid:          opt.Bid,
			Ask:          opt.Ask,
			Last:         opt.LastTradePrice,
			BidSize:      opt.BidSize,
			AskSize:      opt.AskSize,
			Volume:       opt.Volume,
			OpenInterest: opt.OpenInterest,
			Timestamp:    asOf,
		})
	}
	return quotes, nil
}

// Spot fetches the delayed spot price for symbol.
func (c *CBOEClient) Spot(ctx context.Context, symbol string, asOf time.Time) (float64, error) {
	symbol = utils.NormalizeSymbol(symbol)
	if symbol == "" {
		return 0, fmt.Errorf("feed: symbol is required")
	}
	if err := c.acquire(ctx); err != nil {
		return 0, err
	}

	var resp cboeQuoteResponse
	if err := c.getJSON(ctx, c.baseURL+"/quotes/"+symbol+".json", &resp); err != nil {
		return 0, fmt.Errorf("cboe quote %s: %w", symbol, err)
	}
	if resp.Data.CurrentPrice <= 0 {
		return 0, fmt.Errorf("cboe quote %s: no price: %w", symbol, ErrUnavailable)
	}
	return resp.Data.CurrentPrice, nil
}

func (c *CBOEClient) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Acquire(ctx, 1)
}

// getJSON fetches a CDN JSON endpoint and decodes into dst, mapping HTTP
// status to the feed sentinels.
func (c *CBOEClient) getJSON(ctx context.Context, url string, dst any) error {
	body, status, err := infra.DoGet(ctx, url, cboeHeaders)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer body.Close()

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, status)
	case status >= 400:
		b, _ := io.ReadAll(io.LimitReader(body, 512))
		return fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, status, string(b))
	}

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}
