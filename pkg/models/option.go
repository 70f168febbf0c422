package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// IsValid reports whether the option type is one of the two known values.
func (t OptionType) IsValid() bool {
	return t == Call || t == Put
}

// OptionContract identifies a single listed option contract.
type OptionContract struct {
	Underlying     string     `json:"underlying"`
	ContractSymbol string     `json:"contract_symbol"` // OCC format, e.g. AAPL240119C00150000
	Strike         float64    `json:"strike"`
	Expiration     time.Time  `json:"expiration"`
	Type           OptionType `json:"type"`
}

// NewOptionContract builds a contract and derives its OCC symbol.
func NewOptionContract(underlying string, typ OptionType, strike float64, expiration time.Time) OptionContract {
	c := OptionContract{
		Underlying: strings.ToUpper(underlying),
		Strike:     strike,
		Expiration: expiration,
		Type:       typ,
	}
	c.ContractSymbol = c.OCCSymbol()
	return c
}

// OCCSymbol returns the OCC-format contract symbol:
// TICKER + YYMMDD + C/P + strike×1000 zero-padded to 8 digits.
func (c OptionContract) OCCSymbol() string {
	typeChar := "C"
	if c.Type == Put {
		typeChar = "P"
	}
	return fmt.Sprintf("%s%s%s%08d",
		c.Underlying,
		c.Expiration.Format("060102"),
		typeChar,
		int64(c.Strike*1000+0.5),
	)
}

// ParseOCCSymbol parses an OCC contract symbol back into a contract.
// Expiration is set to 16:00 UTC, the conventional options expiry cutoff.
func ParseOCCSymbol(sym string) (OptionContract, error) {
	// Strike is the trailing 8 digits, type char immediately before it.
	if len(sym) < 16 {
		return OptionContract{}, fmt.Errorf("occ symbol too short: %q", sym)
	}
	strikeStr := sym[len(sym)-8:]
	typeChar := sym[len(sym)-9]
	dateStr := sym[len(sym)-15 : len(sym)-9]
	underlying := sym[:len(sym)-15]

	if underlying == "" {
		return OptionContract{}, fmt.Errorf("occ symbol missing underlying: %q", sym)
	}

	var typ OptionType
	switch typeChar {
	case 'C':
		typ = Call
	case 'P':
		typ = Put
	default:
		return OptionContract{}, fmt.Errorf("occ symbol has invalid type char %q: %q", typeChar, sym)
	}

	strikeInt, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return OptionContract{}, fmt.Errorf("occ symbol has invalid strike %q: %w", strikeStr, err)
	}

	day, err := time.Parse("060102", dateStr)
	if err != nil {
		return OptionContract{}, fmt.Errorf("occ symbol has invalid date %q: %w", dateStr, err)
	}
	expiration := time.Date(day.Year(), day.Month(), day.Day(), 16, 0, 0, 0, time.UTC)

	return OptionContract{
		Underlying:     underlying,
		ContractSymbol: sym,
		Strike:         float64(strikeInt) / 1000,
		Expiration:     expiration,
		Type:           typ,
	}, nil
}

// TimeToExpiry returns the time remaining until expiration in years,
// measured from asOf. Expired contracts return 0.
func (c OptionContract) TimeToExpiry(asOf time.Time) float64 {
	if !asOf.Before(c.Expiration) {
		return 0
	}
	return c.Expiration.Sub(asOf).Seconds() / (365 * 24 * 60 * 60)
}

// IsCall reports whether the contract is a call.
func (c OptionContract) IsCall() bool { return c.Type == Call }

// OptionQuote is a single market quote for an option contract.
type OptionQuote struct {
	Contract     OptionContract `json:"contract"`
	Bid          float64        `json:"bid"`
	Ask          float64        `json:"ask"`
	Last         float64        `json:"last"`
	BidSize      int64          `json:"bid_size"`
	AskSize      int64          `json:"ask_size"`
	Volume       int64          `json:"volume"`
	OpenInterest int64          `json:"open_interest"`
	Timestamp    time.Time      `json:"timestamp"`
}

// MidPrice returns the bid/ask midpoint.
func (q OptionQuote) MidPrice() float64 {
	return (q.Bid + q.Ask) / 2
}

// Crossed reports whether the market is crossed (bid above ask).
func (q OptionQuote) Crossed() bool {
	return q.Bid > q.Ask
}

// Validate checks the quote's structural invariants.
func (q OptionQuote) Validate() error {
	if q.Contract.Strike <= 0 {
		return fmt.Errorf("quote %s: strike must be positive, got %v", q.Contract.ContractSymbol, q.Contract.Strike)
	}
	if !q.Contract.Type.IsValid() {
		return fmt.Errorf("quote %s: invalid option type %q", q.Contract.ContractSymbol, q.Contract.Type)
	}
	if q.Bid > 0 && q.Ask > 0 && q.Crossed() {
		return fmt.Errorf("quote %s: crossed market, bid %v > ask %v", q.Contract.ContractSymbol, q.Bid, q.Ask)
	}
	if q.Contract.Expiration.Before(truncateToDay(q.Timestamp)) {
		return fmt.Errorf("quote %s: expiration %s before quote date %s",
			q.Contract.ContractSymbol,
			q.Contract.Expiration.Format("2006-01-02"),
			q.Timestamp.Format("2006-01-02"))
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ChainSnapshot is a consistent set of option quotes for one underlying,
// all sampled within the same as-of bucket.
type ChainSnapshot struct {
	Underlying string        `json:"underlying"`
	Quotes     []OptionQuote `json:"quotes"`
	Spot       float64       `json:"spot"`
	AsOf       time.Time     `json:"as_of"`
}
