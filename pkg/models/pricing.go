package models

import (
	"math"
	"time"
)

// PricingInput carries everything the closed-form pricer needs for one
// contract. TimeToExpiry is in years and must be strictly positive;
// expired contracts never reach the pricer.
type PricingInput struct {
	Spot         float64    `json:"spot"`
	Strike       float64    `json:"strike"`
	TimeToExpiry float64    `json:"time_to_expiry"`
	Rate         float64    `json:"rate"`
	Type         OptionType `json:"type"`
}

// NewPricingInput derives a pricing input from a quote, the underlying spot
// and the as-of time. ok is false when the contract has already expired.
func NewPricingInput(q OptionQuote, spot, rate float64, asOf time.Time) (PricingInput, bool) {
	tte := q.Contract.TimeToExpiry(asOf)
	if tte <= 0 {
		return PricingInput{}, false
	}
	return PricingInput{
		Spot:         spot,
		Strike:       q.Contract.Strike,
		TimeToExpiry: tte,
		Rate:         rate,
		Type:         q.Contract.Type,
	}, true
}

// Greeks are the first-order sensitivities of an option price.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// Finite reports whether every Greek is a finite real number.
// NaN or infinite sensitivities mean the computation failed.
func (g Greeks) Finite() bool {
	for _, v := range []float64{g.Delta, g.Gamma, g.Theta, g.Vega, g.Rho} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PriceAndGreeks is the pricer's output for a single contract.
type PriceAndGreeks struct {
	Price  float64 `json:"price"`
	Greeks Greeks  `json:"greeks"`
}

// SolveMethod names the root-finding method that produced an IV result.
type SolveMethod string

const (
	MethodNewton    SolveMethod = "newton"
	MethodBisection SolveMethod = "bisection"
)

// ImpliedVolatilityResult is the solver's output for one contract.
// Results are immutable; a fresher quote produces a new result rather
// than mutating an old one.
type ImpliedVolatilityResult struct {
	ContractSymbol string      `json:"contract_symbol"`
	Strike         float64     `json:"strike"`
	Expiration     time.Time   `json:"expiration"`
	Type           OptionType  `json:"type"`
	Vol            float64     `json:"vol"` // annualized
	Iterations     int         `json:"iterations"`
	Converged      bool        `json:"converged"`
	Method         SolveMethod `json:"method"`
}

// SurfaceUpdate is the wire representation of a surface snapshot pushed to
// read-only consumers (websocket clients, plotting frontends). The three
// slices are parallel: point i sits at (Strikes[i], Expiries[i]) with
// implied volatility Vols[i]. Only solved points are included, so the
// payload is never sparse.
type SurfaceUpdate struct {
	Symbol   string      `json:"symbol"`
	Strikes  []float64   `json:"strikes"`
	Expiries []time.Time `json:"expiries"`
	Vols     []float64   `json:"vols"`
	AsOf     time.Time   `json:"as_of"`
}
