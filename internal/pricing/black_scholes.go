package pricing

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/seenimoa/volsurf/pkg/models"
)

// stdNormal is the standard normal distribution used for N(x) and φ(x).
var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// cdf returns N(x) saturated to [0, 1]. For very large |x| the closed-form
// terms would otherwise pick up rounding noise from the tail expansion.
func cdf(x float64) float64 {
	p := stdNormal.CDF(x)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// pdf returns φ(x); the density underflows cleanly to 0 for large |x|.
func pdf(x float64) float64 {
	return stdNormal.Prob(x)
}

// validate checks the pricer preconditions. Inputs are rejected, never
// clamped: a non-positive time-to-expiry or volatility means the caller
// fed the pricer an expired or degenerate contract.
func validate(in models.PricingInput, vol float64) error {
	switch {
	case math.IsNaN(in.Spot) || in.Spot <= 0:
		return &InvalidInputError{Field: "spot", Value: in.Spot}
	case math.IsNaN(in.Strike) || in.Strike <= 0:
		return &InvalidInputError{Field: "strike", Value: in.Strike}
	case math.IsNaN(in.TimeToExpiry) || in.TimeToExpiry <= 0:
		return &InvalidInputError{Field: "time_to_expiry", Value: in.TimeToExpiry}
	case math.IsNaN(in.Rate) || math.IsInf(in.Rate, 0):
		return &InvalidInputError{Field: "rate", Value: in.Rate}
	case math.IsNaN(vol) || vol <= 0:
		return &InvalidInputError{Field: "volatility", Value: vol}
	}
	if !in.Type.IsValid() {
		return &InvalidInputError{Field: "type", Value: math.NaN()}
	}
	return nil
}

// PriceAndGreeks prices a European option and its analytic first-order
// sensitivities under Black-Scholes. Pure and deterministic. American
// exercise is not modelled; for deep ITM American puts the returned price
// is a lower bound.
func PriceAndGreeks(in models.PricingInput, vol float64) (models.PriceAndGreeks, error) {
	if err := validate(in, vol); err != nil {
		return models.PriceAndGreeks{}, err
	}

	sqrtT := math.Sqrt(in.TimeToExpiry)
	d1 := (math.Log(in.Spot/in.Strike) + (in.Rate+0.5*vol*vol)*in.TimeToExpiry) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT
	disc := math.Exp(-in.Rate * in.TimeToExpiry)

	var price float64
	g := models.Greeks{
		Gamma: pdf(d1) / (in.Spot * vol * sqrtT),
		Vega:  in.Spot * pdf(d1) * sqrtT,
	}

	if in.Type == models.Call {
		price = in.Spot*cdf(d1) - in.Strike*disc*cdf(d2)
		g.Delta = cdf(d1)
		g.Theta = -in.Spot*pdf(d1)*vol/(2*sqrtT) - in.Rate*in.Strike*disc*cdf(d2)
		g.Rho = in.Strike * in.TimeToExpiry * disc * cdf(d2)
	} else {
		price = in.Strike*disc*cdf(-d2) - in.Spot*cdf(-d1)
		g.Delta = cdf(d1) - 1
		g.Theta = -in.Spot*pdf(d1)*vol/(2*sqrtT) + in.Rate*in.Strike*disc*cdf(-d2)
		g.Rho = -in.Strike * in.TimeToExpiry * disc * cdf(-d2)
	}

	// Saturated CDFs can leave a tiny negative residue for far OTM contracts.
	if price < 0 {
		price = 0
	}

	if math.IsNaN(price) || math.IsInf(price, 0) || !g.Finite() {
		return models.PriceAndGreeks{}, &InvalidInputError{Field: "result", Value: price}
	}

	return models.PriceAndGreeks{Price: price, Greeks: g}, nil
}

// Intrinsic returns the discounted intrinsic value of the contract, the
// theoretical minimum any quote can trade at without arbitrage.
func Intrinsic(in models.PricingInput) float64 {
	disc := math.Exp(-in.Rate * in.TimeToExpiry)
	if in.Type == models.Call {
		return math.Max(in.Spot-in.Strike*disc, 0)
	}
	return math.Max(in.Strike*disc-in.Spot, 0)
}
