package pricing

import (
	"math"

	"github.com/seenimoa/volsurf/pkg/models"
)

// Solver bounds. The bracket [VolMin, VolMax] covers annualized volatilities
// from 0.01% to 500%; anything outside is market noise, not a vol.
const (
	VolMin = 1e-4
	VolMax = 5.0

	// DefaultTolerance is the absolute price residual below which the
	// solve is considered converged.
	DefaultTolerance = 1e-6

	// DefaultMaxIterations bounds the combined Newton + bisection loop.
	DefaultMaxIterations = 100

	// vegaFloor is the vega magnitude below which a Newton step is
	// numerically meaningless and the solver falls back to bisection.
	vegaFloor = 1e-8

	// newtonDampIters damps the first Newton steps by half; the
	// Brenner-Subrahmanyam seed can overshoot away from the money.
	newtonDampIters = 5
)

// SolveOptions tune the root-finder. The zero value selects the defaults.
type SolveOptions struct {
	Tolerance     float64 // absolute price tolerance; 0 → DefaultTolerance
	MaxIterations int     // 0 → DefaultMaxIterations
	InitialGuess  float64 // 0 → Brenner-Subrahmanyam heuristic
}

// SolveOption mutates SolveOptions.
type SolveOption func(*SolveOptions)

// WithTolerance overrides the price residual tolerance.
func WithTolerance(tol float64) SolveOption {
	return func(o *SolveOptions) { o.Tolerance = tol }
}

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) SolveOption {
	return func(o *SolveOptions) { o.MaxIterations = n }
}

// WithInitialGuess seeds the Newton iteration with a caller-supplied vol.
func WithInitialGuess(vol float64) SolveOption {
	return func(o *SolveOptions) { o.InitialGuess = vol }
}

// initialGuess seeds the Newton iteration. At the money it uses the
// Brenner-Subrahmanyam approximation σ ≈ √(2π/T)·(price/spot); deep
// ITM/OTM (moneyness outside [0.5, 1.5]) the approximation breaks down and
// a flat 30% is a better start.
func initialGuess(observed float64, in models.PricingInput) float64 {
	moneyness := in.Spot / in.Strike
	if in.Type == models.Put {
		moneyness = in.Strike / in.Spot
	}
	if moneyness > 1.5 || moneyness < 0.5 {
		return 0.3
	}
	guess := math.Sqrt(2*math.Pi/in.TimeToExpiry) * (observed / in.Spot)
	return clampVol(guess)
}

func clampVol(v float64) float64 {
	if v < VolMin {
		return VolMin
	}
	if v > VolMax {
		return VolMax
	}
	return v
}

// checkBounds enforces the no-arbitrage envelope before any iteration:
// observed must sit above discounted intrinsic and below the upper bound
// (spot for calls, discounted strike for puts).
func checkBounds(observed float64, in models.PricingInput) error {
	if math.IsNaN(observed) || observed <= 0 {
		return &InvalidInputError{Field: "observed_price", Value: observed}
	}
	if observed < Intrinsic(in) {
		return ErrArbitrageViolation
	}
	upper := in.Spot
	if in.Type == models.Put {
		upper = in.Strike * math.Exp(-in.Rate*in.TimeToExpiry)
	}
	if observed > upper {
		return ErrArbitrageViolation
	}
	return nil
}

// Solve inverts the Black-Scholes price for volatility.
//
// The iteration is an explicit two-state loop: it runs damped Newton-Raphson
// while vega is healthy and each step stays inside the current bracket, and
// switches permanently to bisection on [VolMin, VolMax] the first time a
// step escapes or vega collapses. Every evaluated price tightens the
// bracket, so the bisection fallback always starts from the best bounds
// Newton discovered.
//
// Non-convergence within the iteration budget is not an error: the result
// carries Converged=false and the caller decides. Deterministic for
// identical inputs.
func Solve(in models.PricingInput, observed float64, opts ...SolveOption) (models.ImpliedVolatilityResult, error) {
	o := SolveOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}

	if err := validate(in, 1); err != nil { // vol validated separately below
		return models.ImpliedVolatilityResult{}, err
	}
	if err := checkBounds(observed, in); err != nil {
		return models.ImpliedVolatilityResult{}, err
	}

	sigma := o.InitialGuess
	if sigma <= 0 {
		sigma = initialGuess(observed, in)
	} else {
		sigma = clampVol(sigma)
	}

	lo, hi := VolMin, VolMax
	method := models.MethodNewton

	result := models.ImpliedVolatilityResult{
		Strike: in.Strike,
		Type:   in.Type,
		Vol:    sigma,
		Method: method,
	}

	for i := 1; i <= o.MaxIterations; i++ {
		pg, err := PriceAndGreeks(in, sigma)
		if err != nil {
			return models.ImpliedVolatilityResult{}, err
		}
		diff := pg.Price - observed

		result.Vol = sigma
		result.Iterations = i
		result.Method = method

		if math.Abs(diff) < o.Tolerance {
			result.Converged = true
			return result, nil
		}

		// Black-Scholes price is monotone in vol, so every evaluation
		// tightens the bisection bracket.
		if diff > 0 {
			hi = sigma
		} else {
			lo = sigma
		}

		if method == models.MethodNewton {
			vega := pg.Greeks.Vega
			if math.Abs(vega) < vegaFloor {
				method = models.MethodBisection
			} else {
				step := diff / vega
				if i <= newtonDampIters {
					step *= 0.5
				}
				next := sigma - step
				if next <= lo || next >= hi || math.IsNaN(next) {
					method = models.MethodBisection
				} else {
					sigma = next
					continue
				}
			}
		}

		sigma = (lo + hi) / 2
	}

	// Budget exhausted: report the best estimate with the flag down.
	result.Converged = false
	return result, nil
}
