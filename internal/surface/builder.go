package surface

import (
	"errors"
	"fmt"
	"time"

	"github.com/seenimoa/volsurf/internal/pricing"
	"github.com/seenimoa/volsurf/pkg/models"
)

// Report counts what happened to each input quote during a build. The
// surface is intentionally sparse where data is unreliable, so callers use
// the report to judge coverage rather than failing the build.
type Report struct {
	Input        int `json:"input"`
	Skipped      int `json:"skipped"`       // crossed/zero markets, expired contracts
	Arbitrage    int `json:"arbitrage"`     // mid outside no-arbitrage bounds
	NonConverged int `json:"non_converged"` // solver ran out of iterations
	Solved       int `json:"solved"`
}

// Build assembles an implied-volatility surface from one consistent quote
// snapshot. For each quote it derives the bid/ask mid, inverts it for vol,
// and places the result on the (strike, expiration) grid. solveOpts tune
// the root-finder for every point; none selects the solver defaults.
//
// Quotes with a zero or crossed bid/ask are skipped, not zeroed; contracts
// that fail to solve — arbitrage-violating mids or non-convergence — are
// omitted from the surface rather than filled with a placeholder. Building
// is pure: it mutates nothing and returns a fresh immutable snapshot.
func Build(underlying string, quotes []models.OptionQuote, spot, rate float64, asOf time.Time, solveOpts ...pricing.SolveOption) (*Surface, Report, error) {
	report := Report{Input: len(quotes)}
	if spot <= 0 {
		return nil, report, fmt.Errorf("surface %s: spot must be positive, got %v", underlying, spot)
	}

	var results []models.ImpliedVolatilityResult
	for _, q := range quotes {
		if q.Bid <= 0 || q.Ask <= 0 || q.Crossed() {
			report.Skipped++
			continue
		}
		in, ok := models.NewPricingInput(q, spot, rate, asOf)
		if !ok {
			report.Skipped++
			continue
		}

		res, err := pricing.Solve(in, q.MidPrice(), solveOpts...)
		switch {
		case errors.Is(err, pricing.ErrArbitrageViolation):
			report.Arbitrage++
			continue
		case err != nil:
			report.Skipped++
			continue
		case !res.Converged:
			report.NonConverged++
			continue
		}

		res.ContractSymbol = q.Contract.ContractSymbol
		res.Expiration = q.Contract.Expiration
		results = append(results, res)
	}
	report.Solved = len(results)

	if len(results) == 0 {
		return nil, report, fmt.Errorf("surface %s: no quote produced a usable volatility (%d in, %d skipped, %d arbitrage, %d non-converged)",
			underlying, report.Input, report.Skipped, report.Arbitrage, report.NonConverged)
	}

	s, err := New(underlying, asOf, results)
	if err != nil {
		return nil, report, err
	}
	return s, report, nil
}
