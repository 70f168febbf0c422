package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/seenimoa/volsurf/pkg/models"
)

func TestSolveRoundTripATM(t *testing.T) {
	in := atmCall()
	pg, err := PriceAndGreeks(in, 0.20)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Solve(in, pg.Price)
	if err != nil {
		t.Fatalf("Solve error: %v", err)
	}
	if !res.Converged {
		t.Fatalf("expected convergence, stopped after %d iterations at vol %v", res.Iterations, res.Vol)
	}
	if math.Abs(res.Vol-0.20) > 1e-4 {
		t.Errorf("vol: got %.6f, want 0.20 ± 1e-4", res.Vol)
	}
	if res.Iterations <= 0 || res.Iterations > DefaultMaxIterations {
		t.Errorf("iterations out of range: %d", res.Iterations)
	}
}

// Round-trip law: pricing at a known vol and solving from that price must
// recover the vol, across moneyness, maturities and both contract types.
func TestSolveRoundTripGrid(t *testing.T) {
	vols := []float64{0.08, 0.15, 0.30, 0.60, 1.20}
	strikes := []float64{60, 85, 100, 120, 175}
	expiries := []float64{0.05, 0.25, 1.0, 2.5}

	for _, typ := range []models.OptionType{models.Call, models.Put} {
		for _, k := range strikes {
			for _, tte := range expiries {
				for _, vol := range vols {
					in := models.PricingInput{
						Spot:         100,
						Strike:       k,
						TimeToExpiry: tte,
						Rate:         0.03,
						Type:         typ,
					}
					pg, err := PriceAndGreeks(in, vol)
					if err != nil {
						t.Fatalf("%s K=%v T=%v vol=%v: price error %v", typ, k, tte, vol, err)
					}
					// Skip points where the theoretical price is so close to
					// its arbitrage bound that the vol is unidentifiable.
					if pg.Price-Intrinsic(in) < 10*DefaultTolerance {
						continue
					}

					res, err := Solve(in, pg.Price)
					if err != nil {
						t.Errorf("%s K=%v T=%v vol=%v: solve error %v", typ, k, tte, vol, err)
						continue
					}
					if !res.Converged {
						t.Errorf("%s K=%v T=%v vol=%v: did not converge (%d iters, vol %v)",
							typ, k, tte, vol, res.Iterations, res.Vol)
						continue
					}
					if math.Abs(res.Vol-vol) > 1e-4 {
						t.Errorf("%s K=%v T=%v: recovered %v, want %v", typ, k, tte, res.Vol, vol)
					}
				}
			}
		}
	}
}

func TestSolveDeterministic(t *testing.T) {
	in := atmCall()
	a, err := Solve(in, 9.4134)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Solve(in, 9.4134)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("identical inputs gave different results: %+v vs %+v", a, b)
	}
}

func TestSolveArbitrageViolation(t *testing.T) {
	// Call quoted below intrinsic: spot 100, strike 90 → intrinsic ≈ 12.66.
	in := models.PricingInput{
		Spot:         100,
		Strike:       90,
		TimeToExpiry: 1.0,
		Rate:         0.03,
		Type:         models.Call,
	}
	if _, err := Solve(in, 5.00); !errors.Is(err, ErrArbitrageViolation) {
		t.Errorf("below intrinsic: got %v, want ErrArbitrageViolation", err)
	}

	// Call quoted above spot.
	if _, err := Solve(in, 101); !errors.Is(err, ErrArbitrageViolation) {
		t.Errorf("above spot: got %v, want ErrArbitrageViolation", err)
	}

	// Put quoted above discounted strike.
	in.Type = models.Put
	if _, err := Solve(in, 90); !errors.Is(err, ErrArbitrageViolation) {
		t.Errorf("put above Ke^(−rT): got %v, want ErrArbitrageViolation", err)
	}
}

func TestSolveInvalidObserved(t *testing.T) {
	in := atmCall()
	for _, px := range []float64{0, -1, math.NaN()} {
		_, err := Solve(in, px)
		var inv *InvalidInputError
		if !errors.As(err, &inv) {
			t.Errorf("observed=%v: expected InvalidInputError, got %v", px, err)
		}
	}
}

func TestSolveNonConvergenceReported(t *testing.T) {
	in := atmCall()
	res, err := Solve(in, 9.4134, WithMaxIterations(1), WithTolerance(1e-12))
	if err != nil {
		t.Fatalf("non-convergence must not be an error: %v", err)
	}
	if res.Converged {
		t.Error("expected Converged=false after one iteration at 1e-12 tolerance")
	}
	if res.Iterations != 1 {
		t.Errorf("iterations: got %d, want 1", res.Iterations)
	}
	if res.Vol <= 0 {
		t.Errorf("best-effort vol should stay positive, got %v", res.Vol)
	}
}

func TestSolveInitialGuessOverride(t *testing.T) {
	in := atmCall()
	pg, err := PriceAndGreeks(in, 0.20)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Solve(in, pg.Price, WithInitialGuess(0.21))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Fatal("expected convergence from a nearby seed")
	}
	if math.Abs(res.Vol-0.20) > 1e-4 {
		t.Errorf("vol: got %v, want 0.20", res.Vol)
	}
	// A seed next to the root should converge in very few Newton steps.
	if res.Iterations > 10 {
		t.Errorf("iterations: got %d, want ≤ 10", res.Iterations)
	}
	if res.Method != models.MethodNewton {
		t.Errorf("method: got %s, want newton", res.Method)
	}
}

// Bisection fallback: a tiny near-expiry OTM price has vanishing vega, which
// knocks Newton out; the bracket search must still recover the vol.
func TestSolveBisectionFallback(t *testing.T) {
	in := models.PricingInput{
		Spot:         100,
		Strike:       140,
		TimeToExpiry: 0.02,
		Rate:         0.03,
		Type:         models.Call,
	}
	pg, err := PriceAndGreeks(in, 0.90)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Solve(in, pg.Price, WithInitialGuess(VolMin))
	if err != nil {
		t.Fatalf("Solve error: %v", err)
	}
	if !res.Converged {
		t.Fatalf("expected convergence, got %d iterations at vol %v", res.Iterations, res.Vol)
	}
	if math.Abs(res.Vol-0.90) > 1e-3 {
		t.Errorf("vol: got %v, want 0.90 ± 1e-3", res.Vol)
	}
}
