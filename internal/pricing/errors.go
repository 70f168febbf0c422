// Package pricing implements closed-form European option pricing with
// analytic Greeks, and implied-volatility extraction via a hybrid
// Newton-Raphson/bisection root-finder.
//
// All functions here are pure: they share no state and are safe to call
// from any number of goroutines.
package pricing

import (
	"errors"
	"fmt"
)

// ErrArbitrageViolation is returned by Solve when the observed price sits
// outside the no-arbitrage bounds for the contract. No volatility can
// reproduce such a price; it is a data-quality signal, not a solver bug.
var ErrArbitrageViolation = errors.New("observed price violates no-arbitrage bounds")

// InvalidInputError reports a malformed numeric input to the pricer or
// solver. It names the violated field; inputs are never silently clamped.
type InvalidInputError struct {
	Field string
	Value float64
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid pricing input: %s = %v", e.Field, e.Value)
}
