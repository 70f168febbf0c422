// Package surface builds and queries implied-volatility surfaces.
//
// A Surface is an immutable snapshot over one underlying: a sorted strike
// axis, a sorted expiration axis, and a dense vol grid with NaN holes where
// no contract solved. Surfaces are never mutated in place — fresher quotes
// produce a replacement snapshot.
package surface

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/seenimoa/volsurf/pkg/models"
)

// ErrExtrapolation is returned for queries outside the convex hull of the
// observed grid, or inside a sparse region whose surrounding grid points
// did not solve. Callers opt into boundary clamping explicitly via
// InterpolateClamped.
var ErrExtrapolation = errors.New("query outside the observed surface grid")

// Surface is a queryable implied-volatility snapshot for one underlying.
type Surface struct {
	symbol   string
	asOf     time.Time
	strikes  []float64
	expiries []time.Time
	vols     [][]float64 // [expiry][strike], NaN where unsolved
	points   int
}

// New assembles a surface from solved results. Every result must belong to
// the same underlying and the same as-of bucket; the grid axes are the
// unique strikes and expirations observed.
func New(symbol string, asOf time.Time, results []models.ImpliedVolatilityResult) (*Surface, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("surface %s: no solved volatilities", symbol)
	}

	strikeSet := make(map[float64]bool)
	expirySet := make(map[time.Time]bool)
	for _, r := range results {
		strikeSet[r.Strike] = true
		expirySet[r.Expiration.UTC()] = true
	}

	strikes := make([]float64, 0, len(strikeSet))
	for k := range strikeSet {
		strikes = append(strikes, k)
	}
	sort.Float64s(strikes)

	expiries := make([]time.Time, 0, len(expirySet))
	for e := range expirySet {
		expiries = append(expiries, e)
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

	vols := make([][]float64, len(expiries))
	for i := range vols {
		row := make([]float64, len(strikes))
		for j := range row {
			row[j] = math.NaN()
		}
		vols[i] = row
	}

	s := &Surface{
		symbol:   symbol,
		asOf:     asOf,
		strikes:  strikes,
		expiries: expiries,
		vols:     vols,
	}

	for _, r := range results {
		i := s.expiryIndex(r.Expiration.UTC())
		j := s.strikeIndex(r.Strike)
		if i < 0 || j < 0 {
			continue
		}
		if math.IsNaN(vols[i][j]) {
			s.points++
		}
		vols[i][j] = r.Vol
	}

	return s, nil
}

// Symbol returns the underlying symbol.
func (s *Surface) Symbol() string { return s.symbol }

// AsOf returns the as-of timestamp of the quote snapshot the surface was
// built from.
func (s *Surface) AsOf() time.Time { return s.asOf }

// Points returns the number of solved grid points.
func (s *Surface) Points() int { return s.points }

// Strikes returns a copy of the strike axis.
func (s *Surface) Strikes() []float64 {
	out := make([]float64, len(s.strikes))
	copy(out, s.strikes)
	return out
}

// Expiries returns a copy of the expiration axis.
func (s *Surface) Expiries() []time.Time {
	out := make([]time.Time, len(s.expiries))
	copy(out, s.expiries)
	return out
}

// Vol returns the solved volatility at an exact grid point. ok is false
// when the point is off-grid or did not solve.
func (s *Surface) Vol(strike float64, expiry time.Time) (vol float64, ok bool) {
	i := s.expiryIndex(expiry.UTC())
	j := s.strikeIndex(strike)
	if i < 0 || j < 0 {
		return 0, false
	}
	v := s.vols[i][j]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Interpolate returns the implied volatility at (strike, expiry) using
// bilinear interpolation over the observed grid. Exact grid points are
// returned unchanged. Queries outside the grid's hull, or whose bracketing
// grid points did not solve, fail with ErrExtrapolation.
func (s *Surface) Interpolate(strike float64, expiry time.Time) (float64, error) {
	return s.interpolate(strike, expiry.UTC(), false)
}

// InterpolateClamped behaves like Interpolate but clamps out-of-hull
// queries to the nearest grid boundary. This is the explicit opt-in for
// extrapolation; the result is the boundary value, never a projection
// beyond it.
func (s *Surface) InterpolateClamped(strike float64, expiry time.Time) (float64, error) {
	return s.interpolate(strike, expiry.UTC(), true)
}

func (s *Surface) interpolate(strike float64, expiry time.Time, clamp bool) (float64, error) {
	if clamp {
		if strike < s.strikes[0] {
			strike = s.strikes[0]
		}
		if strike > s.strikes[len(s.strikes)-1] {
			strike = s.strikes[len(s.strikes)-1]
		}
		if expiry.Before(s.expiries[0]) {
			expiry = s.expiries[0]
		}
		if last := s.expiries[len(s.expiries)-1]; expiry.After(last) {
			expiry = last
		}
	}

	j0, j1, u, ok := bracketStrikes(s.strikes, strike)
	if !ok {
		return 0, fmt.Errorf("%w: strike %v outside [%v, %v]",
			ErrExtrapolation, strike, s.strikes[0], s.strikes[len(s.strikes)-1])
	}
	i0, i1, w, ok := bracketExpiries(s.expiries, expiry)
	if !ok {
		return 0, fmt.Errorf("%w: expiry %s outside [%s, %s]",
			ErrExtrapolation, expiry.Format("2006-01-02"),
			s.expiries[0].Format("2006-01-02"),
			s.expiries[len(s.expiries)-1].Format("2006-01-02"))
	}

	v00 := s.vols[i0][j0]
	v01 := s.vols[i0][j1]
	v10 := s.vols[i1][j0]
	v11 := s.vols[i1][j1]
	if math.IsNaN(v00) || math.IsNaN(v01) || math.IsNaN(v10) || math.IsNaN(v11) {
		return 0, fmt.Errorf("%w: surrounding grid points did not solve", ErrExtrapolation)
	}

	// Bilinear blend; collapses to linear or exact lookup when a query
	// coordinate sits on an axis value (u or w is 0 with i0==i1 / j0==j1).
	v := (1-w)*(1-u)*v00 + (1-w)*u*v01 + w*(1-u)*v10 + w*u*v11
	return v, nil
}

// SmileByExpiry returns the volatility smile for one expiration: parallel
// slices of strikes and vols, skipping unsolved points.
func (s *Surface) SmileByExpiry(expiry time.Time) (strikes, vols []float64, err error) {
	i := s.expiryIndex(expiry.UTC())
	if i < 0 {
		return nil, nil, fmt.Errorf("surface %s: expiration %s not on grid",
			s.symbol, expiry.Format("2006-01-02"))
	}
	for j, v := range s.vols[i] {
		if math.IsNaN(v) {
			continue
		}
		strikes = append(strikes, s.strikes[j])
		vols = append(vols, v)
	}
	return strikes, vols, nil
}

// TermStructureByStrike returns the term structure for one strike: parallel
// slices of years-to-expiry (from the surface's as-of time) and vols,
// skipping unsolved points.
func (s *Surface) TermStructureByStrike(strike float64) (years, vols []float64, err error) {
	j := s.strikeIndex(strike)
	if j < 0 {
		return nil, nil, fmt.Errorf("surface %s: strike %v not on grid", s.symbol, strike)
	}
	for i, row := range s.vols {
		if math.IsNaN(row[j]) {
			continue
		}
		years = append(years, s.expiries[i].Sub(s.asOf).Seconds()/(365*24*60*60))
		vols = append(vols, row[j])
	}
	return years, vols, nil
}

// Update flattens the surface into the wire DTO pushed to read-only
// consumers. Only solved points are included.
func (s *Surface) Update() models.SurfaceUpdate {
	u := models.SurfaceUpdate{
		Symbol: s.symbol,
		AsOf:   s.asOf,
	}
	for i, row := range s.vols {
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			u.Strikes = append(u.Strikes, s.strikes[j])
			u.Expiries = append(u.Expiries, s.expiries[i])
			u.Vols = append(u.Vols, v)
		}
	}
	return u
}

func (s *Surface) strikeIndex(strike float64) int {
	for j, k := range s.strikes {
		if k == strike {
			return j
		}
	}
	return -1
}

func (s *Surface) expiryIndex(expiry time.Time) int {
	for i, e := range s.expiries {
		if e.Equal(expiry) {
			return i
		}
	}
	return -1
}

// bracketStrikes locates strike on the axis: an exact hit collapses both
// indices, otherwise the two adjacent grid strikes bracket it with weight
// u ∈ (0, 1) toward the upper one. ok is false outside the axis range.
func bracketStrikes(axis []float64, strike float64) (lo, hi int, u float64, ok bool) {
	n := len(axis)
	if strike < axis[0] || strike > axis[n-1] {
		return 0, 0, 0, false
	}
	hi = sort.SearchFloat64s(axis, strike)
	if hi < n && axis[hi] == strike {
		return hi, hi, 0, true
	}
	lo = hi - 1
	u = (strike - axis[lo]) / (axis[hi] - axis[lo])
	return lo, hi, u, true
}

// bracketExpiries mirrors bracketStrikes on the time axis, weighting by
// elapsed seconds between the bracketing expirations.
func bracketExpiries(axis []time.Time, expiry time.Time) (lo, hi int, w float64, ok bool) {
	n := len(axis)
	if expiry.Before(axis[0]) || expiry.After(axis[n-1]) {
		return 0, 0, 0, false
	}
	hi = sort.Search(n, func(i int) bool { return !axis[i].Before(expiry) })
	if hi < n && axis[hi].Equal(expiry) {
		return hi, hi, 0, true
	}
	lo = hi - 1
	w = expiry.Sub(axis[lo]).Seconds() / axis[hi].Sub(axis[lo]).Seconds()
	return lo, hi, w, true
}
