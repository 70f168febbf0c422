package utils

import (
	"strings"
	"time"
)

// yearSeconds is the seconds in a 365-day year, the day-count convention
// used throughout the pricing pipeline.
const yearSeconds = 365 * 24 * 60 * 60

// AsOfBucket truncates t to the feed's minimum refresh interval. Quotes that
// fall in the same bucket are treated as simultaneous for surface
// consistency: a surface is only ever built from quotes of one bucket.
func AsOfBucket(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	return t.Truncate(interval)
}

// YearsBetween returns the year fraction from from to to, clamped at zero.
func YearsBetween(from, to time.Time) float64 {
	if !from.Before(to) {
		return 0
	}
	return to.Sub(from).Seconds() / yearSeconds
}

// NormalizeSymbol uppercases and trims an underlying symbol and strips any
// index caret prefix (e.g. "^spx" → "SPX").
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.TrimPrefix(s, "^")
}
