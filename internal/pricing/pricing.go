// Package pricing implements the price pipeline: currency conversion,
// margin, psychological-ending rounding and the per-run delta cap.
//
// Every 2-decimal rounding in this package rounds half away from zero
// (decimal.Round), so e.g. 3.11627 -> 3.12 and 12.995 -> 13.00.
package pricing

import "github.com/shopspring/decimal"

// Params are the knobs of one pricing pass. Rate is the source-currency
// price of one unit of the target currency (PLN per EUR).
type Params struct {
	Rate     float64
	Margin   float64
	Ending   float64
	MaxDelta float64
}

var one = decimal.NewFromInt(1)

// Compute runs the full pipeline for a single row. The rate must be
// positive; the caller validates it before pricing anything. previous is
// the last price recorded for the key; zero (or negative) means
// first-time pricing and disables the delta cap. The result is finite
// with at most two decimal digits.
func Compute(netPLN, previous float64, p Params) float64 {
	price := decimal.NewFromFloat(netPLN).
		Div(decimal.NewFromFloat(p.Rate)).
		Mul(one.Add(decimal.NewFromFloat(p.Margin))).
		Round(2)
	price = applyEnding(price, decimal.NewFromFloat(p.Ending)).Round(2)
	price = capDelta(decimal.NewFromFloat(previous), price, decimal.NewFromFloat(p.MaxDelta))
	f, _ := price.Float64()
	return f
}

// ApplyEnding rounds v up to the next price carrying the given fractional
// ending, e.g. 5.23 -> 5.99 and 12.00 -> 12.99 for ending 0.99. Prices
// already carrying the ending pass through unchanged.
func ApplyEnding(v, ending float64) float64 {
	f, _ := applyEnding(decimal.NewFromFloat(v), decimal.NewFromFloat(ending)).Round(2).Float64()
	return f
}

func applyEnding(v, ending decimal.Decimal) decimal.Decimal {
	withEnd := v.Floor().Add(ending)
	if withEnd.LessThan(v) {
		withEnd = v.Floor().Add(one).Add(ending)
	}
	return withEnd
}

// CapDelta limits the relative change from previous to next to maxDelta.
// A previous of zero or less means no history and no cap.
func CapDelta(previous, next, maxDelta float64) float64 {
	f, _ := capDelta(decimal.NewFromFloat(previous), decimal.NewFromFloat(next), decimal.NewFromFloat(maxDelta)).Float64()
	return f
}

func capDelta(previous, next, maxDelta decimal.Decimal) decimal.Decimal {
	if previous.LessThanOrEqual(decimal.Zero) {
		return next
	}
	delta := next.Sub(previous).Abs().Div(previous)
	if delta.LessThanOrEqual(maxDelta) {
		return next
	}
	if next.GreaterThan(previous) {
		return previous.Mul(one.Add(maxDelta)).Round(2)
	}
	return previous.Mul(one.Sub(maxDelta)).Round(2)
}
