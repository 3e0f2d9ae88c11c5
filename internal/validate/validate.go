// Package validate holds the pure sanity checks that gate a sync run
// (exchange rate) and each feed row. A failed rate check aborts the whole
// run, a failed row check only skips that row.
package validate

import (
	"errors"
	"fmt"
	"math"

	"github.com/Piaskraft/mjw-sync/internal/models"
)

var (
	ErrRateNotNumber = errors.New("rate is not a finite number")
	ErrMissingKey    = errors.New("row has neither ean nor reference")
	ErrBadPrice      = errors.New("net price is not a positive finite number")
)

// RangeError reports a numeric value outside its configured bounds.
// Field is the reason-code prefix recorded in the error log.
type RangeError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %v out of range [%v, %v]", e.Field, e.Value, e.Min, e.Max)
}

// Bounds are the configured validation limits.
type Bounds struct {
	MinRate     float64
	MaxRate     float64
	MinNetPrice float64
	MaxNetPrice float64
	MinQty      float64
	MaxQty      float64
}

// DefaultBounds returns the stock limits used when nothing is configured.
func DefaultBounds() Bounds {
	return Bounds{
		MinRate:     0.1,
		MaxRate:     100,
		MinNetPrice: 0.01,
		MaxNetPrice: 1e9,
		MinQty:      0,
		MaxQty:      1e9,
	}
}

// CheckRate validates the exchange rate for a run. A bad rate would corrupt
// every price in the pass, so the caller must abort on error.
func (b Bounds) CheckRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ErrRateNotNumber
	}
	if rate < b.MinRate || rate > b.MaxRate {
		return &RangeError{Field: "rate", Value: rate, Min: b.MinRate, Max: b.MaxRate}
	}
	return nil
}

// CheckRow validates one feed row. Errors here are row-level: the caller
// skips the row and continues with the rest of the feed.
func (b Bounds) CheckRow(row models.FeedRow) error {
	if row.Key() == "" {
		return ErrMissingKey
	}
	if math.IsNaN(row.NetPLN) || math.IsInf(row.NetPLN, 0) || row.NetPLN <= 0 {
		return ErrBadPrice
	}
	if row.NetPLN < b.MinNetPrice || row.NetPLN > b.MaxNetPrice {
		return &RangeError{Field: "net_pln", Value: row.NetPLN, Min: b.MinNetPrice, Max: b.MaxNetPrice}
	}
	if math.IsNaN(row.Qty) || math.IsInf(row.Qty, 0) || row.Qty < b.MinQty || row.Qty > b.MaxQty {
		return &RangeError{Field: "qty", Value: row.Qty, Min: b.MinQty, Max: b.MaxQty}
	}
	return nil
}

// Reason maps a validation error to the reason code written to the error log.
func Reason(err error) string {
	var re *RangeError
	switch {
	case errors.Is(err, ErrRateNotNumber):
		return "rate_not_number"
	case errors.Is(err, ErrMissingKey):
		return "missing_key"
	case errors.Is(err, ErrBadPrice):
		return "bad_net_pln"
	case errors.As(err, &re):
		return re.Field + "_out_of_range"
	default:
		return "invalid"
	}
}
