// utils/math.go
package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

const Epsilon = 1e-9

// FloatEquals compares two floating-point numbers for near-equality.
// Used for ratio-valued inputs (volatility, thresholds) that stay float64.
func FloatEquals(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// Ratio divides a by b, returning zero when b is zero rather than panicking.
// Exposure and drawdown ratios use this so an empty account reads as zero risk.
func Ratio(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}
