// Package fees computes maker/taker fees on trade notionals.
//
// Rates are fractions of notional supplied by the trading-pair
// configuration (an external collaborator); this package only does the
// arithmetic. decimal keeps notional × rate exact in cents with a single
// rounding point, instead of accumulating float64 error across fills.
package fees

import "github.com/shopspring/decimal"

// Role distinguishes the passive (maker) from the aggressive (taker)
// side of a trade for fee purposes.
type Role string

const (
	RoleMaker Role = "maker"
	RoleTaker Role = "taker"
)

// Calculator computes fees in integer cents.
type Calculator struct{}

// NewCalculator creates a Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Fee returns notionalCents × rate, rounded half-up to a whole cent.
// A zero or negative notional yields a zero fee.
func (c *Calculator) Fee(notionalCents int64, rate decimal.Decimal) int64 {
	if notionalCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(notionalCents).Mul(rate).Round(0).IntPart()
}
