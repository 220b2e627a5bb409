package types

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrAmountPrecision is returned by ParseAmount when the input carries more
// fractional digits than the asset scale allows.
var ErrAmountPrecision = errors.New("types: amount exceeds asset scale")

// Amount is an unsigned quantity in an asset's minor unit together with the
// asset scale used to render it. Arithmetic on ledger values is integer-only;
// Amount exists for parsing and display.
//
// Examples:
//   - NewAmount(4900, 2) renders as "49.00"
//   - NewAmount(100, 0) renders as "100"
type Amount struct {
	Value uint64 `json:"value"`
	Scale uint8  `json:"scale"`
}

// NewAmount creates an Amount of v minor units at the given scale.
func NewAmount(v uint64, scale uint8) Amount { return Amount{Value: v, Scale: scale} }

// ParseAmount parses a major-unit decimal string ("12.34") into minor units.
// Negative values, values with more fractional digits than scale, and values
// that do not fit in uint64 are rejected.
func ParseAmount(s string, scale uint8) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("types: parse amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return Amount{}, fmt.Errorf("types: parse amount %q: negative", s)
	}

	minor := d.Shift(int32(scale))
	if !minor.IsInteger() {
		return Amount{}, fmt.Errorf("types: parse amount %q: %w", s, ErrAmountPrecision)
	}

	bi := minor.BigInt()
	if !bi.IsUint64() {
		return Amount{}, fmt.Errorf("types: parse amount %q: out of range", s)
	}

	return Amount{Value: bi.Uint64(), Scale: scale}, nil
}

// Decimal returns the major-unit value as a decimal.
func (a Amount) Decimal() decimal.Decimal {
	if a.Value > math.MaxInt64 {
		return decimal.NewFromUint64(a.Value).Shift(-int32(a.Scale))
	}
	return decimal.New(int64(a.Value), -int32(a.Scale))
}

// String renders the amount in major units with exactly Scale fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(int32(a.Scale))
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.Value == 0 }

// FormatSigned renders a signed minor-unit balance in major units. Posted
// balances of settlement accounts are negative.
func FormatSigned(v int64, scale uint8) string {
	return decimal.New(v, -int32(scale)).StringFixed(int32(scale))
}
