// Package money implements a fixed-point currency amount (integer minor
// units, i.e. cents), so totals never accumulate floating-point error.
// The wire form is a decimal string ("20.00"), exact to cent precision.
package money

import (
	"fmt"
	"strconv"
)

// Money is an amount in minor units (cents for USD-like currencies).
// The zero value is zero.
type Money int64

// FromCents constructs a Money from an integer number of minor units.
func FromCents(cents int64) Money { return Money(cents) }

// FromFloat constructs a Money from a decimal amount, rounding to the
// nearest cent. Used only at the system boundary (decoding request JSON
// that carries a float unit price) — all internal arithmetic stays
// integer.
func FromFloat(f float64) Money {
	if f < 0 {
		return Money(int64(f*100 - 0.5))
	}
	return Money(int64(f*100 + 0.5))
}

// Mul multiplies a unit price by an integer quantity, exact since both
// operands are integers.
func (m Money) Mul(qty int) Money { return Money(int64(m) * int64(qty)) }

// Add sums two amounts.
func (m Money) Add(other Money) Money { return m + other }

// Cents returns the raw minor-unit integer.
func (m Money) Cents() int64 { return int64(m) }

// Float64 returns the decimal value, for display or wire encoding where a
// float is the expected shape; never used for further arithmetic.
func (m Money) Float64() float64 { return float64(m) / 100 }

// String renders the amount as a fixed two-decimal-place string, e.g. "20.00".
func (m Money) String() string {
	neg := m < 0
	v := int64(m)
	if neg {
		v = -v
	}
	whole, frac := v/100, v%100
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%d.%02d", sign, whole, frac)
}

// MarshalJSON encodes Money as a decimal-string JSON value so clients
// never see floating-point rounding artifacts in a monetary field.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// UnmarshalJSON accepts either a decimal-string ("20.00") or a bare JSON
// number (20.0), the latter for compatibility with plain API clients that
// send raw floats for unit_price/amount fields.
func (m *Money) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		return m.parseDecimal(s)
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("decode money: %w", err)
	}
	*m = FromFloat(f)
	return nil
}

func (m *Money) parseDecimal(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("decode money %q: %w", s, err)
	}
	*m = FromFloat(f)
	return nil
}
