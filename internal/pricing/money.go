package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in rupees with decimal precision.
type Money = decimal.Decimal

// Paisa is the smallest currency unit; values closer than this are treated as equal.
var Paisa = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// Zero returns a zero amount.
func Zero() Money { return decimal.Zero }

// NewMoney builds an amount from a float literal. Intended for tests and fixtures.
func NewMoney(v float64) Money {
	return decimal.NewFromFloat(v)
}

// ParseMoney parses a decimal string such as "118.00".
func ParseMoney(s string) (Money, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

// RoundPaisa rounds half away from zero to two decimal places.
func RoundPaisa(m Money) Money {
	return m.Round(2)
}

// FloorPaisa truncates towards negative infinity at two decimal places.
func FloorPaisa(m Money) Money {
	return m.RoundFloor(2)
}

// NearlyEqual reports whether a and b differ by less than one paisa.
func NearlyEqual(a, b Money) bool {
	return a.Sub(b).Abs().LessThan(Paisa)
}

// Clamp limits m to the closed range [lo, hi].
func Clamp(m, lo, hi Money) Money {
	if m.LessThan(lo) {
		return lo
	}
	if m.GreaterThan(hi) {
		return hi
	}
	return m
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Format renders an amount the way receipts display it, e.g. "₹212.40".
func Format(m Money) string {
	if m.IsNegative() {
		return "-₹" + m.Abs().StringFixed(2)
	}
	return "₹" + m.StringFixed(2)
}
