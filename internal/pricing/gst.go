package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports malformed input to a pricing or cart operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid constructs a ValidationError for field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DecomposeInclusivePrice splits a GST-inclusive unit price into its exclusive
// portion and the GST contained in it. exclusive + gst equals inclusive exactly.
func DecomposeInclusivePrice(inclusive Money, ratePercent decimal.Decimal) (exclusive Money, gst Money, err error) {
	if inclusive.IsNegative() {
		return Zero(), Zero(), Invalid("unitPrice", "must not be negative, got %s", inclusive)
	}
	if err := checkPercent("gstRate", ratePercent); err != nil {
		return Zero(), Zero(), err
	}
	if ratePercent.IsZero() {
		return inclusive, Zero(), nil
	}
	divisor := decimal.NewFromInt(1).Add(ratePercent.Div(hundred))
	exclusive = inclusive.Div(divisor)
	return exclusive, inclusive.Sub(exclusive), nil
}

// ApplyPercentDiscount returns total * percent / 100. Out-of-range percentages
// are rejected rather than clamped; use ClampPercent on user input first.
func ApplyPercentDiscount(total Money, percent decimal.Decimal) (Money, error) {
	if total.IsNegative() {
		return Zero(), Invalid("totalAmount", "must not be negative, got %s", total)
	}
	if err := checkPercent("discountPercentage", percent); err != nil {
		return Zero(), err
	}
	return total.Mul(percent).Div(hundred), nil
}

// ClampPercent limits a user supplied percentage to [0,100].
func ClampPercent(p decimal.Decimal) decimal.Decimal {
	return Clamp(p, decimal.Zero, hundred)
}

func checkPercent(field string, p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return Invalid(field, "must be between 0 and 100, got %s", p)
	}
	return nil
}
