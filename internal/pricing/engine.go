package pricing

import "github.com/shopspring/decimal"

// Item describes a line item used for pricing calculation.
type Item struct {
	Quantity  int
	UnitPrice Money
	GSTRate   decimal.Decimal
}

// Summary aggregates computed pricing components for an order.
type Summary struct {
	Subtotal           Money
	GSTAmount          Money
	TotalAmount        Money
	DiscountPercentage decimal.Decimal
	DiscountAmount     Money
	FinalAmount        Money
}

// Compute derives the order breakdown from the provided items and discount.
// The reduction is commutative so item order never changes the result.
func Compute(items []Item, discountPercent decimal.Decimal) (Summary, error) {
	exclusiveSum := Zero()
	total := Zero()
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		exclusive, _, err := DecomposeInclusivePrice(it.UnitPrice, it.GSTRate)
		if err != nil {
			return Summary{}, err
		}
		qty := decimal.NewFromInt(int64(it.Quantity))
		exclusiveSum = exclusiveSum.Add(exclusive.Mul(qty))
		total = total.Add(it.UnitPrice.Mul(qty))
	}
	discount, err := ApplyPercentDiscount(total, discountPercent)
	if err != nil {
		return Summary{}, err
	}
	subtotal := RoundPaisa(exclusiveSum)
	discount = RoundPaisa(discount)
	return Summary{
		Subtotal:           subtotal,
		GSTAmount:          total.Sub(subtotal),
		TotalAmount:        total,
		DiscountPercentage: discountPercent,
		DiscountAmount:     discount,
		FinalAmount:        total.Sub(discount),
	}, nil
}
