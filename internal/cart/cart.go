package cart

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// ErrNotFound indicates the requested cart line could not be located.
var ErrNotFound = errors.New("cart line not found")

// StockExceededError is returned when a mutation would push a line past the
// stock snapshot taken from the catalog.
type StockExceededError struct {
	ProductID string
	BatchID   int64
	Requested int
	Available int
}

func (e *StockExceededError) Error() string {
	return fmt.Sprintf("only %d units available in stock for product %s batch %d (requested %d, exceeds by %d)",
		e.Available, e.ProductID, e.BatchID, e.Requested, e.Exceeding())
}

// Exceeding returns how many units over the available stock the request was.
func (e *StockExceededError) Exceeding() int {
	return e.Requested - e.Available
}

// NewLine describes a catalog batch being added to the cart.
type NewLine struct {
	ProductID      string
	BatchID        int64
	BatchNumber    string
	MedicineName   string
	BrandName      string
	Quantity       int
	UnitPrice      pricing.Money
	GSTRate        decimal.Decimal
	AvailableStock int
	ExpiryDate     time.Time
}

// Line is one priced cart entry. UnitPrice is GST inclusive.
type Line struct {
	ID             string
	ProductID      string
	BatchID        int64
	BatchNumber    string
	MedicineName   string
	BrandName      string
	Quantity       int
	UnitPrice      pricing.Money
	GSTRate        decimal.Decimal
	AvailableStock int
	ExpiryDate     time.Time
}

// Amount returns the GST-inclusive line total.
func (l Line) Amount() pricing.Money {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ExpiringSoon reports whether the batch expires within the next days days.
// Already expired batches are not "expiring soon".
func (l Line) ExpiringSoon(now time.Time, days int) bool {
	if l.ExpiryDate.IsZero() {
		return false
	}
	remaining := l.ExpiryDate.Sub(now)
	if remaining <= 0 {
		return false
	}
	return remaining <= time.Duration(days)*24*time.Hour
}

type lineKey struct {
	productID string
	batchID   int64
}

// Cart holds the in-progress order. The zero value is not usable; call New.
type Cart struct {
	lines    []*Line
	byKey    map[lineKey]*Line
	discount decimal.Decimal
	newID    func() string
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{
		byKey:    make(map[lineKey]*Line),
		discount: decimal.Zero,
		newID:    uuid.NewString,
	}
}

// AddOrMerge inserts a line or, when the (product, batch) pair is already in
// the cart, adds to its quantity. On error the cart is left unchanged.
func (c *Cart) AddOrMerge(in NewLine) (Line, error) {
	if err := validateNewLine(in); err != nil {
		return Line{}, err
	}
	key := lineKey{productID: strings.TrimSpace(in.ProductID), batchID: in.BatchID}
	if existing, ok := c.byKey[key]; ok {
		qty := existing.Quantity + in.Quantity
		if qty > in.AvailableStock {
			return Line{}, &StockExceededError{ProductID: key.productID, BatchID: key.batchID, Requested: qty, Available: in.AvailableStock}
		}
		existing.Quantity = qty
		existing.AvailableStock = in.AvailableStock
		return *existing, nil
	}
	if in.Quantity > in.AvailableStock {
		return Line{}, &StockExceededError{ProductID: key.productID, BatchID: key.batchID, Requested: in.Quantity, Available: in.AvailableStock}
	}
	line := &Line{
		ID:             c.newID(),
		ProductID:      key.productID,
		BatchID:        in.BatchID,
		BatchNumber:    strings.TrimSpace(in.BatchNumber),
		MedicineName:   strings.TrimSpace(in.MedicineName),
		BrandName:      strings.TrimSpace(in.BrandName),
		Quantity:       in.Quantity,
		UnitPrice:      in.UnitPrice,
		GSTRate:        in.GSTRate,
		AvailableStock: in.AvailableStock,
		ExpiryDate:     in.ExpiryDate,
	}
	c.lines = append(c.lines, line)
	c.byKey[key] = line
	return *line, nil
}

// UpdateQuantity replaces the quantity of an existing line.
func (c *Cart) UpdateQuantity(lineID string, qty int) (Line, error) {
	line := c.find(lineID)
	if line == nil {
		return Line{}, ErrNotFound
	}
	if qty <= 0 {
		return Line{}, pricing.Invalid("quantity", "must be positive, got %d", qty)
	}
	if qty > line.AvailableStock {
		return Line{}, &StockExceededError{ProductID: line.ProductID, BatchID: line.BatchID, Requested: qty, Available: line.AvailableStock}
	}
	line.Quantity = qty
	return *line, nil
}

// Remove deletes a line from the cart.
func (c *Cart) Remove(lineID string) error {
	for i, line := range c.lines {
		if line.ID != lineID {
			continue
		}
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		delete(c.byKey, lineKey{productID: line.ProductID, batchID: line.BatchID})
		return nil
	}
	return ErrNotFound
}

// SetDiscount sets the order-level discount percentage.
func (c *Cart) SetDiscount(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return pricing.Invalid("discountPercentage", "must be between 0 and 100, got %s", percent)
	}
	c.discount = percent
	return nil
}

// Discount returns the current discount percentage.
func (c *Cart) Discount() decimal.Decimal {
	return c.discount
}

// Summary recomputes the order totals from the current lines and discount.
func (c *Cart) Summary() pricing.Summary {
	items := make([]pricing.Item, 0, len(c.lines))
	for _, line := range c.lines {
		items = append(items, pricing.Item{Quantity: line.Quantity, UnitPrice: line.UnitPrice, GSTRate: line.GSTRate})
	}
	// inputs are validated on entry, so Compute cannot fail here
	summary, _ := pricing.Compute(items, c.discount)
	return summary
}

// Lines returns a copy of the cart lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, 0, len(c.lines))
	for _, line := range c.lines {
		out = append(out, *line)
	}
	return out
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// Clear empties the cart and resets the discount.
func (c *Cart) Clear() {
	c.lines = nil
	c.byKey = make(map[lineKey]*Line)
	c.discount = decimal.Zero
}

func (c *Cart) find(lineID string) *Line {
	for _, line := range c.lines {
		if line.ID == lineID {
			return line
		}
	}
	return nil
}

func validateNewLine(in NewLine) error {
	if strings.TrimSpace(in.ProductID) == "" {
		return pricing.Invalid("productId", "is required")
	}
	if in.Quantity <= 0 {
		return pricing.Invalid("quantity", "must be positive, got %d", in.Quantity)
	}
	if in.AvailableStock < 0 {
		return pricing.Invalid("availableStock", "must not be negative, got %d", in.AvailableStock)
	}
	if _, _, err := pricing.DecomposeInclusivePrice(in.UnitPrice, in.GSTRate); err != nil {
		return err
	}
	return nil
}
