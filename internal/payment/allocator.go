package payment

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// Method identifies how an order is settled.
type Method string

const (
	MethodCash  Method = "cash"
	MethodUPI   Method = "upi"
	MethodSplit Method = "split"
)

// ParseMethod normalises a user supplied method name.
func ParseMethod(raw string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(raw))); m {
	case MethodCash, MethodUPI, MethodSplit:
		return m, nil
	default:
		return "", pricing.Invalid("paymentMethod", "unknown payment method %q", raw)
	}
}

// LegType is the payment_type recorded by the backend for one leg.
type LegType string

const (
	LegCash LegType = "cash"
	LegUPI  LegType = "upi"
)

// Leg is one payment record sent to the backend.
type Leg struct {
	Type   LegType
	Amount pricing.Money
}

// Allocation is a point-in-time snapshot of the allocator state.
type Allocation struct {
	Method       Method
	FinalAmount  pricing.Money
	CashAmount   pricing.Money
	UPIAmount    pricing.Money
	UPIID        string
	ReceivedCash pricing.Money
	ChangeAmount pricing.Money
}

// Legs derives the backend payment records. A split with both legs positive
// always yields two records.
func (a Allocation) Legs() []Leg {
	switch a.Method {
	case MethodUPI:
		return []Leg{{Type: LegUPI, Amount: a.UPIAmount}}
	case MethodSplit:
		legs := make([]Leg, 0, 2)
		if a.CashAmount.IsPositive() {
			legs = append(legs, Leg{Type: LegCash, Amount: a.CashAmount})
		}
		if a.UPIAmount.IsPositive() {
			legs = append(legs, Leg{Type: LegUPI, Amount: a.UPIAmount})
		}
		if len(legs) == 0 {
			legs = append(legs, Leg{Type: LegCash, Amount: pricing.Zero()})
		}
		return legs
	default:
		return []Leg{{Type: LegCash, Amount: a.CashAmount}}
	}
}

// Allocator keeps cash and UPI legs consistent with the order's final amount.
// The zero value is not usable; call NewAllocator.
type Allocator struct {
	final    pricing.Money
	method   Method
	cash     pricing.Money
	upi      pricing.Money
	upiID    string
	received pricing.Money
	// received follows the cash leg until the cashier types an amount
	receivedIsDefault bool
}

// NewAllocator returns an allocator in cash mode for finalAmount.
func NewAllocator(finalAmount pricing.Money) *Allocator {
	a := &Allocator{method: MethodCash}
	a.Reset(finalAmount)
	return a
}

// Method returns the selected payment method.
func (a *Allocator) Method() Method {
	return a.method
}

// SelectMethod switches method and resets both legs and the received cash to
// the new method's defaults. The UPI id is cleared as well.
func (a *Allocator) SelectMethod(m Method) error {
	switch m {
	case MethodCash, MethodUPI, MethodSplit:
	default:
		return pricing.Invalid("paymentMethod", "unknown payment method %q", string(m))
	}
	a.method = m
	a.upiID = ""
	a.applyDefaults()
	return nil
}

// Reset adopts a new final amount, keeping the method and UPI id.
func (a *Allocator) Reset(finalAmount pricing.Money) {
	a.final = pricing.Max(finalAmount, pricing.Zero())
	a.applyDefaults()
}

func (a *Allocator) applyDefaults() {
	switch a.method {
	case MethodUPI:
		a.cash = pricing.Zero()
		a.upi = a.final
	case MethodSplit:
		a.cash = pricing.FloorPaisa(a.final.Div(decimal.NewFromInt(2)))
		a.upi = a.final.Sub(a.cash)
	default:
		a.cash = a.final
		a.upi = pricing.Zero()
	}
	a.received = a.cash
	a.receivedIsDefault = true
}

// SetCashAmount edits the cash leg of a split; the UPI leg absorbs the rest.
func (a *Allocator) SetCashAmount(v pricing.Money) error {
	if a.method != MethodSplit {
		return ErrLegsFixed
	}
	a.cash = pricing.Clamp(v, pricing.Zero(), a.final)
	a.upi = a.final.Sub(a.cash)
	a.syncReceived()
	return nil
}

// SetUPIAmount edits the UPI leg of a split; the cash leg absorbs the rest.
func (a *Allocator) SetUPIAmount(v pricing.Money) error {
	if a.method != MethodSplit {
		return ErrLegsFixed
	}
	a.upi = pricing.Clamp(v, pricing.Zero(), a.final)
	a.cash = a.final.Sub(a.upi)
	a.syncReceived()
	return nil
}

func (a *Allocator) syncReceived() {
	if a.receivedIsDefault {
		a.received = a.cash
	}
}

// SetUPIID records the customer's UPI identifier. Grammar is checked at commit.
func (a *Allocator) SetUPIID(id string) {
	a.upiID = strings.TrimSpace(id)
}

// SetReceivedCash records the cash tendered by the customer.
func (a *Allocator) SetReceivedCash(v pricing.Money) error {
	if v.IsNegative() {
		return pricing.Invalid("receivedCash", "must not be negative, got %s", v)
	}
	a.received = v
	a.receivedIsDefault = false
	return nil
}

// Change returns max(0, received - cash owed). It never affects the legs.
func (a *Allocator) Change() pricing.Money {
	return pricing.Max(a.received.Sub(a.cash), pricing.Zero())
}

// Allocation returns a snapshot of the current state.
func (a *Allocator) Allocation() Allocation {
	return Allocation{
		Method:       a.method,
		FinalAmount:  a.final,
		CashAmount:   a.cash,
		UPIAmount:    a.upi,
		UPIID:        a.upiID,
		ReceivedCash: a.received,
		ChangeAmount: a.Change(),
	}
}

// Validate runs the commit-time checks.
func (a *Allocator) Validate() error {
	if !pricing.NearlyEqual(a.cash.Add(a.upi), a.final) {
		return pricing.Invalid("payment", "legs %s + %s do not add up to %s", a.cash, a.upi, a.final)
	}
	if a.method == MethodUPI || a.upi.IsPositive() {
		if err := ValidateUPIID(a.upiID); err != nil {
			return err
		}
	}
	if a.method != MethodUPI && a.received.LessThan(a.cash) {
		return &InsufficientPaymentError{Owed: a.cash, Received: a.received}
	}
	return nil
}
