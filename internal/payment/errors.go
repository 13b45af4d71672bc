package payment

import (
	"errors"
	"fmt"

	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// ErrLegsFixed is returned when a leg is edited outside of split mode.
var ErrLegsFixed = errors.New("payment legs can only be edited in split mode")

// InvalidUPIIDError reports a UPI identifier that fails the handle@provider grammar.
type InvalidUPIIDError struct {
	ID     string
	Reason string
}

func (e *InvalidUPIIDError) Error() string {
	if e.ID == "" {
		return "upi id is required"
	}
	return fmt.Sprintf("invalid upi id %q: %s", e.ID, e.Reason)
}

// InsufficientPaymentError reports tendered cash below the amount owed in cash.
type InsufficientPaymentError struct {
	Owed     pricing.Money
	Received pricing.Money
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient cash: received %s, owed %s", pricing.Format(e.Received), pricing.Format(e.Owed))
}

// Shortfall returns how much more cash is needed.
func (e *InsufficientPaymentError) Shortfall() pricing.Money {
	return e.Owed.Sub(e.Received)
}
