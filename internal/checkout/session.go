package checkout

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/apotek-pos/internal/cart"
	"github.com/noah-isme/apotek-pos/internal/payment"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// Session is one cashier's in-progress sale: the cart, the discount, the
// customer and the payment allocation. It is safe for concurrent use; while a
// commit is in flight every mutation fails with ErrCommitInProgress.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	cart       *cart.Cart
	alloc      *payment.Allocator
	customer   Customer
	committing bool
	touched    time.Time
	clock      func() time.Time
}

// NewSession returns an empty session paying in cash.
func NewSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		cart:      cart.New(),
		alloc:     payment.NewAllocator(pricing.Zero()),
		touched:   now,
	}
}

// AddItem merges a batch into the cart and re-syncs the payment legs.
func (s *Session) AddItem(in cart.NewLine) (cart.Line, error) {
	var line cart.Line
	err := s.mutate(func() error {
		var err error
		line, err = s.cart.AddOrMerge(in)
		return err
	}, true)
	return line, err
}

// UpdateQuantity changes the quantity of a line.
func (s *Session) UpdateQuantity(lineID string, qty int) (cart.Line, error) {
	var line cart.Line
	err := s.mutate(func() error {
		var err error
		line, err = s.cart.UpdateQuantity(lineID, qty)
		return err
	}, true)
	return line, err
}

// RemoveItem drops a line from the cart.
func (s *Session) RemoveItem(lineID string) error {
	return s.mutate(func() error { return s.cart.Remove(lineID) }, true)
}

// SetDiscount sets the order discount percentage.
func (s *Session) SetDiscount(percent decimal.Decimal) error {
	return s.mutate(func() error { return s.cart.SetDiscount(percent) }, true)
}

// SetCustomer validates and stores the customer details.
func (s *Session) SetCustomer(c Customer) error {
	c = c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}
	return s.mutate(func() error {
		s.customer = c
		return nil
	}, false)
}

// SelectPaymentMethod switches the payment method, resetting the legs.
func (s *Session) SelectPaymentMethod(m payment.Method) error {
	return s.mutate(func() error { return s.alloc.SelectMethod(m) }, false)
}

// SetCashAmount edits the cash leg of a split payment.
func (s *Session) SetCashAmount(v pricing.Money) error {
	return s.mutate(func() error { return s.alloc.SetCashAmount(v) }, false)
}

// SetUPIAmount edits the UPI leg of a split payment.
func (s *Session) SetUPIAmount(v pricing.Money) error {
	return s.mutate(func() error { return s.alloc.SetUPIAmount(v) }, false)
}

// SetUPIID records the payer's UPI id. Grammar is checked at commit.
func (s *Session) SetUPIID(id string) error {
	return s.mutate(func() error {
		s.alloc.SetUPIID(id)
		return nil
	}, false)
}

// SetReceivedCash records the cash handed over by the customer.
func (s *Session) SetReceivedCash(v pricing.Money) error {
	return s.mutate(func() error { return s.alloc.SetReceivedCash(v) }, false)
}

// Summary recomputes the order totals from the current lines.
func (s *Session) Summary() pricing.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Summary()
}

// Payment returns the current payment allocation.
func (s *Session) Payment() payment.Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc.Allocation()
}

// Lines returns a copy of the cart lines.
func (s *Session) Lines() []cart.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Lines()
}

// Customer returns the stored customer details.
func (s *Session) Customer() Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customer
}

// Committing reports whether a commit is in flight.
func (s *Session) Committing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committing
}

func (s *Session) clockNow() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

func (s *Session) lastTouched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

func (s *Session) mutate(fn func() error, resync bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committing {
		return ErrCommitInProgress
	}
	if err := fn(); err != nil {
		return err
	}
	if resync {
		s.alloc.Reset(s.cart.Summary().FinalAmount)
	}
	s.touched = s.clockNow()
	return nil
}

// snapshot is the immutable view of a session taken when a commit starts.
type snapshot struct {
	lines      []cart.Line
	summary    pricing.Summary
	allocation payment.Allocation
	customer   Customer
}

// beginCommit validates the session locally and marks it as committing.
func (s *Session) beginCommit() (snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committing {
		return snapshot{}, ErrCommitInProgress
	}
	if s.cart.Len() == 0 {
		return snapshot{}, ErrEmptyCart
	}
	if s.customer.IsZero() {
		return snapshot{}, ErrCustomerRequired
	}
	if err := s.customer.Validate(); err != nil {
		return snapshot{}, err
	}
	if err := s.alloc.Validate(); err != nil {
		return snapshot{}, err
	}
	s.committing = true
	return snapshot{
		lines:      s.cart.Lines(),
		summary:    s.cart.Summary(),
		allocation: s.alloc.Allocation(),
		customer:   s.customer,
	}, nil
}

// finishCommit clears the flag. A successful commit also empties the sale so
// the cashier starts fresh; a failed one leaves everything in place.
func (s *Session) finishCommit(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committing = false
	s.touched = s.clockNow()
	if !ok {
		return
	}
	s.cart.Clear()
	s.customer = Customer{}
	s.alloc.Reset(pricing.Zero())
}
