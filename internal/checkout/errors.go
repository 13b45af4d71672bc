package checkout

import (
	"errors"
	"fmt"
)

// Step names one remote call of the commit protocol.
type Step string

const (
	StepCreateOrder    Step = "createOrder"
	StepAttachItems    Step = "attachItems"
	StepAttachPayments Step = "attachPayments"
)

var (
	// ErrEmptyCart is returned when committing a session without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCommitInProgress is returned when a session is already committing.
	ErrCommitInProgress = errors.New("a commit for this session is already in progress")
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrCustomerRequired is returned when committing without customer details.
	ErrCustomerRequired = errors.New("customer details are required")
)

// NetworkError is an opaque backend or transport failure at one step. The
// message is the backend's, verbatim.
type NetworkError struct {
	Step Step
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed", e.Step)
	}
	return e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// CommitStepFailure reports a commit that allocated an order but failed a
// later step. The order exists server side and must be reconciled.
type CommitStepFailure struct {
	OrderID string
	Step    Step
	Err     error
}

func (e *CommitStepFailure) Error() string {
	return fmt.Sprintf("order #%s created but %s failed: %v", e.OrderID, e.Step, e.Err)
}

func (e *CommitStepFailure) Unwrap() error { return e.Err }
