package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/backend"
	"github.com/noah-isme/apotek-pos/internal/cart"
	"github.com/noah-isme/apotek-pos/internal/payment"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

type fakeBackend struct {
	mu          sync.Mutex
	orderID     backend.OrderID
	createErr   error
	itemsErr    error
	paymentsErr error
	block       chan struct{}
	afterCreate func()

	orders   []backend.OrderRequest
	items    map[backend.OrderID][]backend.OrderItem
	payments map[backend.OrderID][]backend.PaymentLeg
}

func newFakeBackend(id backend.OrderID) *fakeBackend {
	return &fakeBackend{
		orderID:  id,
		items:    map[backend.OrderID][]backend.OrderItem{},
		payments: map[backend.OrderID][]backend.PaymentLeg{},
	}
}

func (f *fakeBackend) CreateOrder(ctx context.Context, req backend.OrderRequest) (backend.OrderID, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.orders = append(f.orders, req)
	if f.afterCreate != nil {
		f.afterCreate()
	}
	return f.orderID, nil
}

func (f *fakeBackend) AttachItems(ctx context.Context, id backend.OrderID, items []backend.OrderItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.itemsErr != nil {
		return f.itemsErr
	}
	f.items[id] = append(f.items[id], items...)
	return nil
}

func (f *fakeBackend) AttachPayments(ctx context.Context, id backend.OrderID, legs []backend.PaymentLeg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paymentsErr != nil {
		return f.paymentsErr
	}
	f.payments[id] = append(f.payments[id], legs...)
	return nil
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []PartialCommit
}

func (r *recordingReporter) ReportPartialCommit(ctx context.Context, pc PartialCommit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, pc)
	return nil
}

func paracetamol(qty int) cart.NewLine {
	return cart.NewLine{
		ProductID:      "12",
		BatchID:        7,
		BatchNumber:    "B7",
		MedicineName:   "Paracetamol",
		Quantity:       qty,
		UnitPrice:      decimal.RequireFromString("118"),
		GSTRate:        decimal.NewFromInt(18),
		AvailableStock: 10,
	}
}

func readySession(t *testing.T) *Session {
	t.Helper()
	sess := NewSession(time.Now())
	_, err := sess.AddItem(paracetamol(2))
	require.NoError(t, err)
	require.NoError(t, sess.SetDiscount(decimal.NewFromInt(10)))
	require.NoError(t, sess.SetCustomer(Customer{Name: "Asha", Phone: "9876543210"}))
	return sess
}

func money(s string) pricing.Money { return decimal.RequireFromString(s) }

func TestCommitSplitPaymentSendsBothLegs(t *testing.T) {
	be := newFakeBackend("500")
	var hooked []Receipt
	svc := &Service{
		Backend:     be,
		OnCommitted: []func(context.Context, Receipt){func(_ context.Context, r Receipt) { hooked = append(hooked, r) }},
	}
	sess := readySession(t)
	require.NoError(t, sess.SelectPaymentMethod(payment.MethodSplit))
	require.NoError(t, sess.SetUPIID("asha@okbank"))
	require.NoError(t, sess.SetReceivedCash(money("150")))

	receipt, err := svc.Commit(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, backend.OrderID("500"), receipt.OrderID)
	require.True(t, money("212.40").Equal(receipt.Summary.FinalAmount))
	require.True(t, money("43.80").Equal(receipt.Change))
	require.Len(t, hooked, 1)

	require.Len(t, be.orders, 1)
	require.True(t, money("212.40").Equal(be.orders[0].TotalAmount))
	require.True(t, decimal.NewFromInt(10).Equal(be.orders[0].DiscountPercentage))
	require.Len(t, be.items["500"], 1)
	require.Equal(t, 2, be.items["500"][0].Quantity)
	legs := be.payments["500"]
	require.Len(t, legs, 2)
	require.Equal(t, "cash", legs[0].PaymentType)
	require.True(t, money("106.20").Equal(legs[0].TransactionAmount))
	require.Equal(t, "upi", legs[1].PaymentType)
	require.True(t, money("106.20").Equal(legs[1].TransactionAmount))

	require.Empty(t, sess.Lines())
	require.True(t, sess.Customer().IsZero())
	require.True(t, sess.Summary().FinalAmount.IsZero())
	require.Equal(t, payment.MethodSplit, sess.Payment().Method)
}

func TestCommitCreateOrderFailureLeavesCart(t *testing.T) {
	be := newFakeBackend("1")
	be.createErr = &backend.Error{Operation: "create_order", Status: 500, Message: "Failed to create order"}
	reporter := &recordingReporter{}
	svc := &Service{Backend: be, Reporter: reporter}
	sess := readySession(t)
	require.NoError(t, sess.SetReceivedCash(money("300")))

	_, err := svc.Commit(context.Background(), sess)
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	require.Equal(t, StepCreateOrder, netErr.Step)
	require.Equal(t, "Failed to create order", err.Error())
	var partial *CommitStepFailure
	require.False(t, errors.As(err, &partial))
	require.Empty(t, reporter.reports)

	require.Len(t, sess.Lines(), 1)
	require.False(t, sess.Committing())
}

func TestCommitAttachItemsFailureIsPartial(t *testing.T) {
	be := newFakeBackend("500")
	be.itemsErr = errors.New("Insufficient stock for product 12, batch 7")
	reporter := &recordingReporter{}
	svc := &Service{Backend: be, Reporter: reporter}
	sess := readySession(t)
	require.NoError(t, sess.SetReceivedCash(money("212.40")))

	_, err := svc.Commit(context.Background(), sess)
	var partial *CommitStepFailure
	require.True(t, errors.As(err, &partial))
	require.Equal(t, "500", partial.OrderID)
	require.Equal(t, StepAttachItems, partial.Step)
	require.Contains(t, err.Error(), "order #500 created but attachItems failed")
	require.Contains(t, err.Error(), "Insufficient stock for product 12, batch 7")

	require.Empty(t, be.payments)
	require.Len(t, sess.Lines(), 1)
	require.Equal(t, "Asha", sess.Customer().Name)
	require.Len(t, reporter.reports, 1)
	require.Equal(t, "500", reporter.reports[0].OrderID)
	require.Equal(t, StepAttachItems, reporter.reports[0].Step)
	require.Equal(t, sess.ID, reporter.reports[0].SessionID)
}

func TestCommitSurvivesCallerCancelAfterOrderCreated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	be := newFakeBackend("500")
	be.afterCreate = cancel
	reporter := &recordingReporter{}
	svc := &Service{Backend: be, Reporter: reporter}
	sess := readySession(t)
	require.NoError(t, sess.SetReceivedCash(money("212.40")))

	receipt, err := svc.Commit(ctx, sess)
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	require.Equal(t, backend.OrderID("500"), receipt.OrderID)
	require.Len(t, be.items["500"], 1)
	require.Len(t, be.payments["500"], 1)
	require.Empty(t, reporter.reports)
	require.Empty(t, sess.Lines())
	require.False(t, sess.Committing())
}

func TestCommitCancelledBeforeCreateLeavesCart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	be := newFakeBackend("500")
	be.createErr = context.Canceled
	svc := &Service{Backend: be}
	sess := readySession(t)
	require.NoError(t, sess.SetReceivedCash(money("212.40")))

	_, err := svc.Commit(ctx, sess)
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	require.Equal(t, StepCreateOrder, netErr.Step)
	require.Empty(t, be.items)
	require.Len(t, sess.Lines(), 1)
}

func TestCommitAttachPaymentsFailureIsPartial(t *testing.T) {
	be := newFakeBackend("77")
	be.paymentsErr = errors.New("HTTP 503: Service Unavailable")
	svc := &Service{Backend: be}
	sess := readySession(t)
	require.NoError(t, sess.SelectPaymentMethod(payment.MethodUPI))
	require.NoError(t, sess.SetUPIID("asha@upi"))

	_, err := svc.Commit(context.Background(), sess)
	var partial *CommitStepFailure
	require.True(t, errors.As(err, &partial))
	require.Equal(t, StepAttachPayments, partial.Step)
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	require.Equal(t, "HTTP 503: Service Unavailable", netErr.Error())
	require.Len(t, be.items["77"], 1)
	require.Len(t, sess.Lines(), 1)
}

func TestCommitRejectsLocally(t *testing.T) {
	be := newFakeBackend("1")
	svc := &Service{Backend: be}

	_, err := svc.Commit(context.Background(), NewSession(time.Now()))
	require.ErrorIs(t, err, ErrEmptyCart)

	sess := NewSession(time.Now())
	_, err = sess.AddItem(paracetamol(1))
	require.NoError(t, err)
	_, err = svc.Commit(context.Background(), sess)
	require.ErrorIs(t, err, ErrCustomerRequired)

	require.NoError(t, sess.SetCustomer(Customer{Name: "Ravi", Phone: "9123456780"}))
	require.NoError(t, sess.SetReceivedCash(money("10")))
	_, err = svc.Commit(context.Background(), sess)
	var insufficient *payment.InsufficientPaymentError
	require.True(t, errors.As(err, &insufficient))

	require.NoError(t, sess.SelectPaymentMethod(payment.MethodUPI))
	_, err = svc.Commit(context.Background(), sess)
	var upiErr *payment.InvalidUPIIDError
	require.True(t, errors.As(err, &upiErr))

	require.Empty(t, be.orders)
}

func TestConcurrentCommitIsRejected(t *testing.T) {
	be := newFakeBackend("9")
	be.block = make(chan struct{})
	svc := &Service{Backend: be}
	sess := readySession(t)
	require.NoError(t, sess.SetReceivedCash(money("212.40")))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Commit(context.Background(), sess)
		done <- err
	}()
	require.Eventually(t, sess.Committing, time.Second, 5*time.Millisecond)

	_, err := svc.Commit(context.Background(), sess)
	require.ErrorIs(t, err, ErrCommitInProgress)
	_, err = sess.AddItem(paracetamol(1))
	require.ErrorIs(t, err, ErrCommitInProgress)

	close(be.block)
	require.NoError(t, <-done)
	require.Len(t, be.orders, 1)
}

func TestNilServiceIsNotConfigured(t *testing.T) {
	var svc *Service
	_, err := svc.Commit(context.Background(), NewSession(time.Now()))
	require.EqualError(t, err, "checkout service not configured")
}
