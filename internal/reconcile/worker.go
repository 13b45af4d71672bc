package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/apotek-pos/internal/backend"
	"github.com/noah-isme/apotek-pos/internal/checkout"
	"github.com/noah-isme/apotek-pos/internal/ledger"
	"github.com/noah-isme/apotek-pos/internal/obs"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// Outcome labels a finished reconciliation.
type Outcome string

const (
	// OutcomeReconciled means the order has both lines and payment legs.
	OutcomeReconciled Outcome = "reconciled"
	// OutcomeOrphaned means the order is still missing lines or payments.
	OutcomeOrphaned Outcome = "orphaned"
)

// OrderLookup finds an order in the merged payment ledger.
type OrderLookup interface {
	FindOrder(ctx context.Context, orderID string) (ledger.MergedRow, bool, error)
}

// ItemLookup lists the lines recorded for an order.
type ItemLookup interface {
	OrderItems(ctx context.Context, orderID backend.OrderID) ([]backend.OrderItemView, error)
}

// Locker serialises work on one order across workers.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Report is the result of checking one partial commit.
type Report struct {
	OrderID     string
	Step        checkout.Step
	Outcome     Outcome
	ItemCount   int
	PaidAmount  pricing.Money
	MissingLegs bool
}

// Handler checks whether an incomplete order was completed after the fact.
type Handler struct {
	Ledger  OrderLookup
	Items   ItemLookup
	Locker  Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var pc checkout.PartialCommit
	if err := json.Unmarshal(task.Payload(), &pc); err != nil {
		obs.ObserveReconcile("invalid")
		return fmt.Errorf("reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if pc.OrderID == "" {
		obs.ObserveReconcile("invalid")
		return fmt.Errorf("reconcile: payload without order id: %w", asynq.SkipRetry)
	}
	run := func(ctx context.Context) error {
		_, err := h.Check(ctx, pc)
		return err
	}
	if h.Locker == nil {
		return run(ctx)
	}
	ttl := h.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return h.Locker.WithLock(ctx, "lock:reconcile:"+pc.OrderID, ttl, run)
}

// Check looks the order up in the ledger and the backend's item list. Lookup
// errors are returned so the task is retried.
func (h Handler) Check(ctx context.Context, pc checkout.PartialCommit) (Report, error) {
	if h.Ledger == nil || h.Items == nil {
		return Report{}, errors.New("reconcile: handler not configured")
	}
	logger := h.Logger.With().Str("order_id", pc.OrderID).Str("step", string(pc.Step)).Logger()

	row, found, err := h.Ledger.FindOrder(ctx, pc.OrderID)
	if err != nil {
		obs.ObserveReconcile("error")
		logger.Warn().Err(err).Msg("ledger lookup failed")
		return Report{}, err
	}
	items, err := h.Items.OrderItems(ctx, backend.OrderID(pc.OrderID))
	if err != nil {
		obs.ObserveReconcile("error")
		logger.Warn().Err(err).Msg("order items lookup failed")
		return Report{}, err
	}

	paid := pricing.Zero()
	if found {
		paid = row.CashAmount.Add(row.UPIAmount)
	}
	report := Report{
		OrderID:     pc.OrderID,
		Step:        pc.Step,
		ItemCount:   len(items),
		PaidAmount:  paid,
		MissingLegs: !found || !paid.IsPositive(),
	}
	if report.ItemCount > 0 && !report.MissingLegs {
		report.Outcome = OutcomeReconciled
		obs.ObserveReconcile(string(OutcomeReconciled))
		logger.Info().Int("items", report.ItemCount).Str("paid", paid.StringFixed(2)).Msg("partial commit reconciled")
		return report, nil
	}
	report.Outcome = OutcomeOrphaned
	obs.ObserveReconcile(string(OutcomeOrphaned))
	logger.Error().Int("items", report.ItemCount).Bool("missing_payments", report.MissingLegs).
		Str("expected", pc.Total.StringFixed(2)).Str("session_id", pc.SessionID).Msg("order is orphaned and needs manual follow-up")
	return report, nil
}

// NewServeMux routes reconciliation tasks to h.
func NewServeMux(h Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypePartialCommit, h)
	return mux
}
