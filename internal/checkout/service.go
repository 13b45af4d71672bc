package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/apotek-pos/internal/backend"
	"github.com/noah-isme/apotek-pos/internal/cart"
	"github.com/noah-isme/apotek-pos/internal/obs"
	"github.com/noah-isme/apotek-pos/internal/payment"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// OrderBackend persists a sale in three steps.
type OrderBackend interface {
	CreateOrder(ctx context.Context, req backend.OrderRequest) (backend.OrderID, error)
	AttachItems(ctx context.Context, orderID backend.OrderID, items []backend.OrderItem) error
	AttachPayments(ctx context.Context, orderID backend.OrderID, legs []backend.PaymentLeg) error
}

// PartialCommit describes an order left without items or payments.
type PartialCommit struct {
	SessionID  string        `json:"sessionId"`
	OrderID    string        `json:"orderId"`
	Step       Step          `json:"step"`
	Error      string        `json:"error"`
	Total      pricing.Money `json:"finalAmount"`
	LegCount   int           `json:"legCount"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// FailureReporter hands partial commits to out-of-band reconciliation.
type FailureReporter interface {
	ReportPartialCommit(ctx context.Context, pc PartialCommit) error
}

// Receipt is returned after a successful commit.
type Receipt struct {
	OrderID     backend.OrderID
	Summary     pricing.Summary
	Allocation  payment.Allocation
	Legs        []payment.Leg
	Change      pricing.Money
	Lines       []cart.Line
	CommittedAt time.Time
}

// Service runs the order commit protocol against the backend.
type Service struct {
	Backend     OrderBackend
	Reporter    FailureReporter
	OnCommitted []func(ctx context.Context, r Receipt)
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Commit persists the session as one order: create the order, attach its
// lines, then attach its payment legs. Nothing is retried here. Any failure
// leaves the session untouched so the cashier can see what happened; a failure
// after the order exists is a *CommitStepFailure carrying the order id.
func (s *Service) Commit(ctx context.Context, sess *Session) (Receipt, error) {
	if s == nil || s.Backend == nil {
		return Receipt{}, errors.New("checkout service not configured")
	}
	start := time.Now()
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "checkout.commit")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.session_id", sess.ID))
	logger := s.Logger.With().Str("session_id", sess.ID).Logger()

	snap, err := sess.beginCommit()
	if err != nil {
		obs.ObserveCommit("rejected", obs.DurationMillis(time.Since(start)))
		span.SetStatus(codes.Error, err.Error())
		return Receipt{}, err
	}

	receipt, err := s.persist(ctx, sess.ID, snap, logger)
	sess.finishCommit(err == nil)
	elapsed := obs.DurationMillis(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var partial *CommitStepFailure
		if errors.As(err, &partial) {
			obs.ObserveCommit("partial", elapsed)
		} else {
			obs.ObserveCommit("failed", elapsed)
		}
		return Receipt{}, err
	}

	span.SetAttributes(attribute.String("order.id", receipt.OrderID.String()))
	obs.ObserveCommit("success", elapsed)
	logger.Info().Str("order_id", receipt.OrderID.String()).Str("final_amount", receipt.Summary.FinalAmount.StringFixed(2)).
		Str("method", string(receipt.Allocation.Method)).Msg("order committed")
	for _, hook := range s.OnCommitted {
		hook(ctx, receipt)
	}
	return receipt, nil
}

func (s *Service) persist(ctx context.Context, sessionID string, snap snapshot, logger zerolog.Logger) (Receipt, error) {
	var orderID backend.OrderID
	err := s.runStep(ctx, StepCreateOrder, "", logger, func(ctx context.Context) error {
		id, err := s.Backend.CreateOrder(ctx, backend.OrderRequest{
			CustomerName:       snap.customer.Name,
			CustomerPhone:      snap.customer.Phone,
			DoctorName:         snap.customer.DoctorName,
			TotalAmount:        snap.summary.FinalAmount,
			DiscountPercentage: snap.summary.DiscountPercentage,
		})
		orderID = id
		return err
	})
	if err != nil {
		return Receipt{}, &NetworkError{Step: StepCreateOrder, Err: err}
	}
	// once an order id exists the remaining steps must run to completion
	ctx = context.WithoutCancel(ctx)

	items := make([]backend.OrderItem, 0, len(snap.lines))
	for _, line := range snap.lines {
		items = append(items, backend.OrderItem{
			ProductID: line.ProductID,
			BatchID:   line.BatchID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	err = s.runStep(ctx, StepAttachItems, orderID, logger, func(ctx context.Context) error {
		return s.Backend.AttachItems(ctx, orderID, items)
	})
	if err != nil {
		return Receipt{}, s.partial(ctx, sessionID, orderID, StepAttachItems, err, snap, logger)
	}

	legs := snap.allocation.Legs()
	wire := make([]backend.PaymentLeg, 0, len(legs))
	for _, leg := range legs {
		wire = append(wire, backend.PaymentLeg{PaymentType: string(leg.Type), TransactionAmount: leg.Amount})
	}
	err = s.runStep(ctx, StepAttachPayments, orderID, logger, func(ctx context.Context) error {
		return s.Backend.AttachPayments(ctx, orderID, wire)
	})
	if err != nil {
		return Receipt{}, s.partial(ctx, sessionID, orderID, StepAttachPayments, err, snap, logger)
	}

	return Receipt{
		OrderID:     orderID,
		Summary:     snap.summary,
		Allocation:  snap.allocation,
		Legs:        legs,
		Change:      snap.allocation.ChangeAmount,
		Lines:       snap.lines,
		CommittedAt: s.now(),
	}, nil
}

func (s *Service) runStep(ctx context.Context, step Step, orderID backend.OrderID, logger zerolog.Logger, fn func(context.Context) error) error {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "checkout."+string(step))
	defer span.End()
	if orderID != "" {
		span.SetAttributes(attribute.String("order.id", orderID.String()))
	}
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Str("step", string(step)).Str("order_id", orderID.String()).Msg("commit step failed")
		return err
	}
	logger.Debug().Str("step", string(step)).Str("order_id", orderID.String()).Msg("commit step done")
	return nil
}

func (s *Service) partial(ctx context.Context, sessionID string, orderID backend.OrderID, step Step, cause error, snap snapshot, logger zerolog.Logger) error {
	failure := &CommitStepFailure{
		OrderID: orderID.String(),
		Step:    step,
		Err:     &NetworkError{Step: step, Err: cause},
	}
	logger.Error().Err(cause).Str("order_id", orderID.String()).Str("step", string(step)).Msg("order left incomplete")
	if s.Reporter == nil {
		return failure
	}
	report := PartialCommit{
		SessionID:  sessionID,
		OrderID:    orderID.String(),
		Step:       step,
		Error:      cause.Error(),
		Total:      snap.summary.FinalAmount,
		LegCount:   len(snap.allocation.Legs()),
		OccurredAt: s.now(),
	}
	// the caller's context may already be done; reporting must still happen
	if err := s.Reporter.ReportPartialCommit(context.WithoutCancel(ctx), report); err != nil {
		logger.Error().Err(err).Str("order_id", orderID.String()).Msg("report partial commit")
	}
	return failure
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
