package ledger

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/apotek-pos/internal/backend"
	"github.com/noah-isme/apotek-pos/internal/obs"
)

// DefaultCacheKey holds the merged ledger in Redis.
const DefaultCacheKey = "ledger:merged:v1"

// PaymentQuery lists raw payment legs.
type PaymentQuery interface {
	ListPayments(ctx context.Context) ([]Row, error)
}

// BackendSource adapts the REST client to PaymentQuery.
type BackendSource struct {
	Client interface {
		ListPayments(ctx context.Context) ([]backend.PaymentRow, error)
	}
}

// ListPayments implements PaymentQuery.
func (s BackendSource) ListPayments(ctx context.Context) ([]Row, error) {
	raw, err := s.Client.ListPayments(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, Row{
			OrderID:           r.OrderID.String(),
			PaymentType:       r.PaymentType,
			TransactionAmount: r.TransactionAmount.Money,
			CustomerName:      r.CustomerName,
			TotalAmount:       r.TotalAmount.Money,
			OrderDate:         r.OrderDate,
		})
	}
	return rows, nil
}

// Service serves the merged payment ledger, caching it when a cache is set.
type Service struct {
	Source   PaymentQuery
	Cache    *Cache
	CacheKey string
	Logger   zerolog.Logger
}

// List returns the merged ledger, newest order first.
func (s *Service) List(ctx context.Context) ([]MergedRow, error) {
	if s == nil || s.Source == nil {
		return nil, errors.New("ledger service not configured")
	}
	ctx, span := otel.Tracer("ledger.Service").Start(ctx, "LedgerService.List")
	defer span.End()

	var cached []MergedRow
	hit, err := s.Cache.GetJSON(ctx, s.key(), &cached)
	switch {
	case err != nil:
		obs.ObserveLedgerCache("error")
		s.Logger.Warn().Err(err).Msg("ledger cache read failed")
	case hit:
		obs.ObserveLedgerCache("hit")
		span.SetAttributes(attribute.Bool("ledger.cache_hit", true))
		return cached, nil
	default:
		obs.ObserveLedgerCache("miss")
	}
	return s.Refresh(ctx)
}

// Refresh rebuilds the merged ledger from the source and repopulates the cache.
func (s *Service) Refresh(ctx context.Context) ([]MergedRow, error) {
	if s == nil || s.Source == nil {
		return nil, errors.New("ledger service not configured")
	}
	rows, err := s.Source.ListPayments(ctx)
	if err != nil {
		return nil, err
	}
	merged := Merge(rows)
	obs.AddLedgerRowsMerged(len(rows))
	if err := s.Cache.SetJSON(ctx, s.key(), merged); err != nil {
		s.Logger.Warn().Err(err).Msg("ledger cache write failed")
	}
	return merged, nil
}

// Stats aggregates the merged ledger.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(rows), nil
}

// FindOrder looks an order up in a freshly fetched ledger.
func (s *Service) FindOrder(ctx context.Context, orderID string) (MergedRow, bool, error) {
	rows, err := s.Refresh(ctx)
	if err != nil {
		return MergedRow{}, false, err
	}
	for _, row := range rows {
		if row.OrderID == orderID {
			return row, true, nil
		}
	}
	return MergedRow{}, false, nil
}

// Invalidate drops the cached ledger so the next read hits the backend.
func (s *Service) Invalidate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.Cache.Delete(ctx, s.key())
}

func (s *Service) key() string {
	if s.CacheKey != "" {
		return s.CacheKey
	}
	return DefaultCacheKey
}
