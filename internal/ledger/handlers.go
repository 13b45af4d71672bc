package ledger

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/apotek-pos/internal/backend"
	"github.com/noah-isme/apotek-pos/internal/common"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// SummaryQuery fetches the backend's own payment aggregate.
type SummaryQuery interface {
	PaymentSummary(ctx context.Context) (backend.PaymentSummary, error)
}

// Handler exposes the ledger endpoints.
type Handler struct {
	service *Service
	summary SummaryQuery
	logger  zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
	Summary SummaryQuery
	Logger  zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service, summary: cfg.Summary, logger: cfg.Logger}
}

type rowView struct {
	OrderID      string `json:"orderId"`
	PaymentType  string `json:"paymentType"`
	CashAmount   string `json:"cashAmount"`
	UPIAmount    string `json:"upiAmount"`
	CustomerName string `json:"customerName"`
	TotalAmount  string `json:"totalAmount"`
	OrderDate    string `json:"orderDate"`
}

type statsView struct {
	TotalTransactions int    `json:"totalTransactions"`
	TotalAmount       string `json:"totalAmount"`
	TotalCash         string `json:"totalCash"`
	TotalUPI          string `json:"totalUpi"`
}

// Payments handles GET /api/v1/ledger/payments.
func (h *Handler) Payments(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "ledger service not configured", nil)
		return
	}
	rows, err := h.service.List(r.Context())
	if err != nil {
		h.backendError(w, err)
		return
	}
	views := make([]rowView, 0, len(rows))
	for _, row := range rows {
		views = append(views, rowView{
			OrderID:      row.OrderID,
			PaymentType:  row.PaymentType,
			CashAmount:   fixed(row.CashAmount),
			UPIAmount:    fixed(row.UPIAmount),
			CustomerName: row.CustomerName,
			TotalAmount:  fixed(row.TotalAmount),
			OrderDate:    row.OrderDate,
		})
	}
	common.Data(w, http.StatusOK, views)
}

// Stats handles GET /api/v1/ledger/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "ledger service not configured", nil)
		return
	}
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.backendError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": statsView{
		TotalTransactions: stats.TotalTransactions,
		TotalAmount:       fixed(stats.TotalAmount),
		TotalCash:         fixed(stats.TotalCash),
		TotalUPI:          fixed(stats.TotalUPI),
	}})
}

// Summary handles GET /api/v1/ledger/summary. Backend failures degrade to a
// zeroed summary, as the dashboard cards expect.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if h.summary == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "payment summary not configured", nil)
		return
	}
	summary, err := h.summary.PaymentSummary(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("payment summary unavailable")
		summary = backend.PaymentSummary{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"totalOrders":   summary.TotalOrders,
		"totalRevenue":  fixed(summary.TotalRevenue.Money),
		"totalCash":     fixed(summary.TotalCash.Money),
		"totalUpi":      fixed(summary.TotalUPI.Money),
		"totalPayments": fixed(summary.TotalPayments.Money),
		"degraded":      err != nil,
	}})
}

func (h *Handler) backendError(w http.ResponseWriter, err error) {
	h.logger.Error().Err(err).Msg("ledger fetch failed")
	common.JSONError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error(), nil)
}

func fixed(m pricing.Money) string {
	return m.StringFixed(2)
}
