package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/apotek-pos/internal/cart"
	"github.com/noah-isme/apotek-pos/internal/common"
	"github.com/noah-isme/apotek-pos/internal/lock"
	"github.com/noah-isme/apotek-pos/internal/payment"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// CommitLocker rejects a second commit of the same session across replicas.
type CommitLocker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Handler exposes checkout sessions over HTTP.
type Handler struct {
	store   *Store
	service *Service
	locker  CommitLocker
	lockTTL time.Duration
	logger  zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Store   *Store
	Service *Service
	Locker  CommitLocker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Handler{
		store:   cfg.Store,
		service: cfg.Service,
		locker:  cfg.Locker,
		lockTTL: ttl,
		logger:  cfg.Logger,
	}
}

type addItemRequest struct {
	ProductID      string          `json:"productId" validate:"required"`
	BatchID        int64           `json:"batchId" validate:"gte=0"`
	BatchNumber    string          `json:"batchNumber"`
	MedicineName   string          `json:"medicineName"`
	BrandName      string          `json:"brandName"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	GSTRate        decimal.Decimal `json:"gstRate"`
	AvailableStock int             `json:"availableStock" validate:"gte=0"`
	ExpiryDate     string          `json:"expiryDate" validate:"omitempty,datetime=2006-01-02"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type discountRequest struct {
	Percentage decimal.Decimal `json:"percentage"`
}

type customerRequest struct {
	Name       string `json:"customerName"`
	Phone      string `json:"customerPhone"`
	DoctorName string `json:"doctorName"`
}

type methodRequest struct {
	Method string `json:"method" validate:"required"`
}

type paymentRequest struct {
	CashAmount   *decimal.Decimal `json:"cashAmount"`
	UPIAmount    *decimal.Decimal `json:"upiAmount"`
	UPIID        *string          `json:"upiId"`
	ReceivedCash *decimal.Decimal `json:"receivedCash"`
}

// Create handles POST /api/v1/sessions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout store not configured", nil)
		return
	}
	sess := h.store.Create()
	common.Data(w, http.StatusCreated, sess.View(time.Now()))
}

// Get handles GET /api/v1/sessions/{sessionID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, sess)
}

// Delete handles DELETE /api/v1/sessions/{sessionID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout store not configured", nil)
		return
	}
	if err := h.store.Delete(chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem handles POST /api/v1/sessions/{sessionID}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if appErr := common.DecodeJSON(r, &req); appErr != nil {
		common.WriteAppError(w, appErr)
		return
	}
	in := cart.NewLine{
		ProductID:      strings.TrimSpace(req.ProductID),
		BatchID:        req.BatchID,
		BatchNumber:    req.BatchNumber,
		MedicineName:   req.MedicineName,
		BrandName:      req.BrandName,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		GSTRate:        req.GSTRate,
		AvailableStock: req.AvailableStock,
	}
	if req.ExpiryDate != "" {
		// format already checked by the validator
		in.ExpiryDate, _ = time.Parse("2006-01-02", req.ExpiryDate)
	}
	if _, err := sess.AddItem(in); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, sess)
}

// UpdateItem handles PATCH /api/v1/sessions/{sessionID}/items/{lineID}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if appErr := common.DecodeJSON(r, &req); appErr != nil {
		common.WriteAppError(w, appErr)
		return
	}
	if _, err := sess.UpdateQuantity(chi.URLParam(r, "lineID"), req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, sess)
}

// RemoveItem handles DELETE /api/v1/sessions/{sessionID}/items/{lineID}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.RemoveItem(chi.URLParam(r, "lineID")); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, sess)
}

// SetDiscount handles PUT /api/v1/sessions/{sessionID}/discount.
func (h *Handler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req discountRequest
	if appErr := common.DecodeJSON(r, &req); appErr != nil {
		common.WriteAppError(w, appErr)
		return
	}
	if err := sess.SetDiscount(req.Percentage); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, sess)
}

// SetCustomer handles PUT /api/v1/sessions/{sessionID}/customer.
func (h *Handler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req customerRequest
	if appErr := common.DecodeJSON(r, &req); appErr != nil {
		common.WriteAppError(w, appErr)
		return
	}
	err := sess.SetCustomer(Customer{Name: req.Name, Phone: req.Phone, DoctorName: req.DoctorName})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, sess)
}

// SelectMethod handles PUT /api/v1/sessions/{sessionID}/payment/method.
func (h *Handler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req methodRequest
	if appErr := common.DecodeJSON(r, &req); appErr != nil {
		common.WriteAppError(w, appErr)
		return
	}
	method, err := payment.ParseMethod(req.Method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := sess.SelectPaymentMethod(method); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, sess)
}

// UpdatePayment handles PATCH /api/v1/sessions/{sessionID}/payment. Only one
// leg is edited per request; cashAmount wins over upiAmount.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if appErr := common.DecodeJSON(r, &req); appErr != nil {
		common.WriteAppError(w, appErr)
		return
	}
	var err error
	switch {
	case req.CashAmount != nil:
		err = sess.SetCashAmount(*req.CashAmount)
	case req.UPIAmount != nil:
		err = sess.SetUPIAmount(*req.UPIAmount)
	}
	if err == nil && req.UPIID != nil {
		err = sess.SetUPIID(*req.UPIID)
	}
	if err == nil && req.ReceivedCash != nil {
		err = sess.SetReceivedCash(*req.ReceivedCash)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, sess)
}

// Commit handles POST /api/v1/sessions/{sessionID}/commit.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var receipt Receipt
	commit := func(ctx context.Context) error {
		var err error
		receipt, err = h.service.Commit(ctx, sess)
		return err
	}
	var err error
	if h.locker != nil {
		err = h.locker.TryWithLock(r.Context(), "checkout:commit:"+sess.ID, h.lockTTL, commit)
	} else {
		err = commit(r.Context())
	}
	if err != nil {
		var network *NetworkError
		if errors.As(err, &network) && network.Step == StepCreateOrder {
			common.ReleaseIdempotencyKey(r.Context())
		}
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"data":    receipt.View(),
		"message": "Order #" + receipt.OrderID.String() + " completed successfully",
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	if h.store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout store not configured", nil)
		return nil, false
	}
	sess, err := h.store.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, sess *Session) {
	common.Data(w, status, sess.View(time.Now()))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var (
		appErr       *common.AppError
		validation   *pricing.ValidationError
		stock        *cart.StockExceededError
		upi          *payment.InvalidUPIIDError
		insufficient *payment.InsufficientPaymentError
		partial      *CommitStepFailure
		network      *NetworkError
	)
	switch {
	case errors.As(err, &appErr):
		common.WriteAppError(w, appErr)
	case errors.Is(err, ErrSessionNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, cart.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "LINE_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrCommitInProgress), errors.Is(err, lock.ErrLocked):
		common.JSONError(w, http.StatusConflict, "COMMIT_IN_PROGRESS", ErrCommitInProgress.Error(), nil)
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusConflict, "EMPTY_CART", err.Error(), nil)
	case errors.Is(err, payment.ErrLegsFixed):
		common.JSONError(w, http.StatusConflict, "PAYMENT_LEGS_FIXED", err.Error(), nil)
	case errors.Is(err, ErrCustomerRequired):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), map[string]any{"field": "customer"})
	case errors.As(err, &stock):
		common.JSONError(w, http.StatusUnprocessableEntity, "STOCK_EXCEEDED", err.Error(), map[string]any{
			"productId": stock.ProductID,
			"batchId":   stock.BatchID,
			"requested": stock.Requested,
			"available": stock.Available,
			"exceeding": stock.Exceeding(),
		})
	case errors.As(err, &upi):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_UPI_ID", err.Error(), nil)
	case errors.As(err, &insufficient):
		common.JSONError(w, http.StatusUnprocessableEntity, "INSUFFICIENT_PAYMENT", err.Error(), map[string]any{
			"owed":      insufficient.Owed.StringFixed(2),
			"received":  insufficient.Received.StringFixed(2),
			"shortfall": insufficient.Shortfall().StringFixed(2),
		})
	case errors.As(err, &validation):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), map[string]any{
			"field":  validation.Field,
			"reason": validation.Reason,
		})
	case errors.As(err, &partial):
		common.JSONError(w, http.StatusBadGateway, "PARTIAL_COMMIT", err.Error(), map[string]any{
			"orderId": partial.OrderID,
			"step":    partial.Step,
		})
	case errors.As(err, &network):
		common.JSONError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error(), map[string]any{"step": network.Step})
	default:
		h.logger.Error().Err(err).Msg("checkout request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
