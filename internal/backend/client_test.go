package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/backend"
	"github.com/noah-isme/apotek-pos/internal/resilience"
)

func newClient(t *testing.T, h http.Handler) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return backend.NewClient(backend.Options{
		BaseURL:      srv.URL + "/api/",
		Token:        "secret",
		Timeout:      time.Second,
		ReadAttempts: 2,
		Breaker:      resilience.NewBreaker(100, 1, time.Second),
	})
}

func TestCreateOrderSendsPayloadAndParsesNumericID(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/orders/create/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Asha", body["customer_name"])
		require.Equal(t, "9876543210", body["customer_number"])
		require.Nil(t, body["doctor_name"])
		require.Equal(t, 236.0, body["total_amount"])
		require.Equal(t, 10.0, body["discount_percentage"])
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"message":"Order created successfully","order_id":500}`)
	})
	client := newClient(t, r)

	id, err := client.CreateOrder(context.Background(), backend.OrderRequest{
		CustomerName:       "Asha",
		CustomerPhone:      "9876543210",
		TotalAmount:        decimal.RequireFromString("236"),
		DiscountPercentage: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	require.Equal(t, backend.OrderID("500"), id)
}

func TestAttachItemsAndPaymentsCarryOrderID(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/order-items/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Items []map[string]any `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Items, 1)
		require.Equal(t, 500.0, body.Items[0]["order_id"])
		require.Equal(t, 12.0, body.Items[0]["product_id"])
		require.Equal(t, 7.0, body.Items[0]["batch_id"])
		require.Equal(t, 118.0, body.Items[0]["unit_price"])
		w.WriteHeader(http.StatusCreated)
	})
	r.Post("/api/payments/add/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OrderID  json.Number      `json:"order_id"`
			Payments []map[string]any `json:"payments"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "500", body.OrderID.String())
		require.Len(t, body.Payments, 2)
		require.Equal(t, "cash", body.Payments[0]["payment_type"])
		require.Equal(t, 106.2, body.Payments[0]["transaction_amount"])
		w.WriteHeader(http.StatusCreated)
	})
	client := newClient(t, r)
	ctx := context.Background()

	require.NoError(t, client.AttachItems(ctx, "500", []backend.OrderItem{{
		ProductID: "12", BatchID: 7, Quantity: 2, UnitPrice: decimal.RequireFromString("118"),
	}}))
	require.NoError(t, client.AttachPayments(ctx, "500", []backend.PaymentLeg{
		{PaymentType: "cash", TransactionAmount: decimal.RequireFromString("106.20")},
		{PaymentType: "upi", TransactionAmount: decimal.RequireFromString("106.20")},
	}))
}

func TestErrorMessageIsVerbatim(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/order-items/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Insufficient stock for product 12, batch 7"}`)
	})
	r.Post("/api/payments/add/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `<html>down</html>`)
	})
	client := newClient(t, r)

	err := client.AttachItems(context.Background(), "1", nil)
	var apiErr *backend.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Equal(t, "Insufficient stock for product 12, batch 7", err.Error())

	err = client.AttachPayments(context.Background(), "1", nil)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "HTTP 503: Service Unavailable", err.Error())
}

func TestMutationsAreNotRetried(t *testing.T) {
	var calls int32
	r := chi.NewRouter()
	r.Post("/api/orders/create/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"Failed to create order"}`)
	})
	client := newClient(t, r)

	_, err := client.CreateOrder(context.Background(), backend.OrderRequest{CustomerName: "A"})
	require.EqualError(t, err, "Failed to create order")
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestListPaymentsDecodesTolerantly(t *testing.T) {
	var calls int32
	r := chi.NewRouter()
	r.Get("/api/payments/", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[
			{"order_id": 9, "payment_type": "cash", "transaction_amount": "50.00", "customer_name": "Ravi", "total_amount": 100, "order_date": "2024-03-01T10:00:00Z"},
			{"order_id": "9", "payment_type": null, "transaction_amount": null, "customer_name": null, "total_amount": "", "order_date": null},
			{"order_id": 10, "payment_type": "upi", "transaction_amount": "abc", "customer_name": "", "total_amount": 20.5, "order_date": "2024-03-02"}
		]`)
	})
	client := newClient(t, r)

	rows, err := client.ListPayments(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))

	require.Equal(t, backend.OrderID("9"), rows[0].OrderID)
	require.True(t, decimal.RequireFromString("50").Equal(rows[0].TransactionAmount.Money))
	require.Equal(t, backend.OrderID("9"), rows[1].OrderID)
	require.Equal(t, "unknown", rows[1].PaymentType)
	require.Equal(t, "Unknown Customer", rows[1].CustomerName)
	require.True(t, rows[1].TransactionAmount.IsZero())
	require.True(t, rows[1].TotalAmount.IsZero())
	require.Equal(t, "", rows[1].OrderDate)
	require.True(t, rows[2].TransactionAmount.IsZero())
	require.Equal(t, "Unknown Customer", rows[2].CustomerName)
}

func TestListPaymentsNonArrayIsEmpty(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/payments/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"detail":"weird"}`)
	})
	client := newClient(t, r)

	rows, err := client.ListPayments(context.Background())
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestOrderItemsAndSummary(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/orders/{id}/items/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "500", chi.URLParam(r, "id"))
		_, _ = io.WriteString(w, `[{"quantity":2,"unit_price":118.0,"medicine_name":"Paracetamol","brand_name":"Crocin","gst":18,"batch_number":"B7","amount":236.0}]`)
	})
	r.Get("/api/payments/summary/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"total_orders":"3","total_revenue":"412.40","total_cash":null,"total_upi":106.2,"total_payments":4}`)
	})
	client := newClient(t, r)
	ctx := context.Background()

	items, err := client.OrderItems(ctx, "500")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, decimal.RequireFromString("236").Equal(items[0].Amount.Money))

	summary, err := client.PaymentSummary(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, summary.TotalOrders)
	require.True(t, summary.TotalCash.IsZero())
	require.True(t, decimal.RequireFromString("412.40").Equal(summary.TotalRevenue.Money))
	require.NoError(t, client.Ping(ctx))
}
