package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/apotek-pos/internal/obs"
	"github.com/noah-isme/apotek-pos/internal/resilience"
)

const maxBodyBytes = 4 << 20

// Error is returned for non-2xx backend responses. Message is the backend's
// "error" field verbatim when present.
type Error struct {
	Operation string
	Status    int
	Message   string
}

func (e *Error) Error() string {
	return e.Message
}

// ErrNoOrderID is returned when order creation succeeds without an id.
var ErrNoOrderID = errors.New("backend returned no order id")

// Client talks to the pharmacy REST backend.
type Client struct {
	BaseURL string
	Token   string
	HTTP    resilience.HTTPClient
	Logger  zerolog.Logger

	latency metric.Float64Histogram
}

// Options configures NewClient.
type Options struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	ReadAttempts int
	Breaker      *resilience.Breaker
	Logger       zerolog.Logger
	Transport    http.RoundTripper
}

// NewClient builds a client whose transport is traced with otelhttp and
// guarded by the resilience wrapper.
func NewClient(opts Options) *Client {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(5, 0.5, 30*time.Second)
	}
	breaker = breaker.WithTarget("order_backend").WithLogger(opts.Logger)
	latency, err := otel.Meter("apotek-pos/backend").Float64Histogram(
		"backend.request.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Order backend request latency."),
	)
	if err != nil {
		opts.Logger.Warn().Err(err).Msg("backend latency histogram unavailable")
	}
	return &Client{
		BaseURL: strings.TrimRight(opts.BaseURL, "/"),
		Token:   opts.Token,
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(transport)},
			Breaker:     breaker,
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: opts.ReadAttempts,
			Jitter:      0.2,
			Timeout:     opts.Timeout,
		},
		Logger:  opts.Logger,
		latency: latency,
	}
}

// CreateOrder allocates an order and returns its id.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (OrderID, error) {
	var resp struct {
		Message string  `json:"message"`
		OrderID OrderID `json:"order_id"`
	}
	if err := c.do(ctx, "create_order", http.MethodPost, "/orders/create/", req, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", ErrNoOrderID
	}
	return resp.OrderID, nil
}

// AttachItems records the order lines.
func (c *Client) AttachItems(ctx context.Context, orderID OrderID, items []OrderItem) error {
	wire := make([]orderItemWire, 0, len(items))
	for _, it := range items {
		wire = append(wire, orderItemWire{
			OrderID:   orderID,
			ProductID: numberOrString(it.ProductID),
			BatchID:   it.BatchID,
			Quantity:  it.Quantity,
			UnitPrice: amountOf(it.UnitPrice),
		})
	}
	body := map[string]any{"items": wire}
	return c.do(ctx, "attach_items", http.MethodPost, "/order-items/", body, nil)
}

// AttachPayments records the payment legs of an order.
func (c *Client) AttachPayments(ctx context.Context, orderID OrderID, legs []PaymentLeg) error {
	wire := make([]paymentLegWire, 0, len(legs))
	for _, leg := range legs {
		wire = append(wire, paymentLegWire{PaymentType: leg.PaymentType, TransactionAmount: amountOf(leg.TransactionAmount)})
	}
	body := map[string]any{"order_id": orderID, "payments": wire}
	return c.do(ctx, "attach_payments", http.MethodPost, "/payments/add/", body, nil)
}

// ListPayments returns every payment leg known to the backend. Missing
// customer names and payment types are defaulted.
func (c *Client) ListPayments(ctx context.Context) ([]PaymentRow, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "list_payments", http.MethodGet, "/payments/", nil, &raw); err != nil {
		return nil, err
	}
	var rows []PaymentRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		// a non-array body is treated as an empty ledger
		c.Logger.Warn().Err(err).Msg("payments response is not an array")
		return []PaymentRow{}, nil
	}
	for i := range rows {
		if strings.TrimSpace(rows[i].PaymentType) == "" {
			rows[i].PaymentType = "unknown"
		}
		if strings.TrimSpace(rows[i].CustomerName) == "" {
			rows[i].CustomerName = "Unknown Customer"
		}
	}
	return rows, nil
}

// OrderItems returns the lines recorded for one order.
func (c *Client) OrderItems(ctx context.Context, orderID OrderID) ([]OrderItemView, error) {
	var items []OrderItemView
	path := fmt.Sprintf("/orders/%s/items/", orderID)
	if err := c.do(ctx, "order_items", http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// PaymentSummary returns the backend's own payment aggregate.
func (c *Client) PaymentSummary(ctx context.Context) (PaymentSummary, error) {
	var summary PaymentSummary
	err := c.do(ctx, "payment_summary", http.MethodGet, "/payments/summary/", nil, &summary)
	return summary, err
}

// Ping checks that the backend answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.PaymentSummary(ctx)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	ctx, span := otel.Tracer("backend.Client").Start(ctx, "backend."+op)
	defer span.End()
	span.SetAttributes(attribute.String("backend.operation", op), attribute.String("http.method", method))

	start := time.Now()
	result := "error"
	defer func() {
		obs.ObserveBackendRequest(op, result)
		if c.latency != nil {
			c.latency.Record(ctx, obs.DurationMillis(time.Since(start)),
				metric.WithAttributes(attribute.String("operation", op), attribute.String("result", result)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		if errors.Is(err, resilience.ErrOpenCircuit) {
			result = "rejected"
		}
		c.Logger.Warn().Err(err).Str("operation", op).Msg("backend request failed")
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result = "http_" + statusClass(resp.StatusCode)
		apiErr := &Error{Operation: op, Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
		c.Logger.Warn().Str("operation", op).Int("status", resp.StatusCode).Str("error", apiErr.Message).Msg("backend rejected request")
		return apiErr
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	result = "success"
	return nil
}

func errorMessage(status int, body []byte) string {
	var payload struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch v := payload.Error.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case map[string]any:
			if msg, ok := v["message"].(string); ok && strings.TrimSpace(msg) != "" {
				return msg
			}
		}
	}
	return fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}
