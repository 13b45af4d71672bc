package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// OrderID is the backend's order identifier. The backend emits integers, but
// the value is treated as an opaque token.
type OrderID string

// UnmarshalJSON accepts both numeric and string ids.
func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OrderID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	*id = OrderID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as JSON numbers.
func (id OrderID) MarshalJSON() ([]byte, error) {
	return json.Marshal(numberOrString(string(id)))
}

func (id OrderID) String() string { return string(id) }

// Amount decodes tolerantly: numbers, numeric strings, null, "" and garbage
// all yield a decimal, the last three being zero.
type Amount struct {
	pricing.Money
}

// UnmarshalJSON implements the tolerant numeric decoding.
func (a *Amount) UnmarshalJSON(data []byte) error {
	a.Money = parseLoose(data)
	return nil
}

// MarshalJSON writes the amount as a number with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Money.StringFixed(2)), nil
}

func amountOf(m pricing.Money) Amount { return Amount{Money: m} }

func parseLoose(data []byte) decimal.Decimal {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return decimal.Zero
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return decimal.Zero
		}
		raw = strings.TrimSpace(s)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// numberOrString keeps numeric ids numeric on the wire.
func numberOrString(s string) any {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return json.Number(s)
	}
	return s
}

// OrderRequest is the payload of POST /orders/create/.
type OrderRequest struct {
	CustomerName       string
	CustomerPhone      string
	DoctorName         string
	TotalAmount        pricing.Money
	DiscountPercentage decimal.Decimal
}

func (r OrderRequest) MarshalJSON() ([]byte, error) {
	var doctor *string
	if strings.TrimSpace(r.DoctorName) != "" {
		doctor = &r.DoctorName
	}
	return json.Marshal(struct {
		CustomerName       string  `json:"customer_name"`
		CustomerNumber     string  `json:"customer_number"`
		DoctorName         *string `json:"doctor_name"`
		TotalAmount        Amount  `json:"total_amount"`
		DiscountPercentage Amount  `json:"discount_percentage"`
	}{r.CustomerName, r.CustomerPhone, doctor, amountOf(r.TotalAmount), amountOf(r.DiscountPercentage)})
}

// OrderItem is one line sent to POST /order-items/.
type OrderItem struct {
	ProductID string
	BatchID   int64
	Quantity  int
	UnitPrice pricing.Money
}

type orderItemWire struct {
	OrderID   OrderID `json:"order_id"`
	ProductID any     `json:"product_id"`
	BatchID   int64   `json:"batch_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice Amount  `json:"unit_price"`
}

// PaymentLeg is one record sent to POST /payments/add/.
type PaymentLeg struct {
	PaymentType       string
	TransactionAmount pricing.Money
}

type paymentLegWire struct {
	PaymentType       string `json:"payment_type"`
	TransactionAmount Amount `json:"transaction_amount"`
}

// PaymentRow is one payment leg as returned by GET /payments/, with the
// order's customer, total and date joined in.
type PaymentRow struct {
	OrderID           OrderID `json:"order_id"`
	PaymentType       string  `json:"payment_type"`
	TransactionAmount Amount  `json:"transaction_amount"`
	CustomerName      string  `json:"customer_name"`
	TotalAmount       Amount  `json:"total_amount"`
	OrderDate         string  `json:"order_date"`
}

// OrderItemView is one line of GET /orders/{id}/items/.
type OrderItemView struct {
	Quantity     int    `json:"quantity"`
	UnitPrice    Amount `json:"unit_price"`
	MedicineName string `json:"medicine_name"`
	BrandName    string `json:"brand_name"`
	GST          Amount `json:"gst"`
	BatchNumber  string `json:"batch_number"`
	Amount       Amount `json:"amount"`
}

// PaymentSummary is the backend's aggregate of GET /payments/summary/.
type PaymentSummary struct {
	TotalOrders   int64  `json:"-"`
	TotalRevenue  Amount `json:"total_revenue"`
	TotalCash     Amount `json:"total_cash"`
	TotalUPI      Amount `json:"total_upi"`
	TotalPayments Amount `json:"total_payments"`
}

func (s *PaymentSummary) UnmarshalJSON(data []byte) error {
	type alias PaymentSummary
	aux := struct {
		*alias
		TotalOrders Amount `json:"total_orders"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.TotalOrders = aux.TotalOrders.Floor().IntPart()
	return nil
}
