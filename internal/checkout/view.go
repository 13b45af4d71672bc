package checkout

import (
	"time"

	"github.com/noah-isme/apotek-pos/internal/cart"
	"github.com/noah-isme/apotek-pos/internal/payment"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// ExpiryWarningDays flags lines whose batch expires within this window.
const ExpiryWarningDays = 30

// LineView is the JSON shape of one cart line.
type LineView struct {
	ID             string `json:"id"`
	ProductID      string `json:"productId"`
	BatchID        int64  `json:"batchId"`
	BatchNumber    string `json:"batchNumber,omitempty"`
	MedicineName   string `json:"medicineName,omitempty"`
	BrandName      string `json:"brandName,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPrice      string `json:"unitPrice"`
	GSTRate        string `json:"gstRate"`
	Amount         string `json:"amount"`
	AvailableStock int    `json:"availableStock"`
	ExpiryDate     string `json:"expiryDate,omitempty"`
	ExpiringSoon   bool   `json:"expiringSoon"`
}

// SummaryView is the JSON shape of the order totals.
type SummaryView struct {
	Subtotal           string `json:"subtotal"`
	GSTAmount          string `json:"gstAmount"`
	TotalAmount        string `json:"totalAmount"`
	DiscountPercentage string `json:"discountPercentage"`
	DiscountAmount     string `json:"discountAmount"`
	FinalAmount        string `json:"finalAmount"`
}

// PaymentView is the JSON shape of the payment allocation.
type PaymentView struct {
	Method       string    `json:"method"`
	CashAmount   string    `json:"cashAmount"`
	UPIAmount    string    `json:"upiAmount"`
	UPIID        string    `json:"upiId,omitempty"`
	ReceivedCash string    `json:"receivedCash"`
	ChangeAmount string    `json:"changeAmount"`
	Legs         []LegView `json:"legs"`
}

// LegView is one payment record as sent to the backend.
type LegView struct {
	Type   string `json:"paymentType"`
	Amount string `json:"amount"`
}

// SessionView is the JSON shape of a checkout session.
type SessionView struct {
	ID         string      `json:"id"`
	CreatedAt  time.Time   `json:"createdAt"`
	Lines      []LineView  `json:"lines"`
	Summary    SummaryView `json:"summary"`
	Payment    PaymentView `json:"payment"`
	Customer   *Customer   `json:"customer,omitempty"`
	Committing bool        `json:"committing"`
}

// ReceiptView is the JSON shape of a committed order.
type ReceiptView struct {
	OrderID     string      `json:"orderId"`
	Summary     SummaryView `json:"summary"`
	Payment     PaymentView `json:"payment"`
	Lines       []LineView  `json:"lines"`
	CommittedAt time.Time   `json:"committedAt"`
}

// View renders the session for API responses.
func (s *Session) View(now time.Time) SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := SessionView{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		Lines:      lineViews(s.cart.Lines(), now),
		Summary:    summaryView(s.cart.Summary()),
		Payment:    paymentView(s.alloc.Allocation()),
		Committing: s.committing,
	}
	if !s.customer.IsZero() {
		c := s.customer
		v.Customer = &c
	}
	return v
}

// View renders the receipt for API responses.
func (r Receipt) View() ReceiptView {
	return ReceiptView{
		OrderID:     r.OrderID.String(),
		Summary:     summaryView(r.Summary),
		Payment:     paymentView(r.Allocation),
		Lines:       lineViews(r.Lines, r.CommittedAt),
		CommittedAt: r.CommittedAt,
	}
}

func lineViews(lines []cart.Line, now time.Time) []LineView {
	out := make([]LineView, 0, len(lines))
	for _, l := range lines {
		v := LineView{
			ID:             l.ID,
			ProductID:      l.ProductID,
			BatchID:        l.BatchID,
			BatchNumber:    l.BatchNumber,
			MedicineName:   l.MedicineName,
			BrandName:      l.BrandName,
			Quantity:       l.Quantity,
			UnitPrice:      l.UnitPrice.StringFixed(2),
			GSTRate:        l.GSTRate.String(),
			Amount:         l.Amount().StringFixed(2),
			AvailableStock: l.AvailableStock,
			ExpiringSoon:   l.ExpiringSoon(now, ExpiryWarningDays),
		}
		if !l.ExpiryDate.IsZero() {
			v.ExpiryDate = l.ExpiryDate.Format("2006-01-02")
		}
		out = append(out, v)
	}
	return out
}

func summaryView(s pricing.Summary) SummaryView {
	return SummaryView{
		Subtotal:           s.Subtotal.StringFixed(2),
		GSTAmount:          s.GSTAmount.StringFixed(2),
		TotalAmount:        s.TotalAmount.StringFixed(2),
		DiscountPercentage: s.DiscountPercentage.String(),
		DiscountAmount:     s.DiscountAmount.StringFixed(2),
		FinalAmount:        s.FinalAmount.StringFixed(2),
	}
}

func paymentView(a payment.Allocation) PaymentView {
	legs := a.Legs()
	lv := make([]LegView, 0, len(legs))
	for _, l := range legs {
		lv = append(lv, LegView{Type: string(l.Type), Amount: l.Amount.StringFixed(2)})
	}
	return PaymentView{
		Method:       string(a.Method),
		CashAmount:   a.CashAmount.StringFixed(2),
		UPIAmount:    a.UPIAmount.StringFixed(2),
		UPIID:        a.UPIID,
		ReceivedCash: a.ReceivedCash.StringFixed(2),
		ChangeAmount: a.ChangeAmount.StringFixed(2),
		Legs:         lv,
	}
}
