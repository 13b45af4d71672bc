package ledger

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/apotek-pos/internal/pricing"
)

const (
	unknownCustomer = "Unknown Customer"
	invalidDate     = "Invalid Date"
)

// Payment method labels shown on merged ledger rows.
const (
	LabelCash    = "Cash"
	LabelUPI     = "UPI"
	LabelCashUPI = "Cash + UPI"
)

// shopZone is used for the displayed order date.
var shopZone = time.FixedZone("IST", 5*60*60+30*60)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Row is one payment leg as reported by the backend.
type Row struct {
	OrderID           string
	PaymentType       string
	TransactionAmount pricing.Money
	CustomerName      string
	TotalAmount       pricing.Money
	OrderDate         string
}

// MergedRow is the per-order view of the payment ledger.
type MergedRow struct {
	OrderID      string        `json:"orderId"`
	PaymentType  string        `json:"paymentType"`
	CashAmount   pricing.Money `json:"cashAmount"`
	UPIAmount    pricing.Money `json:"upiAmount"`
	CustomerName string        `json:"customerName"`
	TotalAmount  pricing.Money `json:"totalAmount"`
	OrderDate    string        `json:"orderDate"`
	OrderedAt    time.Time     `json:"orderedAt"`
}

// Merge folds payment legs into one row per order. Rows are sorted newest
// first; orders with unparseable dates sort last and ties are broken by order
// id, so any permutation of the input yields the same output.
func Merge(rows []Row) []MergedRow {
	byOrder := make(map[string]*MergedRow, len(rows))
	firstLabel := make(map[string]string, len(rows))
	keys := make([]string, 0, len(rows))

	for _, row := range rows {
		id := strings.TrimSpace(row.OrderID)
		merged, ok := byOrder[id]
		if !ok {
			orderedAt, display := parseOrderDate(row.OrderDate)
			merged = &MergedRow{
				OrderID:      id,
				CashAmount:   pricing.Zero(),
				UPIAmount:    pricing.Zero(),
				CustomerName: customerOrDefault(row.CustomerName),
				TotalAmount:  row.TotalAmount,
				OrderDate:    display,
				OrderedAt:    orderedAt,
			}
			byOrder[id] = merged
			firstLabel[id] = strings.TrimSpace(row.PaymentType)
			keys = append(keys, id)
		}
		switch strings.ToLower(strings.TrimSpace(row.PaymentType)) {
		case "cash":
			merged.CashAmount = merged.CashAmount.Add(row.TransactionAmount)
		case "upi":
			merged.UPIAmount = merged.UPIAmount.Add(row.TransactionAmount)
		}
	}

	out := make([]MergedRow, 0, len(keys))
	for _, id := range keys {
		merged := byOrder[id]
		merged.PaymentType = label(merged.CashAmount, merged.UPIAmount, firstLabel[id])
		out = append(out, *merged)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OrderedAt.IsZero() != b.OrderedAt.IsZero() {
			return b.OrderedAt.IsZero()
		}
		if !a.OrderedAt.Equal(b.OrderedAt) {
			return a.OrderedAt.After(b.OrderedAt)
		}
		return lessOrderID(a.OrderID, b.OrderID)
	})
	return out
}

func label(cash, upi pricing.Money, fallback string) string {
	hasCash, hasUPI := cash.IsPositive(), upi.IsPositive()
	switch {
	case hasCash && hasUPI:
		return LabelCashUPI
	case hasCash:
		return LabelCash
	case hasUPI:
		return LabelUPI
	case fallback == "":
		return "unknown"
	default:
		return fallback
	}
}

func customerOrDefault(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return unknownCustomer
}

// parseOrderDate returns the parsed instant and its display form. Failures
// yield the zero time and "Invalid Date".
func parseOrderDate(raw string) (time.Time, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, invalidDate
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, FormatOrderDate(t)
		}
	}
	return time.Time{}, invalidDate
}

// FormatOrderDate renders t the way the ledger grid shows it, e.g.
// "01 Mar 2024, 03:30 PM".
func FormatOrderDate(t time.Time) string {
	if t.IsZero() {
		return invalidDate
	}
	return t.In(shopZone).Format("02 Jan 2006, 03:04 PM")
}

func lessOrderID(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

// Stats aggregates merged ledger rows.
type Stats struct {
	TotalTransactions int           `json:"totalTransactions"`
	TotalAmount       pricing.Money `json:"totalAmount"`
	TotalCash         pricing.Money `json:"totalCash"`
	TotalUPI          pricing.Money `json:"totalUpi"`
}

// ComputeStats sums totals across merged rows.
func ComputeStats(rows []MergedRow) Stats {
	stats := Stats{
		TotalTransactions: len(rows),
		TotalAmount:       pricing.Zero(),
		TotalCash:         pricing.Zero(),
		TotalUPI:          pricing.Zero(),
	}
	for _, row := range rows {
		stats.TotalAmount = stats.TotalAmount.Add(row.TotalAmount)
		stats.TotalCash = stats.TotalCash.Add(row.CashAmount)
		stats.TotalUPI = stats.TotalUPI.Add(row.UPIAmount)
	}
	return stats
}
