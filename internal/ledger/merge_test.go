package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireSameRows(t *testing.T, want, got []ledger.MergedRow) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].OrderID, got[i].OrderID, "row %d", i)
		require.Equal(t, want[i].PaymentType, got[i].PaymentType, "row %d", i)
		require.True(t, want[i].CashAmount.Equal(got[i].CashAmount), "row %d cash", i)
		require.True(t, want[i].UPIAmount.Equal(got[i].UPIAmount), "row %d upi", i)
		require.True(t, want[i].TotalAmount.Equal(got[i].TotalAmount), "row %d total", i)
		require.Equal(t, want[i].CustomerName, got[i].CustomerName, "row %d", i)
		require.Equal(t, want[i].OrderDate, got[i].OrderDate, "row %d", i)
		require.True(t, want[i].OrderedAt.Equal(got[i].OrderedAt), "row %d time", i)
	}
}

func TestMergeSplitOrder(t *testing.T) {
	rows := []ledger.Row{
		{OrderID: "9", PaymentType: "cash", TransactionAmount: d("50"), CustomerName: "Ravi", TotalAmount: d("100"), OrderDate: "2024-03-01T10:00:00Z"},
		{OrderID: "9", PaymentType: "upi", TransactionAmount: d("50"), CustomerName: "Ravi", TotalAmount: d("100"), OrderDate: "2024-03-01T10:00:00Z"},
	}

	merged := ledger.Merge(rows)
	require.Len(t, merged, 1)
	require.Equal(t, "9", merged[0].OrderID)
	require.Equal(t, ledger.LabelCashUPI, merged[0].PaymentType)
	require.True(t, d("50").Equal(merged[0].CashAmount))
	require.True(t, d("50").Equal(merged[0].UPIAmount))
	require.Equal(t, "01 Mar 2024, 03:30 PM", merged[0].OrderDate)
}

func TestMergeLabelsAndCaseInsensitiveTypes(t *testing.T) {
	rows := []ledger.Row{
		{OrderID: "1", PaymentType: "CASH", TransactionAmount: d("10"), OrderDate: "2024-01-01"},
		{OrderID: "1", PaymentType: " Cash ", TransactionAmount: d("5"), OrderDate: "2024-01-01"},
		{OrderID: "2", PaymentType: "Upi", TransactionAmount: d("7"), OrderDate: "2024-01-02"},
		{OrderID: "3", PaymentType: "card", TransactionAmount: d("7"), OrderDate: "2024-01-03"},
		{OrderID: "4", PaymentType: "", TransactionAmount: d("0"), OrderDate: "2024-01-04"},
	}

	merged := ledger.Merge(rows)
	labels := map[string]string{}
	for _, row := range merged {
		labels[row.OrderID] = row.PaymentType
	}
	require.Equal(t, ledger.LabelCash, labels["1"])
	require.Equal(t, ledger.LabelUPI, labels["2"])
	require.Equal(t, "card", labels["3"])
	require.Equal(t, "unknown", labels["4"])

	for _, row := range merged {
		if row.OrderID == "1" {
			require.True(t, d("15").Equal(row.CashAmount))
		}
	}
}

func TestMergeDefaultsAndSorting(t *testing.T) {
	rows := []ledger.Row{
		{OrderID: "10", PaymentType: "cash", TransactionAmount: d("1"), OrderDate: "not a date"},
		{OrderID: "2", PaymentType: "cash", TransactionAmount: d("1"), OrderDate: "2024-03-01 09:00:00"},
		{OrderID: "3", PaymentType: "cash", TransactionAmount: d("1"), OrderDate: "2024-03-05T08:00:00.123456"},
		{OrderID: "9", PaymentType: "cash", TransactionAmount: d("1"), OrderDate: ""},
		{OrderID: "4", PaymentType: "cash", TransactionAmount: d("1"), OrderDate: "2024-03-01 09:00:00"},
	}

	merged := ledger.Merge(rows)
	ids := make([]string, 0, len(merged))
	for _, row := range merged {
		ids = append(ids, row.OrderID)
	}
	require.Equal(t, []string{"3", "2", "4", "9", "10"}, ids)
	require.Equal(t, "Invalid Date", merged[3].OrderDate)
	require.Equal(t, "Invalid Date", merged[4].OrderDate)
	require.Equal(t, "Unknown Customer", merged[0].CustomerName)
}

func TestMergeIsIdempotentAndOrderInsensitive(t *testing.T) {
	rows := []ledger.Row{
		{OrderID: "1", PaymentType: "cash", TransactionAmount: d("20"), CustomerName: "A", TotalAmount: d("50"), OrderDate: "2024-02-01T10:00:00Z"},
		{OrderID: "2", PaymentType: "upi", TransactionAmount: d("99.99"), CustomerName: "B", TotalAmount: d("99.99"), OrderDate: "2024-02-02T10:00:00Z"},
		{OrderID: "1", PaymentType: "upi", TransactionAmount: d("30"), CustomerName: "A", TotalAmount: d("50"), OrderDate: "2024-02-01T10:00:00Z"},
		{OrderID: "3", PaymentType: "cash", TransactionAmount: d("5"), CustomerName: "C", TotalAmount: d("5"), OrderDate: "2024-02-01T10:00:00Z"},
	}
	reversed := make([]ledger.Row, len(rows))
	for i := range rows {
		reversed[len(rows)-1-i] = rows[i]
	}

	first := ledger.Merge(rows)
	requireSameRows(t, first, ledger.Merge(rows))
	requireSameRows(t, first, ledger.Merge(reversed))
	require.Equal(t, []string{"2", "1", "3"}, []string{first[0].OrderID, first[1].OrderID, first[2].OrderID})
}

func TestComputeStats(t *testing.T) {
	merged := ledger.Merge([]ledger.Row{
		{OrderID: "1", PaymentType: "cash", TransactionAmount: d("20"), TotalAmount: d("50")},
		{OrderID: "1", PaymentType: "upi", TransactionAmount: d("30"), TotalAmount: d("50")},
		{OrderID: "2", PaymentType: "upi", TransactionAmount: d("12.5"), TotalAmount: d("12.5")},
	})

	stats := ledger.ComputeStats(merged)
	require.Equal(t, 2, stats.TotalTransactions)
	require.True(t, d("62.5").Equal(stats.TotalAmount))
	require.True(t, d("20").Equal(stats.TotalCash))
	require.True(t, d("42.5").Equal(stats.TotalUPI))

	empty := ledger.ComputeStats(nil)
	require.Zero(t, empty.TotalTransactions)
	require.True(t, empty.TotalAmount.IsZero())
}
