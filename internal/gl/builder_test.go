package gl

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/inventory"
	"github.com/ledgerline/ledgerline/internal/money"
)

func TestAllocateLargestRemainder(t *testing.T) {
	// Three 0.014 shares: rounded independently they would sum to 0.03, but
	// the precise total 0.042 rounds to 0.04. The leftover cent lands on the
	// first account in id order since all rounded shares tie.
	got := AllocateAcrossAccounts([]AccountAmount{
		{AccountID: 3, Amount: money.MustParse("0.014")},
		{AccountID: 1, Amount: money.MustParse("0.014")},
		{AccountID: 2, Amount: money.MustParse("0.014")},
	})
	require.Len(t, got, 3)
	require.Equal(t, int64(1), got[0].AccountID)
	require.Equal(t, "0.02", got[0].Amount.StringFixed(2))
	require.Equal(t, "0.01", got[1].Amount.StringFixed(2))
	require.Equal(t, "0.01", got[2].Amount.StringFixed(2))

	var sum decimal.Decimal
	for _, g := range got {
		sum = sum.Add(g.Amount)
	}
	require.Equal(t, "0.04", sum.StringFixed(2))
}

func TestAllocateDropsZeroGroups(t *testing.T) {
	got := AllocateAcrossAccounts([]AccountAmount{
		{AccountID: 1, Amount: money.MustParse("10.00")},
		{AccountID: 2, Amount: money.MustParse("0.001")},
	})
	require.Len(t, got, 1)
	require.Equal(t, int64(1), got[0].AccountID)
	require.Equal(t, "10.00", got[0].Amount.StringFixed(2))
}

func TestBuildInvoiceLines(t *testing.T) {
	draft := BuildInvoiceLines(DraftInput{
		AnchorAccountID: 1200,
		CounterpartyRef: "CUST-9",
		Lines: []PostableLine{
			{LineID: "a", AccountID: 4000, TaxAccountID: 2100, Subtotal: money.MustParse("100.00"), Tax: money.MustParse("10.00")},
			{LineID: "b", AccountID: 4000, TaxAccountID: 2100, Subtotal: money.MustParse("50.00"), Tax: money.MustParse("5.00")},
			{LineID: "c", AccountID: 4100, Subtotal: money.MustParse("20.00")},
		},
	})
	lines := draft.Combine(nil)
	require.Len(t, lines, 4)

	// Anchor debit first, revenue groups sorted by account, tax last.
	require.Equal(t, 1, lines[0].LineNo)
	require.Equal(t, int64(1200), lines[0].AccountID)
	require.Equal(t, "185.00", lines[0].Debit.StringFixed(2))
	require.Equal(t, "CUST-9", lines[0].CounterpartyRef)

	require.Equal(t, int64(4000), lines[1].AccountID)
	require.Equal(t, "150.00", lines[1].Credit.StringFixed(2))
	require.Equal(t, int64(4100), lines[2].AccountID)
	require.Equal(t, "20.00", lines[2].Credit.StringFixed(2))
	require.Equal(t, int64(2100), lines[3].AccountID)
	require.Equal(t, "15.00", lines[3].Credit.StringFixed(2))

	_, err := ValidateLines(lines)
	require.NoError(t, err)
}

func TestBuildBillLines(t *testing.T) {
	draft := BuildBillLines(DraftInput{
		AnchorAccountID: 2000,
		CounterpartyRef: "VEND-1",
		Lines: []PostableLine{
			{LineID: "a", AccountID: 5000, TaxAccountID: 1400, Subtotal: money.MustParse("80.00"), Tax: money.MustParse("8.00")},
		},
	})
	lines := draft.Combine(nil)
	require.Len(t, lines, 3)
	require.Equal(t, "88.00", lines[0].Credit.StringFixed(2))
	require.Equal(t, int64(5000), lines[1].AccountID)
	require.Equal(t, "80.00", lines[1].Debit.StringFixed(2))
	require.Equal(t, int64(1400), lines[2].AccountID)
	require.Equal(t, "8.00", lines[2].Debit.StringFixed(2))

	_, err := ValidateLines(lines)
	require.NoError(t, err)
}

func TestBuildInventoryCostLinesSplit(t *testing.T) {
	costs := []inventory.CostLine{
		{LineID: "a", ItemID: 1, ExpenseAccountID: 5100, InventoryAccountID: 1300, TotalCost: money.MustParse("0.014")},
		{LineID: "b", ItemID: 2, ExpenseAccountID: 5200, InventoryAccountID: 1300, TotalCost: money.MustParse("0.014")},
		{LineID: "c", ItemID: 3, ExpenseAccountID: 5300, InventoryAccountID: 1300, TotalCost: money.MustParse("0.014")},
	}
	lines := BuildInventoryCostLines(costs, true)
	require.Len(t, lines, 4)

	var debit, credit decimal.Decimal
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	// No cent lost or gained versus the precisely-summed 0.042 input.
	require.Equal(t, "0.04", debit.StringFixed(2))
	require.Equal(t, "0.04", credit.StringFixed(2))

	_, err := ValidateLines(lines)
	require.NoError(t, err)
}

func TestCombineOrdersCostBeforeTax(t *testing.T) {
	draft := BuildInvoiceLines(DraftInput{
		AnchorAccountID: 1200,
		Lines: []PostableLine{
			{LineID: "a", AccountID: 4000, TaxAccountID: 2100, Subtotal: money.MustParse("100.00"), Tax: money.MustParse("10.00")},
		},
	})
	cost := BuildInventoryCostLines([]inventory.CostLine{
		{LineID: "a", ItemID: 1, ExpenseAccountID: 5100, InventoryAccountID: 1300, TotalCost: money.MustParse("40.00")},
	}, true)
	lines := draft.Combine(cost)

	require.Equal(t, []int64{1200, 4000, 5100, 1300, 2100}, accountOrder(lines))
	for i, l := range lines {
		require.Equal(t, i+1, l.LineNo)
	}
	_, err := ValidateLines(lines)
	require.NoError(t, err)
}

func accountOrder(lines []Line) []int64 {
	out := make([]int64, len(lines))
	for i, l := range lines {
		out[i] = l.AccountID
	}
	return out
}
