package gl

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/inventory"
	"github.com/ledgerline/ledgerline/internal/money"
)

// PostableLine is the structurally-typed shape every document line (invoice,
// bill, credit note, expense) adapts into before posting. Amounts arrive
// already calculated by the document's own calculator and may carry full
// precision; rounding happens here at the GL boundary.
type PostableLine struct {
	LineID       string
	AccountID    int64
	TaxAccountID int64
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	Description  string
}

// DraftInput groups everything a builder needs to emit GL lines for one
// document.
type DraftInput struct {
	Lines           []PostableLine
	AnchorAccountID int64
	CounterpartyRef string
	Memo            string
}

// Draft holds built GL lines in two sections so the caller can splice
// inventory/COGS lines between them: primary (anchor + account groups) first,
// tax last. Line numbers are assigned by Combine.
type Draft struct {
	Primary []Line
	Tax     []Line
}

// Combine merges the draft with optional inventory cost lines into the final
// emission order (primary, cost, tax) and assigns strictly increasing line
// numbers. Two runs over identical input produce identical sequences.
func (d Draft) Combine(cost []Line) []Line {
	out := make([]Line, 0, len(d.Primary)+len(cost)+len(d.Tax))
	out = append(out, d.Primary...)
	out = append(out, cost...)
	out = append(out, d.Tax...)
	for i := range out {
		out[i].LineNo = i + 1
	}
	return out
}

// AccountAmount is one account's share of an amount being distributed.
type AccountAmount struct {
	AccountID int64
	Amount    decimal.Decimal
}

// AllocateAcrossAccounts rounds each group's full-precision amount to
// currency scale and assigns the rounding remainder, measured against the
// precisely-summed target, to the group with the largest absolute rounded
// amount. The returned amounts therefore always sum to exactly the rounded
// target even when per-group rounding alone would drift by a cent. Groups are
// sorted by account id; groups that end up zero are dropped.
func AllocateAcrossAccounts(groups []AccountAmount) []AccountAmount {
	if len(groups) == 0 {
		return nil
	}
	sorted := make([]AccountAmount, len(groups))
	copy(sorted, groups)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountID < sorted[j].AccountID })

	var target decimal.Decimal
	for _, g := range sorted {
		target = target.Add(g.Amount)
	}
	target = money.RoundCurrency(target)

	var roundedSum decimal.Decimal
	largest := 0
	for i := range sorted {
		sorted[i].Amount = money.RoundCurrency(sorted[i].Amount)
		roundedSum = roundedSum.Add(sorted[i].Amount)
		if sorted[i].Amount.Abs().GreaterThan(sorted[largest].Amount.Abs()) {
			largest = i
		}
	}
	if remainder := target.Sub(roundedSum); !remainder.IsZero() {
		sorted[largest].Amount = sorted[largest].Amount.Add(remainder)
	}

	out := sorted[:0]
	for _, g := range sorted {
		if !g.Amount.IsZero() {
			out = append(out, g)
		}
	}
	return out
}

// BuildInvoiceLines emits the AR anchor debit plus revenue and tax credits
// grouped by account.
func BuildInvoiceLines(in DraftInput) Draft { return buildDraft(in, true) }

// BuildBillLines emits expense and tax debits grouped by account plus the AP
// anchor credit.
func BuildBillLines(in DraftInput) Draft { return buildDraft(in, false) }

// BuildCreditNoteLines mirrors an invoice: revenue and tax debits plus the AR
// anchor credit.
func BuildCreditNoteLines(in DraftInput) Draft { return buildDraft(in, false) }

// BuildExpenseLines emits expense and tax debits plus the paid-from anchor
// credit.
func BuildExpenseLines(in DraftInput) Draft { return buildDraft(in, false) }

func buildDraft(in DraftInput, anchorDebit bool) Draft {
	bodyTotals := make(map[int64]decimal.Decimal)
	taxTotals := make(map[int64]decimal.Decimal)
	for _, line := range in.Lines {
		bodyTotals[line.AccountID] = bodyTotals[line.AccountID].Add(line.Subtotal)
		if line.TaxAccountID != 0 {
			taxTotals[line.TaxAccountID] = taxTotals[line.TaxAccountID].Add(line.Tax)
		}
	}
	body := AllocateAcrossAccounts(toAccountAmounts(bodyTotals))
	tax := AllocateAcrossAccounts(toAccountAmounts(taxTotals))

	var anchorAmount decimal.Decimal
	for _, g := range body {
		anchorAmount = anchorAmount.Add(g.Amount)
	}
	for _, g := range tax {
		anchorAmount = anchorAmount.Add(g.Amount)
	}

	var draft Draft
	if !anchorAmount.IsZero() {
		draft.Primary = append(draft.Primary, sideLine(in.AnchorAccountID, anchorAmount, anchorDebit, in.Memo, in.CounterpartyRef))
	}
	for _, g := range body {
		draft.Primary = append(draft.Primary, sideLine(g.AccountID, g.Amount, !anchorDebit, "", ""))
	}
	for _, g := range tax {
		draft.Tax = append(draft.Tax, sideLine(g.AccountID, g.Amount, !anchorDebit, "", ""))
	}
	return draft
}

// BuildInventoryCostLines turns resolved cost lines into grouped COGS and
// inventory GL lines. Outbound documents (invoices) debit the expense (COGS)
// accounts and credit the inventory asset accounts; inbound returns (credit
// notes) mirror. Both sides are allocated independently against the same
// precisely-summed total, so they always balance each other exactly.
func BuildInventoryCostLines(costs []inventory.CostLine, outbound bool) []Line {
	if len(costs) == 0 {
		return nil
	}
	expenseTotals := make(map[int64]decimal.Decimal)
	assetTotals := make(map[int64]decimal.Decimal)
	for _, c := range costs {
		expenseTotals[c.ExpenseAccountID] = expenseTotals[c.ExpenseAccountID].Add(c.TotalCost)
		assetTotals[c.InventoryAccountID] = assetTotals[c.InventoryAccountID].Add(c.TotalCost)
	}
	expense := AllocateAcrossAccounts(toAccountAmounts(expenseTotals))
	asset := AllocateAcrossAccounts(toAccountAmounts(assetTotals))

	lines := make([]Line, 0, len(expense)+len(asset))
	for _, g := range expense {
		lines = append(lines, sideLine(g.AccountID, g.Amount, outbound, "", ""))
	}
	for _, g := range asset {
		lines = append(lines, sideLine(g.AccountID, g.Amount, !outbound, "", ""))
	}
	return lines
}

func toAccountAmounts(totals map[int64]decimal.Decimal) []AccountAmount {
	out := make([]AccountAmount, 0, len(totals))
	for id, amount := range totals {
		out = append(out, AccountAmount{AccountID: id, Amount: amount})
	}
	return out
}

func sideLine(accountID int64, amount decimal.Decimal, debit bool, description, counterparty string) Line {
	line := Line{
		AccountID:       accountID,
		Description:     description,
		CounterpartyRef: counterparty,
	}
	if debit {
		line.Debit = amount
	} else {
		line.Credit = amount
	}
	return line
}
