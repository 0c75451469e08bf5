package inventory

import (
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/money"
)

// ProjectedIssue pairs an item's current on-hand quantity with the quantity
// an outbound or reversing movement is about to issue.
type ProjectedIssue struct {
	ItemID    int64
	OnHandQty decimal.Decimal
	IssueQty  decimal.Decimal
}

// DetectNegativeStock returns one issue per entry whose projected on-hand
// quantity would go negative. Stock increases never produce issues.
func DetectNegativeStock(entries []ProjectedIssue) []NegativeStockIssue {
	var issues []NegativeStockIssue
	for _, e := range entries {
		onHand := money.RoundQuantity(e.OnHandQty)
		issue := money.RoundQuantity(e.IssueQty)
		projected := onHand.Sub(issue)
		if projected.IsNegative() {
			issues = append(issues, NegativeStockIssue{
				ItemID:       e.ItemID,
				OnHandQty:    onHand,
				IssueQty:     issue,
				ProjectedQty: projected,
			})
		}
	}
	return issues
}

// AssertStockPolicy gates an operation on the org's negative-stock policy.
// ALLOW never fails and never warns. WARN never fails; issues come back as a
// warning payload for the caller's response. BLOCK fails unless the caller
// holds a pre-authorized override, in which case the violation is downgraded
// to a warning and the override is recorded on the audit trail by the caller.
func AssertStockPolicy(policy StockPolicy, issues []NegativeStockIssue, override bool) ([]NegativeStockIssue, error) {
	if len(issues) == 0 {
		return nil, nil
	}
	switch policy {
	case StockPolicyAllow:
		return nil, nil
	case StockPolicyWarn:
		return issues, nil
	case StockPolicyBlock:
		if override {
			return issues, nil
		}
		return nil, ErrNegativeStockViolation
	default:
		return nil, ErrUnknownPolicy
	}
}
