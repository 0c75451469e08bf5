package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/money"
)

// ResolveInput bundles everything the cost resolver needs for one document.
// ItemsByID and UnitRates are immutable reference data resolved by the
// calling document service.
type ResolveInput struct {
	OrgID       int64
	EffectiveAt time.Time
	Lines       []DocumentLine
	ItemsByID   map[int64]Item
	// UnitRates maps a unit id to its multiplier into the item's base unit.
	// Units absent from the map must equal the item's base unit; incompatible
	// units are rejected upstream.
	UnitRates map[int64]decimal.Decimal
	// UseEffectiveCutoff restricts costing to movements dated on/before
	// EffectiveAt, so back-dated documents are costed with only the history
	// that existed as of their own date. Disabled for bulk imports and legacy
	// migration, where all history is eligible.
	UseEffectiveCutoff bool
}

// CostResolution is the resolver output: one cost line per document line that
// references a cost-bearing tracked item, plus the per-line unit costs the
// caller persists and replays unchanged on reversal.
type CostResolution struct {
	CostLines      []CostLine
	UnitCostByLine map[string]decimal.Decimal
}

// ResolveCosts computes per-line unit and total costs for inventory-tracked
// items using weighted-average costing over the supplied movement history.
//
// Unit cost per item: a configured positive purchase price wins outright (a
// manual-override cost source); otherwise the weighted average of inbound
// movements with a recorded unit cost, filtered by the effective-date cutoff.
// Quantities accumulate at quantity scale and costs at full precision, with
// only the final quotient rounded to unit-cost scale, so equal tiny
// fractional receipts still average correctly.
func ResolveCosts(in ResolveInput, history []Movement) (CostResolution, error) {
	res := CostResolution{UnitCostByLine: make(map[string]decimal.Decimal)}

	tracked := make(map[int64]bool)
	for _, line := range in.Lines {
		item, ok := in.ItemsByID[line.ItemID]
		if ok && item.TrackInventory {
			tracked[item.ID] = true
		}
	}
	if len(tracked) == 0 {
		return res, nil
	}

	unitCosts := make(map[int64]decimal.Decimal, len(tracked))
	for itemID := range tracked {
		cost, err := resolveUnitCost(in, in.ItemsByID[itemID], history)
		if err != nil {
			return CostResolution{}, err
		}
		unitCosts[itemID] = cost
	}

	for _, line := range in.Lines {
		item, ok := in.ItemsByID[line.ItemID]
		if !ok || !item.TrackInventory {
			continue
		}
		baseQty, err := BaseQuantity(line, item, in.UnitRates)
		if err != nil {
			return CostResolution{}, err
		}
		if baseQty.IsZero() {
			continue
		}
		unitCost := unitCosts[item.ID]
		totalCost := unitCost.Mul(baseQty.Abs())
		if money.RoundCurrency(totalCost).IsZero() {
			continue
		}
		res.CostLines = append(res.CostLines, CostLine{
			LineID:             line.LineID,
			ItemID:             item.ID,
			ExpenseAccountID:   item.ExpenseAccountID,
			InventoryAccountID: item.InventoryAccountID,
			BaseQty:            baseQty,
			UnitCost:           unitCost,
			TotalCost:          totalCost,
		})
		res.UnitCostByLine[line.LineID] = unitCost
	}
	return res, nil
}

func resolveUnitCost(in ResolveInput, item Item, history []Movement) (decimal.Decimal, error) {
	if item.PurchasePrice.IsPositive() {
		return money.RoundUnitCost(item.PurchasePrice), nil
	}
	var qtySum, costSum decimal.Decimal
	for _, m := range history {
		if m.OrgID != in.OrgID || m.ItemID != item.ID {
			continue
		}
		if !m.Quantity.IsPositive() || !m.UnitCost.Valid {
			continue
		}
		if in.UseEffectiveCutoff && m.EffectiveTime().After(in.EffectiveAt) {
			continue
		}
		qtySum = qtySum.Add(money.RoundQuantity(m.Quantity))
		costSum = costSum.Add(m.Quantity.Mul(m.UnitCost.Decimal))
	}
	if !qtySum.IsPositive() {
		return decimal.Zero, fmt.Errorf("item %d: %w", item.ID, ErrMissingInventoryCost)
	}
	avg, err := money.Div(costSum, qtySum, money.UnitCostScale)
	if err != nil {
		return decimal.Zero, fmt.Errorf("item %d: %w", item.ID, err)
	}
	return avg, nil
}

// BaseQuantity converts a line's quantity into the item's base unit of
// measure, rounded to quantity scale.
func BaseQuantity(line DocumentLine, item Item, rates map[int64]decimal.Decimal) (decimal.Decimal, error) {
	qty := line.Quantity
	if line.UnitID != 0 && line.UnitID != item.BaseUnitID {
		rate, ok := rates[line.UnitID]
		if !ok || !rate.IsPositive() {
			return decimal.Zero, fmt.Errorf("unit %d on line %s: %w", line.UnitID, line.LineID, ErrUnknownUnit)
		}
		qty = qty.Mul(rate)
	}
	return money.RoundQuantity(qty), nil
}

// OnHandQuantity is the signed sum of movement quantities for one item with
// the effective-date cutoff applied (or all movements when disabled).
func OnHandQuantity(movements []Movement, orgID, itemID int64, asOf time.Time, useCutoff bool) decimal.Decimal {
	var sum decimal.Decimal
	for _, m := range movements {
		if m.OrgID != orgID || m.ItemID != itemID {
			continue
		}
		if useCutoff && m.EffectiveTime().After(asOf) {
			continue
		}
		sum = sum.Add(m.Quantity)
	}
	return money.RoundQuantity(sum)
}
