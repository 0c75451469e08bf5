// Package inventory implements weighted-average cost resolution over an
// append-only movement ledger and the negative-stock policy evaluator.
package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// Movement is one append-only physical stock change. Inbound quantities are
// positive, outbound negative. Movements are immutable once created; a void
// appends compensating movements rather than mutating history.
type Movement struct {
	ID           uuid.UUID
	OrgID        int64
	ItemID       int64
	Quantity     decimal.Decimal
	UnitCost     decimal.NullDecimal
	SourceType   string
	SourceID     string
	SourceLineID string
	EffectiveAt  time.Time
	CreatedAt    time.Time
}

// EffectiveTime returns the movement's effective date, falling back to the
// creation timestamp when no effective date was recorded.
func (m Movement) EffectiveTime() time.Time {
	if m.EffectiveAt.IsZero() {
		return m.CreatedAt
	}
	return m.EffectiveAt
}

// Item carries the per-item settings the cost resolver needs.
type Item struct {
	ID                 int64
	TrackInventory     bool
	PurchasePrice      decimal.Decimal
	ExpenseAccountID   int64
	InventoryAccountID int64
	BaseUnitID         int64
}

// DocumentLine is the item-bearing slice of a document line handed to the
// cost resolver. Quantity is expressed in UnitID; lines whose unit differs
// from the item's base unit are converted via the caller's rate table.
type DocumentLine struct {
	LineID   string
	ItemID   int64
	Quantity decimal.Decimal
	UnitID   int64
}

// CostLine is the derived per-line cost result. TotalCost keeps the precise
// unitCost*qty product; rounding to currency scale happens at the GL
// boundary so splitting costs across accounts never loses a cent.
type CostLine struct {
	LineID             string
	ItemID             int64
	ExpenseAccountID   int64
	InventoryAccountID int64
	BaseQty            decimal.Decimal
	UnitCost           decimal.Decimal
	TotalCost          decimal.Decimal
}

// StockPolicy controls how projected negative on-hand quantities are treated.
type StockPolicy string

const (
	StockPolicyAllow StockPolicy = "ALLOW"
	StockPolicyWarn  StockPolicy = "WARN"
	StockPolicyBlock StockPolicy = "BLOCK"
)

// NegativeStockIssue reports one item whose projected on-hand goes negative.
// Quantities serialize as exact decimal strings, never floating numbers.
type NegativeStockIssue struct {
	ItemID       int64           `json:"item_id"`
	OnHandQty    decimal.Decimal `json:"on_hand_qty"`
	IssueQty     decimal.Decimal `json:"issue_qty"`
	ProjectedQty decimal.Decimal `json:"projected_qty"`
}

var (
	// ErrMissingInventoryCost indicates an item with no manual price and no
	// costed inbound history; a document cannot post without a deterministic
	// cost.
	ErrMissingInventoryCost = fmt.Errorf("inventory: no cost source for item: %w", shared.ErrValidation)
	// ErrUnknownUnit indicates a line unit with no conversion rate to the
	// item's base unit.
	ErrUnknownUnit = fmt.Errorf("inventory: no conversion rate for unit: %w", shared.ErrValidation)
	// ErrNegativeStockViolation indicates the BLOCK policy rejected a posting.
	ErrNegativeStockViolation = fmt.Errorf("inventory: insufficient stock: %w", shared.ErrValidation)
	// ErrUnknownPolicy indicates an unrecognized policy value in settings.
	ErrUnknownPolicy = fmt.Errorf("inventory: unknown negative stock policy: %w", shared.ErrValidation)
)
