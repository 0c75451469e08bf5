// Package engine wires the posting core together at the transaction
// boundary: builders, cost resolver, invariant validator, negative-stock
// policy, reversal generator, and the idempotency guard, all inside one
// atomic transaction per call.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/gl"
	"github.com/ledgerline/ledgerline/internal/inventory"
)

// Tx exposes every transaction-scoped operation one posting or void needs.
// GL header/line mutations come from gl.TxStore; the rest covers the
// append-only movement ledger.
type Tx interface {
	gl.TxStore

	InsertMovement(ctx context.Context, m inventory.Movement) error
	ListInboundCosted(ctx context.Context, orgID int64, itemIDs []int64) ([]inventory.Movement, error)
	ListMovementsBySource(ctx context.Context, orgID int64, sourceType, sourceID string) ([]inventory.Movement, error)
	OnHand(ctx context.Context, orgID, itemID int64, asOf time.Time, useCutoff bool) (decimal.Decimal, error)
}

// Store runs a function inside one atomic transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// PostingSettings is the immutable per-call settings bundle (spec'd org-level
// configuration passed in by the document service, never read from ambient
// globals). Zero values fall back to the engine's configured defaults.
type PostingSettings struct {
	NegativeStockPolicy   inventory.StockPolicy `validate:"omitempty,oneof=ALLOW WARN BLOCK"`
	UseEffectiveCutoff    *bool
	OverrideNegativeStock bool
	OverrideReason        string
}

// DocumentLineInput is one calculated document line. Subtotal and tax are
// already computed by the document service's calculator. ItemID is zero for
// non-inventory lines.
type DocumentLineInput struct {
	LineID       string `validate:"required"`
	AccountID    int64  `validate:"required"`
	TaxAccountID int64
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	Description  string
	ItemID       int64
	Quantity     decimal.Decimal
	UnitID       int64
}

// PostDocumentRequest is the inbound contract for posting any of the four
// document types.
type PostDocumentRequest struct {
	OrgID          int64         `validate:"required"`
	ActorID        int64         `validate:"required"`
	SourceType     gl.SourceType `validate:"required,oneof=INVOICE BILL CREDIT_NOTE EXPENSE"`
	SourceID       string        `validate:"required"`
	PostingDate    time.Time     `validate:"required"`
	Currency       string        `validate:"required,len=3"`
	Memo           string
	IdempotencyKey string

	AnchorAccountID int64 `validate:"required"`
	CounterpartyRef string

	Lines []DocumentLineInput `validate:"required,min=1,dive"`

	// Resolved reference maps supplied by the document service.
	ItemsByID map[int64]inventory.Item
	UnitRates map[int64]decimal.Decimal

	Settings PostingSettings
}

// PostDocumentResult is returned on success; UnitCostByLine is persisted by
// the caller onto its own line records and replayed unchanged on reversal.
type PostDocumentResult struct {
	Header         gl.Header                      `json:"header"`
	CostLines      []inventory.CostLine           `json:"cost_lines,omitempty"`
	UnitCostByLine map[string]decimal.Decimal     `json:"unit_cost_by_line,omitempty"`
	Warnings       []inventory.NegativeStockIssue `json:"warnings,omitempty"`
	Replayed       bool                           `json:"-"`

	// overrideUsed marks a BLOCK violation that proceeded under an override;
	// the audit entry for it is written after the transaction commits.
	overrideUsed bool
}

// VoidDocumentRequest asks for an exact mirror of a previously posted header.
type VoidDocumentRequest struct {
	OrgID          int64     `validate:"required"`
	ActorID        int64     `validate:"required"`
	HeaderID       uuid.UUID `validate:"required"`
	Memo           string
	ReversalDate   *time.Time
	IdempotencyKey string

	Settings PostingSettings
}

// VoidDocumentResult carries the linked pair. AlreadyReversed means a prior
// call created the reversal and this call changed nothing.
type VoidDocumentResult struct {
	Original        gl.Header                      `json:"original"`
	Reversal        gl.Header                      `json:"reversal"`
	AlreadyReversed bool                           `json:"already_reversed"`
	Warnings        []inventory.NegativeStockIssue `json:"warnings,omitempty"`
	Replayed        bool                           `json:"-"`

	overrideUsed bool
}
