// Package gl implements the double-entry posting core: GL line invariant
// validation, document-type posting-line builders, and reversal generation.
package gl

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// HeaderStatus enumerates GL header lifecycle values.
type HeaderStatus string

const (
	HeaderStatusPosted   HeaderStatus = "POSTED"
	HeaderStatusReversed HeaderStatus = "REVERSED"
)

// SourceType identifies the document kind that produced a header.
type SourceType string

const (
	SourceTypeInvoice    SourceType = "INVOICE"
	SourceTypeBill       SourceType = "BILL"
	SourceTypeCreditNote SourceType = "CREDIT_NOTE"
	SourceTypeExpense    SourceType = "EXPENSE"
)

// ReversalSourcePrefix marks headers generated by a reversal. Prefixing the
// original header id guarantees reversal headers never collide with real
// source documents on the (org, source_type, source_id) constraint.
const ReversalSourcePrefix = "REVERSAL:"

// Line is a single GL line. Exactly one of Debit/Credit is strictly positive.
type Line struct {
	LineNo          int             `json:"line_no"`
	AccountID       int64           `json:"account_id"`
	Debit           decimal.Decimal `json:"debit"`
	Credit          decimal.Decimal `json:"credit"`
	Description     string          `json:"description,omitempty"`
	CounterpartyRef string          `json:"counterparty_ref,omitempty"`
}

// Header is the canonical double-entry record created when a document posts.
// (OrgID, SourceType, SourceID) is unique: at most one header per source
// document. TotalDebit always equals TotalCredit at currency scale.
type Header struct {
	ID          uuid.UUID
	OrgID       int64
	SourceType  SourceType
	SourceID    string
	PostingDate time.Time
	Currency    string
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	Status      HeaderStatus
	ReversedBy  *uuid.UUID
	Memo        string
	PostedBy    int64
	PostedAt    time.Time
	Lines       []Line
}

var (
	// ErrEmptyLines indicates a draft or header with no lines.
	ErrEmptyLines = fmt.Errorf("gl: lines required: %w", shared.ErrValidation)
	// ErrNegativeAmount indicates a line with a negative debit or credit.
	ErrNegativeAmount = fmt.Errorf("gl: negative amount: %w", shared.ErrValidation)
	// ErrAmbiguousSide indicates a line where debit and credit are both zero
	// or both positive.
	ErrAmbiguousSide = fmt.Errorf("gl: exactly one of debit/credit must be positive: %w", shared.ErrValidation)
	// ErrUnbalanced indicates total debit != total credit at currency scale.
	ErrUnbalanced = fmt.Errorf("gl: lines must balance: %w", shared.ErrValidation)
	// ErrHeaderNotFound indicates a missing header on reversal.
	ErrHeaderNotFound = fmt.Errorf("gl: header: %w", shared.ErrNotFound)
	// ErrNotPosted indicates the header is not in POSTED status.
	ErrNotPosted = fmt.Errorf("gl: header not posted: %w", shared.ErrConflict)
	// ErrAlreadyPosted indicates a second header for the same source document.
	ErrAlreadyPosted = fmt.Errorf("gl: source already posted: %w", shared.ErrConflict)
)
