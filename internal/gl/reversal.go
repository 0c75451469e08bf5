package gl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// TxStore exposes the transaction-scoped header operations the reversal
// generator needs. The caller owns the enclosing transaction; both header
// mutations commit or roll back together.
type TxStore interface {
	GetHeaderWithLines(ctx context.Context, headerID uuid.UUID) (Header, error)
	InsertHeader(ctx context.Context, h Header) error
	MarkReversed(ctx context.Context, originalID, reversalID uuid.UUID) error
}

// ReverseInput wraps parameters for reversing a posted header. OrgID scopes
// the lookup: a header belonging to another org is not found.
type ReverseInput struct {
	OrgID        int64
	HeaderID     uuid.UUID
	ActorID      int64
	Memo         string
	ReversalDate *time.Time
}

// ReversePair returns the original header and its mirror. AlreadyReversed is
// set when the header had a linked reversal before this call.
type ReversePair struct {
	Original        Header
	Reversal        Header
	AlreadyReversed bool
}

// Reverse produces a mirror-image header for a posted header: every line's
// debit and credit swapped, line numbers, accounts and counterparty
// references preserved. The original transitions POSTED -> REVERSED and both
// headers are linked inside the caller's transaction. Calling Reverse on an
// already-reversed header returns the existing pair without creating a new
// one.
func Reverse(ctx context.Context, tx TxStore, in ReverseInput, now time.Time) (ReversePair, error) {
	original, err := tx.GetHeaderWithLines(ctx, in.HeaderID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ReversePair{}, ErrHeaderNotFound
		}
		return ReversePair{}, err
	}
	if original.OrgID != in.OrgID {
		return ReversePair{}, ErrHeaderNotFound
	}
	if original.Status == HeaderStatusReversed && original.ReversedBy != nil {
		existing, err := tx.GetHeaderWithLines(ctx, *original.ReversedBy)
		if err != nil {
			return ReversePair{}, fmt.Errorf("gl: load linked reversal: %w", err)
		}
		return ReversePair{Original: original, Reversal: existing, AlreadyReversed: true}, nil
	}
	if original.Status != HeaderStatusPosted {
		return ReversePair{}, ErrNotPosted
	}
	if len(original.Lines) == 0 {
		return ReversePair{}, ErrEmptyLines
	}

	mirror := make([]Line, len(original.Lines))
	for i, line := range original.Lines {
		mirror[i] = Line{
			LineNo:          line.LineNo,
			AccountID:       line.AccountID,
			Debit:           line.Credit,
			Credit:          line.Debit,
			Description:     line.Description,
			CounterpartyRef: line.CounterpartyRef,
		}
	}
	totals, err := ValidateLines(mirror)
	if err != nil {
		return ReversePair{}, err
	}

	postingDate := original.PostingDate
	if in.ReversalDate != nil {
		postingDate = *in.ReversalDate
	}
	reversal := Header{
		ID:          uuid.New(),
		OrgID:       original.OrgID,
		SourceType:  original.SourceType,
		SourceID:    ReversalSourcePrefix + original.ID.String(),
		PostingDate: postingDate,
		Currency:    original.Currency,
		TotalDebit:  totals.TotalDebit,
		TotalCredit: totals.TotalCredit,
		Status:      HeaderStatusPosted,
		Memo:        defaultReversalMemo(in.Memo, original),
		PostedBy:    in.ActorID,
		PostedAt:    now,
		Lines:       mirror,
	}
	if err := tx.InsertHeader(ctx, reversal); err != nil {
		return ReversePair{}, fmt.Errorf("gl: insert reversal header: %w", err)
	}
	if err := tx.MarkReversed(ctx, original.ID, reversal.ID); err != nil {
		return ReversePair{}, fmt.Errorf("gl: mark reversed: %w", err)
	}
	original.Status = HeaderStatusReversed
	original.ReversedBy = &reversal.ID
	return ReversePair{Original: original, Reversal: reversal}, nil
}

func defaultReversalMemo(memo string, original Header) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of %s %s", original.SourceType, original.SourceID)
}
