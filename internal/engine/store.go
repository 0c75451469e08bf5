package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/gl"
	"github.com/ledgerline/ledgerline/internal/inventory"
	"github.com/ledgerline/ledgerline/internal/platform/db"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// PGStore is the PostgreSQL-backed Store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// WithTx runs fn inside one RepeatableRead transaction.
func (s *PGStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetHeaderWithLines(ctx context.Context, headerID uuid.UUID) (gl.Header, error) {
	var h gl.Header
	err := t.tx.QueryRow(ctx,
		`SELECT id, org_id, source_type, source_id, posting_date, currency, total_debit, total_credit, status, reversed_by, memo, posted_by, posted_at
		   FROM gl_headers WHERE id=$1`, headerID,
	).Scan(&h.ID, &h.OrgID, &h.SourceType, &h.SourceID, &h.PostingDate, &h.Currency,
		&h.TotalDebit, &h.TotalCredit, &h.Status, &h.ReversedBy, &h.Memo, &h.PostedBy, &h.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return gl.Header{}, shared.ErrNotFound
		}
		return gl.Header{}, fmt.Errorf("engine: get header: %w", err)
	}

	rows, err := t.tx.Query(ctx,
		`SELECT line_no, account_id, debit, credit, description, counterparty_ref
		   FROM gl_lines WHERE header_id=$1 ORDER BY line_no`, headerID)
	if err != nil {
		return gl.Header{}, fmt.Errorf("engine: get lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line gl.Line
		if err := rows.Scan(&line.LineNo, &line.AccountID, &line.Debit, &line.Credit, &line.Description, &line.CounterpartyRef); err != nil {
			return gl.Header{}, err
		}
		h.Lines = append(h.Lines, line)
	}
	return h, rows.Err()
}

func (t *pgTx) InsertHeader(ctx context.Context, h gl.Header) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO gl_headers (id, org_id, source_type, source_id, posting_date, currency, total_debit, total_credit, status, memo, posted_by, posted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		h.ID, h.OrgID, h.SourceType, h.SourceID, h.PostingDate, h.Currency,
		h.TotalDebit, h.TotalCredit, h.Status, h.Memo, h.PostedBy, h.PostedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return gl.ErrAlreadyPosted
		}
		return fmt.Errorf("engine: insert header: %w", err)
	}
	for _, line := range h.Lines {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO gl_lines (header_id, line_no, account_id, debit, credit, description, counterparty_ref)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			h.ID, line.LineNo, line.AccountID, line.Debit, line.Credit, line.Description, line.CounterpartyRef)
		if err != nil {
			return fmt.Errorf("engine: insert line %d: %w", line.LineNo, err)
		}
	}
	return nil
}

func (t *pgTx) MarkReversed(ctx context.Context, originalID, reversalID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE gl_headers SET status=$1, reversed_by=$2 WHERE id=$3 AND status=$4`,
		gl.HeaderStatusReversed, reversalID, originalID, gl.HeaderStatusPosted)
	if err != nil {
		return fmt.Errorf("engine: mark reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gl.ErrNotPosted
	}
	return nil
}

func (t *pgTx) InsertMovement(ctx context.Context, m inventory.Movement) error {
	effective := pgtype.Timestamptz{Time: m.EffectiveAt, Valid: !m.EffectiveAt.IsZero()}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO inventory_movements (id, org_id, item_id, quantity, unit_cost, source_type, source_id, source_line_id, effective_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.OrgID, m.ItemID, m.Quantity, m.UnitCost, m.SourceType, m.SourceID, m.SourceLineID, effective, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("engine: insert movement: %w", err)
	}
	return nil
}

func (t *pgTx) ListInboundCosted(ctx context.Context, orgID int64, itemIDs []int64) ([]inventory.Movement, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, org_id, item_id, quantity, unit_cost, source_type, source_id, source_line_id, effective_at, created_at
		   FROM inventory_movements
		  WHERE org_id=$1 AND item_id = ANY($2) AND quantity > 0 AND unit_cost IS NOT NULL
		  ORDER BY COALESCE(effective_at, created_at), created_at`,
		orgID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("engine: list inbound movements: %w", err)
	}
	return scanMovements(rows)
}

func (t *pgTx) ListMovementsBySource(ctx context.Context, orgID int64, sourceType, sourceID string) ([]inventory.Movement, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, org_id, item_id, quantity, unit_cost, source_type, source_id, source_line_id, effective_at, created_at
		   FROM inventory_movements
		  WHERE org_id=$1 AND source_type=$2 AND source_id=$3
		  ORDER BY created_at`,
		orgID, sourceType, sourceID)
	if err != nil {
		return nil, fmt.Errorf("engine: list movements by source: %w", err)
	}
	return scanMovements(rows)
}

func (t *pgTx) OnHand(ctx context.Context, orgID, itemID int64, asOf time.Time, useCutoff bool) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)
		   FROM inventory_movements
		  WHERE org_id=$1 AND item_id=$2
		    AND (NOT $3::bool OR COALESCE(effective_at, created_at) <= $4)`,
		orgID, itemID, useCutoff, asOf).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("engine: on-hand: %w", err)
	}
	return sum, nil
}

func scanMovements(rows pgx.Rows) ([]inventory.Movement, error) {
	defer rows.Close()
	var out []inventory.Movement
	for rows.Next() {
		var m inventory.Movement
		var effective pgtype.Timestamptz
		if err := rows.Scan(&m.ID, &m.OrgID, &m.ItemID, &m.Quantity, &m.UnitCost,
			&m.SourceType, &m.SourceID, &m.SourceLineID, &effective, &m.CreatedAt); err != nil {
			return nil, err
		}
		if effective.Valid {
			m.EffectiveAt = effective.Time
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
