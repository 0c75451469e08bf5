package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/gl"
	"github.com/ledgerline/ledgerline/internal/inventory"
	"github.com/ledgerline/ledgerline/internal/money"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// Defaults are the org-level settings applied when a request's settings
// bundle leaves them unset.
type Defaults struct {
	NegativeStockPolicy inventory.StockPolicy
	UseEffectiveCutoff  bool
}

// Engine is the transaction-boundary service document services embed.
type Engine struct {
	logger   *slog.Logger
	store    Store
	guard    *shared.IdempotencyGuard
	audit    shared.AuditPort
	validate *validator.Validate
	defaults Defaults
	now      func() time.Time
}

// New builds an Engine.
func New(logger *slog.Logger, store Store, guard *shared.IdempotencyGuard, audit shared.AuditPort, defaults Defaults) *Engine {
	return &Engine{
		logger:   logger,
		store:    store,
		guard:    guard,
		audit:    audit,
		validate: validator.New(),
		defaults: defaults,
		now:      time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// PostDocument converts one calculated document into a posted GL header with
// balanced lines, resolving inventory costs and appending stock movements
// where items are involved. The whole operation runs in one transaction,
// deduplicated by the idempotency guard when a key is supplied.
func (e *Engine) PostDocument(ctx context.Context, req PostDocumentRequest) (PostDocumentResult, error) {
	if err := e.validate.Struct(req); err != nil {
		return PostDocumentResult{}, fmt.Errorf("engine: %v: %w", err, shared.ErrValidation)
	}
	settings := e.applyDefaults(req.Settings)

	var result PostDocumentResult
	op := func(ctx context.Context) (shared.GuardedResponse, error) {
		err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			res, err := e.post(ctx, tx, req, settings)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err != nil {
			return shared.GuardedResponse{}, err
		}
		body, err := json.Marshal(result)
		if err != nil {
			return shared.GuardedResponse{}, err
		}
		return shared.GuardedResponse{StatusCode: 201, Body: body}, nil
	}

	resp, err := e.guard.Do(ctx, req.OrgID, "post:"+string(req.SourceType), req.IdempotencyKey, req.ActorID, req, op)
	if err != nil {
		e.logger.Warn("post rejected",
			"org_id", req.OrgID, "source_type", req.SourceType, "source_id", req.SourceID, "error", err)
		return PostDocumentResult{}, err
	}
	if resp.Replayed {
		var replayed PostDocumentResult
		if err := json.Unmarshal(resp.Body, &replayed); err != nil {
			return PostDocumentResult{}, fmt.Errorf("engine: decode replayed response: %w", err)
		}
		replayed.Replayed = true
		return replayed, nil
	}

	e.logger.Info("document posted",
		"org_id", req.OrgID, "source_type", req.SourceType, "source_id", req.SourceID,
		"header_id", result.Header.ID, "total", result.Header.TotalDebit.StringFixed(money.CurrencyScale))
	e.recordAudit(ctx, shared.AuditLog{
		OrgID:    req.OrgID,
		ActorID:  req.ActorID,
		Action:   "gl.post",
		Entity:   "gl_header",
		EntityID: result.Header.ID.String(),
		Meta: map[string]any{
			"source_type": string(req.SourceType),
			"source_id":   req.SourceID,
		},
		At: e.now(),
	})
	if result.overrideUsed {
		e.recordOverrideAudit(ctx, req.OrgID, req.ActorID, settings, len(result.Warnings))
	}
	return result, nil
}

func (e *Engine) post(ctx context.Context, tx Tx, req PostDocumentRequest, settings PostingSettings) (PostDocumentResult, error) {
	postable := make([]gl.PostableLine, 0, len(req.Lines))
	var itemLines []inventory.DocumentLine
	for _, line := range req.Lines {
		postable = append(postable, gl.PostableLine{
			LineID:       line.LineID,
			AccountID:    line.AccountID,
			TaxAccountID: line.TaxAccountID,
			Subtotal:     line.Subtotal,
			Tax:          line.Tax,
			Description:  line.Description,
		})
		if line.ItemID != 0 && req.SourceType != gl.SourceTypeExpense {
			item, ok := req.ItemsByID[line.ItemID]
			if ok && item.TrackInventory {
				itemLines = append(itemLines, inventory.DocumentLine{
					LineID:   line.LineID,
					ItemID:   line.ItemID,
					Quantity: line.Quantity,
					UnitID:   line.UnitID,
				})
			}
		}
	}

	input := gl.DraftInput{
		Lines:           postable,
		AnchorAccountID: req.AnchorAccountID,
		CounterpartyRef: req.CounterpartyRef,
		Memo:            req.Memo,
	}
	var draft gl.Draft
	switch req.SourceType {
	case gl.SourceTypeInvoice:
		draft = gl.BuildInvoiceLines(input)
	case gl.SourceTypeBill:
		draft = gl.BuildBillLines(input)
	case gl.SourceTypeCreditNote:
		draft = gl.BuildCreditNoteLines(input)
	case gl.SourceTypeExpense:
		draft = gl.BuildExpenseLines(input)
	}

	result := PostDocumentResult{UnitCostByLine: map[string]decimal.Decimal{}}
	var costGL []gl.Line
	var movements []inventory.Movement

	if len(itemLines) > 0 {
		switch req.SourceType {
		case gl.SourceTypeInvoice, gl.SourceTypeCreditNote:
			res, err := e.resolveCosts(ctx, tx, req, settings, itemLines)
			if err != nil {
				return PostDocumentResult{}, err
			}
			result.CostLines = res.CostLines
			result.UnitCostByLine = res.UnitCostByLine
			outbound := req.SourceType == gl.SourceTypeInvoice
			costGL = gl.BuildInventoryCostLines(res.CostLines, outbound)
			for _, cl := range res.CostLines {
				qty := cl.BaseQty
				if outbound {
					qty = qty.Neg()
				}
				movements = append(movements, e.newMovement(req, cl.LineID, cl.ItemID, qty, cl.UnitCost))
			}
		case gl.SourceTypeBill:
			// Bills receive stock at the bill line's own price; these inbound
			// movements are what later weighted averages are computed from.
			ms, err := e.billMovements(req, itemLines)
			if err != nil {
				return PostDocumentResult{}, err
			}
			movements = ms
		}
	}

	if req.SourceType == gl.SourceTypeInvoice && len(movements) > 0 {
		warnings, overridden, err := e.checkStock(ctx, tx, req.OrgID, req.PostingDate, settings, movements)
		if err != nil {
			return PostDocumentResult{}, err
		}
		result.Warnings = warnings
		result.overrideUsed = overridden
	}

	lines := draft.Combine(costGL)
	totals, err := gl.ValidateLines(lines)
	if err != nil {
		return PostDocumentResult{}, err
	}

	header := gl.Header{
		ID:          uuid.New(),
		OrgID:       req.OrgID,
		SourceType:  req.SourceType,
		SourceID:    req.SourceID,
		PostingDate: req.PostingDate,
		Currency:    req.Currency,
		TotalDebit:  totals.TotalDebit,
		TotalCredit: totals.TotalCredit,
		Status:      gl.HeaderStatusPosted,
		Memo:        req.Memo,
		PostedBy:    req.ActorID,
		PostedAt:    e.now(),
		Lines:       roundLines(lines),
	}
	if err := tx.InsertHeader(ctx, header); err != nil {
		return PostDocumentResult{}, err
	}
	for _, m := range movements {
		if err := tx.InsertMovement(ctx, m); err != nil {
			return PostDocumentResult{}, err
		}
	}
	result.Header = header
	return result, nil
}

// VoidDocument reverses a posted header: a mirror header with debits and
// credits swapped, plus compensating inventory movements replaying the
// original unit costs. Reductions implied by the reversal go through the
// negative-stock policy.
func (e *Engine) VoidDocument(ctx context.Context, req VoidDocumentRequest) (VoidDocumentResult, error) {
	if err := e.validate.Struct(req); err != nil {
		return VoidDocumentResult{}, fmt.Errorf("engine: %v: %w", err, shared.ErrValidation)
	}
	settings := e.applyDefaults(req.Settings)

	var result VoidDocumentResult
	op := func(ctx context.Context) (shared.GuardedResponse, error) {
		err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			res, err := e.void(ctx, tx, req, settings)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err != nil {
			return shared.GuardedResponse{}, err
		}
		body, err := json.Marshal(result)
		if err != nil {
			return shared.GuardedResponse{}, err
		}
		return shared.GuardedResponse{StatusCode: 200, Body: body}, nil
	}

	resp, err := e.guard.Do(ctx, req.OrgID, "void", req.IdempotencyKey, req.ActorID, req, op)
	if err != nil {
		e.logger.Warn("void rejected", "org_id", req.OrgID, "header_id", req.HeaderID, "error", err)
		return VoidDocumentResult{}, err
	}
	if resp.Replayed {
		var replayed VoidDocumentResult
		if err := json.Unmarshal(resp.Body, &replayed); err != nil {
			return VoidDocumentResult{}, fmt.Errorf("engine: decode replayed response: %w", err)
		}
		replayed.Replayed = true
		return replayed, nil
	}

	if !result.AlreadyReversed {
		e.logger.Info("document voided",
			"org_id", req.OrgID, "header_id", result.Original.ID, "reversal_id", result.Reversal.ID)
		e.recordAudit(ctx, shared.AuditLog{
			OrgID:    req.OrgID,
			ActorID:  req.ActorID,
			Action:   "gl.reverse",
			Entity:   "gl_header",
			EntityID: result.Original.ID.String(),
			Meta:     map[string]any{"reversal_id": result.Reversal.ID.String()},
			At:       e.now(),
		})
		if result.overrideUsed {
			e.recordOverrideAudit(ctx, req.OrgID, req.ActorID, settings, len(result.Warnings))
		}
	}
	return result, nil
}

func (e *Engine) void(ctx context.Context, tx Tx, req VoidDocumentRequest, settings PostingSettings) (VoidDocumentResult, error) {
	pair, err := gl.Reverse(ctx, tx, gl.ReverseInput{
		OrgID:        req.OrgID,
		HeaderID:     req.HeaderID,
		ActorID:      req.ActorID,
		Memo:         req.Memo,
		ReversalDate: req.ReversalDate,
	}, e.now())
	if err != nil {
		return VoidDocumentResult{}, err
	}
	result := VoidDocumentResult{
		Original:        pair.Original,
		Reversal:        pair.Reversal,
		AlreadyReversed: pair.AlreadyReversed,
	}
	if pair.AlreadyReversed {
		return result, nil
	}

	original := pair.Original
	movements, err := tx.ListMovementsBySource(ctx, original.OrgID, string(original.SourceType), original.SourceID)
	if err != nil {
		return VoidDocumentResult{}, err
	}
	if len(movements) == 0 {
		return result, nil
	}

	mirrors := make([]inventory.Movement, 0, len(movements))
	for _, m := range movements {
		// The original unit cost is replayed unchanged, never recomputed, so
		// the reversal stays an exact mirror of the posted effect.
		mirror := inventory.Movement{
			ID:           uuid.New(),
			OrgID:        m.OrgID,
			ItemID:       m.ItemID,
			Quantity:     m.Quantity.Neg(),
			UnitCost:     m.UnitCost,
			SourceType:   m.SourceType,
			SourceID:     gl.ReversalSourcePrefix + original.ID.String(),
			SourceLineID: m.SourceLineID,
			EffectiveAt:  pair.Reversal.PostingDate,
			CreatedAt:    e.now(),
		}
		mirrors = append(mirrors, mirror)
	}

	warnings, overridden, err := e.checkStock(ctx, tx, req.OrgID, pair.Reversal.PostingDate, settings, mirrors)
	if err != nil {
		return VoidDocumentResult{}, err
	}
	result.Warnings = warnings
	result.overrideUsed = overridden

	for _, m := range mirrors {
		if err := tx.InsertMovement(ctx, m); err != nil {
			return VoidDocumentResult{}, err
		}
	}
	return result, nil
}

func (e *Engine) resolveCosts(ctx context.Context, tx Tx, req PostDocumentRequest, settings PostingSettings, itemLines []inventory.DocumentLine) (inventory.CostResolution, error) {
	itemIDs := make([]int64, 0, len(itemLines))
	seen := make(map[int64]bool)
	for _, l := range itemLines {
		if !seen[l.ItemID] {
			seen[l.ItemID] = true
			itemIDs = append(itemIDs, l.ItemID)
		}
	}
	history, err := tx.ListInboundCosted(ctx, req.OrgID, itemIDs)
	if err != nil {
		return inventory.CostResolution{}, err
	}
	return inventory.ResolveCosts(inventory.ResolveInput{
		OrgID:              req.OrgID,
		EffectiveAt:        req.PostingDate,
		Lines:              itemLines,
		ItemsByID:          req.ItemsByID,
		UnitRates:          req.UnitRates,
		UseEffectiveCutoff: *settings.UseEffectiveCutoff,
	}, history)
}

func (e *Engine) billMovements(req PostDocumentRequest, itemLines []inventory.DocumentLine) ([]inventory.Movement, error) {
	subtotals := make(map[string]decimal.Decimal, len(req.Lines))
	for _, line := range req.Lines {
		subtotals[line.LineID] = line.Subtotal
	}
	var movements []inventory.Movement
	for _, l := range itemLines {
		item := req.ItemsByID[l.ItemID]
		baseQty, err := inventory.BaseQuantity(l, item, req.UnitRates)
		if err != nil {
			return nil, err
		}
		if baseQty.IsZero() {
			continue
		}
		unitCost, err := money.Div(subtotals[l.LineID], baseQty, money.UnitCostScale)
		if err != nil {
			return nil, fmt.Errorf("line %s: %w", l.LineID, err)
		}
		movements = append(movements, e.newMovement(req, l.LineID, l.ItemID, baseQty, unitCost))
	}
	return movements, nil
}

// checkStock evaluates the negative-stock policy for the outbound movements
// in the batch; inbound movements never need checking. The returned flag
// reports a BLOCK violation that proceeded under an override, so the caller
// can audit it once the transaction has committed.
func (e *Engine) checkStock(ctx context.Context, tx Tx, orgID int64, asOf time.Time, settings PostingSettings, movements []inventory.Movement) ([]inventory.NegativeStockIssue, bool, error) {
	issueByItem := make(map[int64]decimal.Decimal)
	var order []int64
	for _, m := range movements {
		if !m.Quantity.IsNegative() {
			continue
		}
		if _, ok := issueByItem[m.ItemID]; !ok {
			order = append(order, m.ItemID)
		}
		issueByItem[m.ItemID] = issueByItem[m.ItemID].Add(m.Quantity.Neg())
	}
	if len(order) == 0 {
		return nil, false, nil
	}

	entries := make([]inventory.ProjectedIssue, 0, len(order))
	for _, itemID := range order {
		onHand, err := tx.OnHand(ctx, orgID, itemID, asOf, *settings.UseEffectiveCutoff)
		if err != nil {
			return nil, false, err
		}
		entries = append(entries, inventory.ProjectedIssue{
			ItemID:    itemID,
			OnHandQty: onHand,
			IssueQty:  issueByItem[itemID],
		})
	}
	issues := inventory.DetectNegativeStock(entries)
	warnings, err := inventory.AssertStockPolicy(settings.NegativeStockPolicy, issues, settings.OverrideNegativeStock)
	if err != nil {
		return nil, false, err
	}
	overridden := len(issues) > 0 &&
		settings.NegativeStockPolicy == inventory.StockPolicyBlock &&
		settings.OverrideNegativeStock
	return warnings, overridden, nil
}

func (e *Engine) newMovement(req PostDocumentRequest, lineID string, itemID int64, qty, unitCost decimal.Decimal) inventory.Movement {
	return inventory.Movement{
		ID:           uuid.New(),
		OrgID:        req.OrgID,
		ItemID:       itemID,
		Quantity:     qty,
		UnitCost:     decimal.NullDecimal{Decimal: unitCost, Valid: true},
		SourceType:   string(req.SourceType),
		SourceID:     req.SourceID,
		SourceLineID: lineID,
		EffectiveAt:  req.PostingDate,
		CreatedAt:    e.now(),
	}
}

func (e *Engine) applyDefaults(s PostingSettings) PostingSettings {
	if s.NegativeStockPolicy == "" {
		s.NegativeStockPolicy = e.defaults.NegativeStockPolicy
	}
	if s.UseEffectiveCutoff == nil {
		cutoff := e.defaults.UseEffectiveCutoff
		s.UseEffectiveCutoff = &cutoff
	}
	return s
}

// recordOverrideAudit writes the negative-stock override trail entry. Called
// only after the guarded transaction commits; a rolled-back posting must not
// leave an override record behind.
func (e *Engine) recordOverrideAudit(ctx context.Context, orgID, actorID int64, settings PostingSettings, items int) {
	e.recordAudit(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   "inventory.negative_stock_override",
		Entity:   "stock_policy",
		EntityID: fmt.Sprintf("org:%d", orgID),
		Meta: map[string]any{
			"reason": settings.OverrideReason,
			"items":  items,
		},
		At: e.now(),
	})
}

func (e *Engine) recordAudit(ctx context.Context, log shared.AuditLog) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, log); err != nil {
		e.logger.Error("audit record failed", "action", log.Action, "error", err)
	}
}

// roundLines normalizes all line amounts to currency scale for persistence.
func roundLines(lines []gl.Line) []gl.Line {
	for i := range lines {
		lines[i].Debit = money.RoundCurrency(lines[i].Debit)
		lines[i].Credit = money.RoundCurrency(lines[i].Credit)
	}
	return lines
}
