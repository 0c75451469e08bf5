package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/engine"
	"github.com/ledgerline/ledgerline/internal/platform/db"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// Runtime is the composition root: everything an embedding document service
// needs to post, void and query, built from one Config.
type Runtime struct {
	Config      *Config
	Pool        *pgxpool.Pool
	Engine      *engine.Engine
	Idempotency *shared.IdempotencyStore
	Audit       *shared.AuditLogger
}

// NewRuntime connects to PostgreSQL and wires the posting engine with its
// stores, guard and audit sink.
func NewRuntime(ctx context.Context, cfg *Config) (*Runtime, error) {
	logger := NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("app: connect database: %w", err)
	}

	idem := shared.NewIdempotencyStore(pool)
	audit := shared.NewAuditLogger(pool)
	eng := engine.New(
		logger,
		engine.NewPGStore(pool),
		shared.NewIdempotencyGuard(idem),
		audit,
		engine.Defaults{
			NegativeStockPolicy: cfg.DefaultStockPolicy(),
			UseEffectiveCutoff:  cfg.CostingEffectiveCutoff,
		},
	)

	return &Runtime{
		Config:      cfg,
		Pool:        pool,
		Engine:      eng,
		Idempotency: idem,
		Audit:       audit,
	}, nil
}

// Close releases the database pool.
func (r *Runtime) Close() {
	r.Pool.Close()
}
