// Command sweeper deletes idempotency records older than the configured
// retention window. Run it from cron or a scheduler sidecar.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ledgerline/ledgerline/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	rt, err := app.NewRuntime(ctx, cfg)
	if err != nil {
		logger.Error("init runtime", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	if err := rt.Idempotency.Cleanup(ctx, cfg.IdempotencyRetention); err != nil {
		logger.Error("sweep idempotency keys", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("idempotency keys swept", slog.Duration("retention", cfg.IdempotencyRetention))
}
