package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attaboy/casino-ledger/internal/app"
	"github.com/attaboy/casino-ledger/internal/events"
	"github.com/attaboy/casino-ledger/internal/guard"
	"github.com/attaboy/casino-ledger/internal/infra"
	"github.com/attaboy/casino-ledger/internal/reconcile"
	"github.com/attaboy/casino-ledger/internal/settlement"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("reconciler failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *infra.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.StorageDriver == infra.StorageMemory {
		return fmt.Errorf("reconciler needs shared storage, got %q", cfg.StorageDriver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := app.OpenStorage(ctx, cfg, "casino-ledger-reconciler", logger)
	if err != nil {
		return err
	}
	defer storage.Close()
	logger.Info("reconciler connected to storage")

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()
	dispatcher := infra.NewDispatcher(producer, guard.NewCircuitBreaker(5, 30*time.Second),
		cfg.KafkaTopicPrefix, cfg.EventBufferSize, logger)

	svc := app.NewServices(storage.Store, events.Fanout{events.NewLogSink(logger), dispatcher}, logger,
		settlement.WithCompensation(cfg.CompensateAttempts, 50*time.Millisecond))
	rec := reconcile.New(svc.Ledger, svc.Sessions, svc.Settlement, reconcile.Config{
		SessionIdleTimeout:  cfg.SessionIdleTimeout,
		PendingRoundTimeout: cfg.PendingRoundTimeout,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return rec.Run(gctx, cfg.ReconcileInterval) })
	return g.Wait()
}
