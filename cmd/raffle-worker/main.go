// Command raffle-worker keeps stored raffle ledgers current. It re-syncs every
// active raffle on a cron schedule, publishes each update over NATS, and
// answers scan requests from other services.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
	"github.com/WessleyAI/raffle-ledger/engine/service"
	"github.com/WessleyAI/raffle-ledger/pkg/config"
	"github.com/WessleyAI/raffle-ledger/pkg/fn"
	"github.com/WessleyAI/raffle-ledger/pkg/metrics"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("RAFFLE_CONFIG"))
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	reg.ServeAsync(ctx, fmt.Sprintf(":%d", cfg.Server.MetricsPort), log)

	// Neo4j and NATS may still be starting alongside the worker.
	startup := fn.RetryOpts{
		MaxAttempts: 5, InitialWait: time.Second, MaxWait: 15 * time.Second, Jitter: true,
		// Validation errors are permanent.
		Retryable: func(err error) bool {
			var ve *domain.ValidationError
			return !errors.As(err, &ve)
		},
	}
	comps, err := fn.Retry(ctx, startup, func(ctx context.Context) fn.Result[*service.Components] {
		return fn.FromPair(service.Build(ctx, cfg, reg, log))
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer comps.Close()

	nc, err := fn.Retry(ctx, startup, func(context.Context) fn.Result[*nats.Conn] {
		return fn.FromPair(nats.Connect(cfg.NATS.URL, nats.Name("raffle-worker"), nats.MaxReconnects(-1)))
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	log.Info("connected to NATS", "url", cfg.NATS.URL)

	w := newWorker(service.New(comps.Parser, comps.Ledger, log), nc, cfg, reg, log)
	sub, err := w.serve()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.NATS.Subject, err)
	}

	c := cron.New(cron.WithChain(recoverJob(log), cron.DelayIfStillRunning(cron.DiscardLogger)))
	first, err := w.schedule(ctx, c, cfg.Worker.Schedule)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Worker.Schedule, err)
	}
	c.Start()
	log.Info("worker started", "schedule", cfg.Worker.Schedule, "subject", cfg.NATS.Subject)
	go first.Run()

	<-ctx.Done()
	log.Info("shutting down")
	<-c.Stop().Done()
	if err := sub.Drain(); err != nil {
		log.Warn("drain subscription", "err", err)
	}
	return nc.Drain()
}
