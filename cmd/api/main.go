// Package main implements the raffle-ledger API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/raffle-ledger/engine/service"
	"github.com/WessleyAI/raffle-ledger/pkg/config"
	"github.com/WessleyAI/raffle-ledger/pkg/metrics"
	"github.com/WessleyAI/raffle-ledger/pkg/mid"
)

const maxBody = 1 << 20

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("RAFFLE_CONFIG"))
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// Without a Neo4j URL the API serves stateless scans only.
	build := service.Build
	if cfg.Neo4j.URL == "" {
		build = service.BuildParser
	}
	comps, err := build(ctx, cfg, reg, logger)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer comps.Close()

	a := &api{log: logger, corrections: comps.Corrections}
	if comps.Ledger != nil {
		svc := service.New(comps.Parser, comps.Ledger, logger)
		a.scan, a.sync, a.raffles = svc, svc, comps.Ledger
	} else {
		a.scan = service.New(comps.Parser, nil, logger)
	}

	mux := http.NewServeMux()
	a.routes(mux)
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.OTel("raffle-api"),
		mid.BodyLimit(maxBody),
	)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: handler,
		// Scans wait on Reddit and the model, so writes get a long budget.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port, "ledger", comps.Ledger != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
