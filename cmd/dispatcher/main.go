package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/config"
	"github.com/baharkarakas/wallet-ledger/internal/db"
	"github.com/baharkarakas/wallet-ledger/internal/logger"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/outbox"
	"github.com/baharkarakas/wallet-ledger/internal/repository/postgres"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
)

// Standalone outbox dispatcher. Several instances may run side by side;
// claims are leased with SKIP LOCKED.
func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env).With("component", "dispatcher")
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	metrics.Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "err", err)
		}
	}()

	pub, closePub := outbox.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	defer func() { _ = closePub() }()

	wp := worker.NewPool(cfg.OutboxWorkers, cfg.OutboxBatchSize)
	defer wp.Stop()

	repos := postgres.NewRepositories(pool, cfg.LedgerLockTimeout)
	d := outbox.NewDispatcher(repos.Outbox, pub, wp, log, outbox.Options{
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		Interval:     cfg.OutboxInterval,
		Lease:        cfg.OutboxLease,
		RetryBackoff: cfg.OutboxRetryBackoff,
	})

	log.Info("dispatcher starting", "kafka_brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic, "workers", cfg.OutboxWorkers)
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("dispatcher", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("dispatcher stopped")
}
