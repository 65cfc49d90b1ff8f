package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/api"
	"github.com/baharkarakas/wallet-ledger/internal/api/handlers"
	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/config"
	"github.com/baharkarakas/wallet-ledger/internal/db"
	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/logger"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/outbox"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/baharkarakas/wallet-ledger/internal/repository/memory"
	"github.com/baharkarakas/wallet-ledger/internal/repository/postgres"
	"github.com/baharkarakas/wallet-ledger/internal/services"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
)

type backend struct {
	users  repository.Users
	store  repository.Store
	outbox repository.Outbox
	close  func()
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Error("storage", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer be.close()

	metrics.Init()

	engine := ledger.NewEngine(be.store, log, ledger.Options{
		MaxRetries:  cfg.LedgerMaxRetries,
		LockTimeout: cfg.LedgerLockTimeout,
		Backoff:     cfg.LedgerRetryBackoff,
	})
	deps := services.Deps{Engine: engine, Log: log}
	tm := auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)

	r := api.NewRouter(api.RouterDeps{
		Env:     cfg.Env,
		RateRPS: cfg.RateRPS,
		TM:      tm,
		Auth:    handlers.NewAuthHandler(tm, services.NewUserService(be.users, be.store)),
		Ledger: &handlers.LedgerHandler{
			Records:     be.store,
			Balances:    services.NewBalanceService(deps),
			Trades:      services.NewTradeService(deps),
			Investments: services.NewInvestmentService(deps),
			Crypto:      services.NewCryptoService(deps, be.users, cfg.ReferralCommissionPercent),
			CopyTrades:  services.NewCopyTradeService(deps),
			Loans:       services.NewLoanService(deps),
		},
	})

	// the memory store is only visible in-process
	dispatcherDone := make(chan struct{})
	if cfg.OutboxEmbedded || cfg.StoreDriver == "memory" {
		pub, closePub := outbox.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		wp := worker.NewPool(cfg.OutboxWorkers, cfg.OutboxBatchSize)
		d := outbox.NewDispatcher(be.outbox, pub, wp, log, outbox.Options{
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
			Interval:     cfg.OutboxInterval,
			Lease:        cfg.OutboxLease,
			RetryBackoff: cfg.OutboxRetryBackoff,
		})
		go func() {
			defer close(dispatcherDone)
			defer wp.Stop()
			defer func() { _ = closePub() }()
			log.Info("outbox dispatcher starting", "kafka", len(cfg.KafkaBrokers) > 0)
			_ = d.Run(ctx)
		}()
	} else {
		close(dispatcherDone)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
	<-dispatcherDone
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (backend, error) {
	switch cfg.StoreDriver {
	case "memory":
		store := memory.NewStore()
		return backend{
			users:  memory.NewUsers(),
			store:  store,
			outbox: memory.NewOutbox(store),
			close:  func() {},
		}, nil
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
		if err != nil {
			return backend{}, fmt.Errorf("db connect: %w", err)
		}
		if cfg.Migrate {
			if err := db.RunMigrations(ctx, pool, log); err != nil {
				pool.Close()
				return backend{}, fmt.Errorf("migrations: %w", err)
			}
		}
		repos := postgres.NewRepositories(pool, cfg.LedgerLockTimeout)
		return backend{users: repos.Users, store: repos.Store, outbox: repos.Outbox, close: pool.Close}, nil
	default:
		return backend{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
