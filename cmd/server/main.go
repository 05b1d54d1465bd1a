package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vaultflow/vaultflow-backend/internal/adapter/httpapi"
	"github.com/vaultflow/vaultflow-backend/internal/adapter/repository/postgres"
	"github.com/vaultflow/vaultflow-backend/internal/config"
	"github.com/vaultflow/vaultflow-backend/internal/observability"
	"github.com/vaultflow/vaultflow-backend/internal/pricing"
	"github.com/vaultflow/vaultflow-backend/internal/roles"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/admin"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/bootstrap"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/ledger"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/operation"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/overview"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/settlement"
	"github.com/vaultflow/vaultflow-backend/internal/valuation"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	// Missing .env is fine outside local development.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := postgres.NewDB(cfg.Database.ConnString())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	vaultRepo := postgres.NewVaultRepository(db)
	receiptRepo := postgres.NewReceiptRepository(db)
	depositRepo := postgres.NewDepositRequestRepository(db)
	withdrawRepo := postgres.NewWithdrawRequestRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	registry := valuation.NewRegistry()
	feed := pricing.NewFeed(cfg.Vault.PriceUpdateInterval.Std())
	roleRegistry := roles.NewRegistry()

	positions := make([]valuation.Position, 0, len(cfg.Vault.Positions))
	for _, pos := range cfg.Vault.Positions {
		positions = append(positions, pos.Position())
	}
	bootstrapper := bootstrap.NewBootstrapper(vaultRepo, registry)
	err = bootstrapper.Ensure(context.Background(), bootstrap.VaultSeed{
		ID:               uuid.New(),
		PrincipalAsset:   cfg.Vault.PrincipalAsset,
		DepositFeeBps:    cfg.Vault.DepositFeeBps,
		WithdrawFeeBps:   cfg.Vault.WithdrawFeeBps,
		LossToleranceBps: cfg.Vault.LossToleranceBps,
		WithdrawLock:     cfg.Vault.WithdrawLock.Std(),
		CancelLock:       cfg.Vault.CancelLock.Std(),
		Positions:        positions,
	})
	if err != nil {
		logger.Fatal("failed to bootstrap vault", zap.Error(err))
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := observability.New(promRegistry)

	// Every mutating service shares one mutex: the vault is a single
	// logical actor.
	var vaultMu sync.Mutex

	ledgerService := ledger.NewService(vaultRepo, registry, feed, roleRegistry, cfg.Vault.PrincipalAsset, &vaultMu)
	settlementService := settlement.NewService(
		vaultRepo, receiptRepo, depositRepo, withdrawRepo,
		ledgerService, feed, roleRegistry, auditRepo,
		logger, metrics, cfg.Vault.PrincipalAsset, &vaultMu,
	)
	operationService := operation.NewService(
		vaultRepo, ledgerService, roleRegistry, auditRepo, logger, metrics,
		cfg.Vault.LossEpoch.Std(), cfg.Vault.FreshnessWindow.Std(), &vaultMu,
	)
	adminService := admin.NewService(vaultRepo, roleRegistry, auditRepo, logger, admin.Bounds{
		MaxFeeBps:           cfg.Vault.MaxFeeBps,
		MaxLossToleranceBps: cfg.Vault.MaxLossTolBps,
		MinLock:             cfg.Vault.MinLock.Std(),
		MaxLock:             cfg.Vault.MaxLock.Std(),
	}, &vaultMu)
	overviewService := overview.NewService(vaultRepo, receiptRepo)

	apiServer := httpapi.NewServer(
		settlementService, operationService, adminService, overviewService,
		ledgerService, auditRepo, feed,
		httpapi.Tokens{
			User:     cfg.Auth.UserToken,
			Operator: cfg.Auth.OperatorToken,
			Admin:    cfg.Auth.AdminToken,
		},
		metrics, logger,
	)
	metricsHandler := promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      apiServer.Routes(metricsHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	waitForShutdown(httpServer, logger)
}

// waitForShutdown waits for SIGTERM or SIGINT and drains the server.
func waitForShutdown(server *http.Server, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown did not complete cleanly", zap.Error(err))
	}
}
