package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/custody-service/custody_service/internal/adapters/chain"
	ethereumchain "github.com/custody-service/custody_service/internal/adapters/chain/ethereum"
	solanachain "github.com/custody-service/custody_service/internal/adapters/chain/solana"
	tronchain "github.com/custody-service/custody_service/internal/adapters/chain/tron"
	"github.com/custody-service/custody_service/internal/adapters/oracle"
	"github.com/custody-service/custody_service/internal/api/routes"
	"github.com/custody-service/custody_service/internal/domain/services/deposit"
	"github.com/custody-service/custody_service/internal/domain/services/poller"
	"github.com/custody-service/custody_service/internal/domain/services/sweep"
	"github.com/custody-service/custody_service/internal/domain/services/withdrawal"
	"github.com/custody-service/custody_service/internal/infrastructure/cache"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
	"github.com/custody-service/custody_service/internal/infrastructure/database"
	"github.com/custody-service/custody_service/internal/infrastructure/repositories"
	"github.com/custody-service/custody_service/internal/workers/sweeper"
	"github.com/custody-service/custody_service/pkg/crypto"
	"github.com/custody-service/custody_service/pkg/graceful"
	"github.com/custody-service/custody_service/pkg/logger"
	"github.com/custody-service/custody_service/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
	}

	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	// Initialize database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Failed to close database connection", "error", err)
		}
	}()

	// Run migrations
	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Pool stats feed the connection gauge until shutdown
	poolStatsCtx, stopPoolStats := context.WithCancel(context.Background())
	defer stopPoolStats()
	go database.ReportPoolStats(poolStatsCtx, db)

	// Initialize redis
	redisClient, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
	if err != nil {
		log.Fatal("Failed to connect to redis", "error", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Warn("Failed to close redis connection", "error", err)
		}
	}()

	// Key vault decrypts wallet and pool signing keys
	vault, err := crypto.NewKeyVault(cfg.Vault.MasterKey)
	if err != nil {
		log.Fatal("Failed to initialize key vault", "error", err)
	}

	// Repositories
	depositRepo := repositories.NewDepositRepository(db, log.Zap())
	balanceRepo := repositories.NewBalanceRepository(db, log.Zap())
	walletRepo := repositories.NewWalletRepository(db)
	transactionRepo := repositories.NewTransactionRepository(db)

	// Chain adapters for every enabled chain
	var adapters []chain.Adapter
	if cfg.Chains.Solana.Enabled {
		adapters = append(adapters, solanachain.NewAdapter(cfg.Chains.Solana, log.Zap()))
	}
	if cfg.Chains.Ethereum.Enabled {
		adapters = append(adapters, ethereumchain.NewAdapter(cfg.Chains.Ethereum, log.Zap()))
	}
	if cfg.Chains.Tron.Enabled {
		adapters = append(adapters, tronchain.NewAdapter(cfg.Chains.Tron, log.Zap()))
	}
	if len(adapters) == 0 {
		log.Fatal("No chains enabled")
	}

	// Price oracle
	rateOracle := oracle.NewClient(oracle.Config{
		APIKey:     cfg.Oracle.APIKey,
		BaseURL:    cfg.Oracle.BaseURL,
		Timeout:    time.Duration(cfg.Oracle.Timeout) * time.Second,
		MaxRetries: cfg.Oracle.MaxRetries,
	}, log)

	// Deposit pipeline
	processor := deposit.NewProcessor(
		db,
		depositRepo,
		balanceRepo,
		cache.NewProcessedTxCache(redisClient),
		rateOracle,
		log,
	)

	scheduler := poller.NewScheduler(adapters, cfg.Chains, walletRepo, processor, log)
	if err := scheduler.Start(context.Background()); err != nil {
		log.Fatal("Failed to start deposit poller", "error", err)
	}
	log.Info("Deposit poller started")

	// Sweep engine and its cron worker
	sweepEngine := sweep.NewEngine(
		adapters,
		cfg.Chains,
		cfg.Sweep,
		walletRepo,
		transactionRepo,
		vault,
		log,
	)
	sweepWorker := sweeper.NewWorker(sweepEngine, cfg.Sweep, log.Zap())
	if err := sweepWorker.Start(); err != nil {
		log.Fatal("Failed to start sweep worker", "error", err)
	}

	// Withdrawal engine
	withdrawalEngine := withdrawal.NewEngine(
		adapters,
		cfg.Chains,
		cfg.Withdrawal,
		balanceRepo,
		transactionRepo,
		vault,
		log,
	)

	// HTTP surface
	router := routes.SetupRoutes(routes.Dependencies{
		Config:       cfg,
		Logger:       log,
		DB:           db,
		Redis:        redisClient,
		Scanner:      scheduler,
		Deposits:     depositRepo,
		Balances:     balanceRepo,
		Withdrawals:  withdrawalEngine,
		Transactions: transactionRepo,
	})

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
		)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ordered shutdown on SIGINT/SIGTERM
	shutdown := graceful.NewManager(30*time.Second, log.Zap())
	shutdown.Register("sweep-worker", func(ctx context.Context) error {
		sweepWorker.Stop()
		return nil
	})
	shutdown.Register("deposit-poller", scheduler.Stop)
	shutdown.Register("http-server", server.Shutdown)
	shutdown.Wait()

	log.Info("Server exited gracefully")
}
