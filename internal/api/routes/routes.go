// Package routes wires the HTTP capability surface: health probes, metrics,
// deposit queries, manual scans, and withdrawal execution.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/custody-service/custody_service/internal/api/handlers"
	"github.com/custody-service/custody_service/internal/api/middleware"
	"github.com/custody-service/custody_service/internal/infrastructure/cache"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
	"github.com/custody-service/custody_service/pkg/logger"
)

// Dependencies carries everything the route tree needs
type Dependencies struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *sqlx.DB
	Redis        cache.RedisClient
	Scanner      handlers.ChainScanner
	Deposits     handlers.DepositReader
	Balances     handlers.BalanceReader
	Withdrawals  handlers.WithdrawalExecutor
	Transactions handlers.TransactionReader
}

// SetupRoutes configures all application routes
func SetupRoutes(deps Dependencies) *gin.Engine {
	if deps.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware - order matters
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.InputValidation())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(deps.Config.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	coreHandlers := handlers.NewCoreHandlers(deps.DB, deps.Redis, deps.Logger)
	depositHandlers := handlers.NewDepositHandlers(deps.Scanner, deps.Deposits, deps.Balances, deps.Logger)
	withdrawalHandlers := handlers.NewWithdrawalHandlers(deps.Withdrawals, deps.Transactions, deps.Logger)

	// Health checks and metrics
	router.GET("/health", coreHandlers.Health)
	router.GET("/ready", coreHandlers.Ready)
	router.GET("/live", coreHandlers.Live)
	router.GET("/metrics", coreHandlers.Metrics)

	v1 := router.Group("/v1")
	{
		v1.POST("/scans/:chain", depositHandlers.TriggerScan)
		v1.GET("/deposits/stats/:chain", depositHandlers.Stats)
		v1.GET("/users/:user_id/deposits", depositHandlers.ListUserDeposits)
		v1.GET("/users/:user_id/balances", depositHandlers.ListUserBalances)
		v1.GET("/users/:user_id/transactions", withdrawalHandlers.ListUserTransactions)

		v1.POST("/withdrawals", withdrawalHandlers.Create)
		v1.GET("/withdrawals/quote", withdrawalHandlers.Quote)
		v1.GET("/withdrawals/fees", withdrawalHandlers.Fees)
		v1.GET("/withdrawals/reserves", withdrawalHandlers.Reserves)
	}

	return router
}
