package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/custody-service/custody_service/internal/domain/entities"
	"github.com/custody-service/custody_service/pkg/logger"
)

// ChainScanner triggers an out-of-band scan cycle for one chain
type ChainScanner interface {
	ScanOnce(ctx context.Context, chain entities.Chain) (int, error)
}

// DepositReader provides deposit history access
type DepositReader interface {
	Stats(ctx context.Context, chain entities.Chain) (*entities.DepositStats, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*entities.Deposit, error)
}

// BalanceReader provides ledger balance access
type BalanceReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*entities.Balance, error)
}

// DepositHandlers serves deposit queries and manual scan triggers
type DepositHandlers struct {
	scanner  ChainScanner
	deposits DepositReader
	balances BalanceReader
	logger   *logger.Logger
}

// NewDepositHandlers creates a new deposit handlers instance
func NewDepositHandlers(scanner ChainScanner, deposits DepositReader, balances BalanceReader, logger *logger.Logger) *DepositHandlers {
	return &DepositHandlers{
		scanner:  scanner,
		deposits: deposits,
		balances: balances,
		logger:   logger,
	}
}

// TriggerScan runs one poll cycle for a chain outside the regular cadence
func (h *DepositHandlers) TriggerScan(c *gin.Context) {
	chain, ok := entities.ParseChain(c.Param("chain"))
	if !ok {
		respondBadRequest(c, "unsupported chain")
		return
	}

	credited, err := h.scanner.ScanOnce(c.Request.Context(), chain)
	if err != nil {
		h.logger.Error("Manual scan failed",
			"chain", chain,
			"error", err,
			"request_id", getRequestID(c),
		)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chain":    chain,
		"credited": credited,
	})
}

// Stats returns aggregate deposit counts and volume for a chain
func (h *DepositHandlers) Stats(c *gin.Context) {
	chain, ok := entities.ParseChain(c.Param("chain"))
	if !ok {
		respondBadRequest(c, "unsupported chain")
		return
	}

	stats, err := h.deposits.Stats(c.Request.Context(), chain)
	if err != nil {
		h.logger.Error("Deposit stats query failed",
			"chain", chain,
			"error", err,
			"request_id", getRequestID(c),
		)
		respondInternalError(c, "failed to load deposit stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ListUserDeposits returns a user's deposit history, newest first
func (h *DepositHandlers) ListUserDeposits(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		respondBadRequest(c, "invalid user id")
		return
	}

	limit, offset := parsePagination(c)
	deposits, err := h.deposits.ListByUser(c.Request.Context(), userID.String(), limit, offset)
	if err != nil {
		h.logger.Error("Deposit list query failed",
			"user_id", userID,
			"error", err,
			"request_id", getRequestID(c),
		)
		respondInternalError(c, "failed to load deposits")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deposits": deposits,
		"limit":    limit,
		"offset":   offset,
	})
}

// ListUserBalances returns a user's ledger balances across currencies
func (h *DepositHandlers) ListUserBalances(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		respondBadRequest(c, "invalid user id")
		return
	}

	balances, err := h.balances.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Balance list query failed",
			"user_id", userID,
			"error", err,
			"request_id", getRequestID(c),
		)
		respondInternalError(c, "failed to load balances")
		return
	}

	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func parsePagination(c *gin.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
