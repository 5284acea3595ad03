package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/custody-service/custody_service/internal/domain/entities"
	"github.com/custody-service/custody_service/pkg/logger"
)

// WithdrawalExecutor runs withdrawals against the pool custody account
type WithdrawalExecutor interface {
	Execute(ctx context.Context, req *entities.WithdrawalRequest) (*entities.Transaction, error)
	CanWithdraw(ctx context.Context, req *entities.WithdrawalRequest) (*entities.WithdrawalQuote, error)
	FeeSchedule() map[string]decimal.Decimal
	MinimumReserves() map[string]decimal.Decimal
}

// TransactionReader provides outbound transaction history access
type TransactionReader interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*entities.Transaction, error)
}

// WithdrawalHandlers serves withdrawal execution and policy queries
type WithdrawalHandlers struct {
	executor     WithdrawalExecutor
	transactions TransactionReader
	logger       *logger.Logger
}

// NewWithdrawalHandlers creates a new withdrawal handlers instance
func NewWithdrawalHandlers(executor WithdrawalExecutor, transactions TransactionReader, logger *logger.Logger) *WithdrawalHandlers {
	return &WithdrawalHandlers{
		executor:     executor,
		transactions: transactions,
		logger:       logger,
	}
}

type withdrawalPayload struct {
	UserID             string `json:"user_id" binding:"required"`
	DestinationAddress string `json:"destination_address" binding:"required"`
	Amount             string `json:"amount" binding:"required"`
	Currency           string `json:"currency" binding:"required"`
	Network            string `json:"network" binding:"required"`
}

func (p *withdrawalPayload) toRequest() (*entities.WithdrawalRequest, error) {
	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return nil, err
	}

	chain, ok := entities.ParseChain(p.Network)
	if !ok {
		return nil, errUnsupportedNetwork
	}

	return &entities.WithdrawalRequest{
		UserID:             userID,
		DestinationAddress: p.DestinationAddress,
		Amount:             amount,
		Currency:           p.Currency,
		Network:            chain,
	}, nil
}

// Create executes a withdrawal from the pool to an external address
func (h *WithdrawalHandlers) Create(c *gin.Context) {
	var payload withdrawalPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	req, err := payload.toRequest()
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	tx, err := h.executor.Execute(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn("Withdrawal rejected",
			"user_id", req.UserID,
			"currency", req.Currency,
			"network", req.Network,
			"error", err,
			"request_id", getRequestID(c),
		)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tx)
}

// Quote dry-runs withdrawal policy without moving funds
func (h *WithdrawalHandlers) Quote(c *gin.Context) {
	payload := withdrawalPayload{
		UserID:             c.Query("user_id"),
		DestinationAddress: c.Query("destination_address"),
		Amount:             c.Query("amount"),
		Currency:           c.Query("currency"),
		Network:            c.Query("network"),
	}
	if payload.UserID == "" || payload.Amount == "" || payload.Currency == "" || payload.Network == "" {
		respondBadRequest(c, "user_id, amount, currency and network are required")
		return
	}

	req, err := payload.toRequest()
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	quote, err := h.executor.CanWithdraw(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Withdrawal quote failed",
			"user_id", req.UserID,
			"currency", req.Currency,
			"error", err,
			"request_id", getRequestID(c),
		)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// Fees returns the flat per-currency withdrawal fee schedule
func (h *WithdrawalHandlers) Fees(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fees": h.executor.FeeSchedule()})
}

// Reserves returns the per-currency pool balance floors
func (h *WithdrawalHandlers) Reserves(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"minimum_reserves": h.executor.MinimumReserves()})
}

// ListUserTransactions returns a user's withdrawal and sweep records
func (h *WithdrawalHandlers) ListUserTransactions(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		respondBadRequest(c, "invalid user id")
		return
	}

	limit, offset := parsePagination(c)
	txs, err := h.transactions.ListByUser(c.Request.Context(), userID.String(), limit, offset)
	if err != nil {
		h.logger.Error("Transaction list query failed",
			"user_id", userID,
			"error", err,
			"request_id", getRequestID(c),
		)
		respondInternalError(c, "failed to load transactions")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	})
}
