package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
)

// BalanceRepository handles the per (user, currency) ledger totals
type BalanceRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db *sqlx.DB, logger *zap.Logger) *BalanceRepository {
	return &BalanceRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the balance for a user in one currency
func (r *BalanceRepository) Get(ctx context.Context, userID uuid.UUID, currency string) (*entities.Balance, error) {
	query := `
		SELECT user_id, currency, amount, updated_at
		FROM balances
		WHERE user_id = $1 AND currency = $2
	`

	balance := &entities.Balance{}
	err := r.db.GetContext(ctx, balance, query, userID, currency)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.NotFoundError("balance")
		}
		r.logger.Error("failed to get balance",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("currency", currency),
		)
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// Credit adds amount to a user's balance, creating the row on first deposit
// of that currency (atomic upsert).
func (r *BalanceRepository) Credit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	return r.credit(ctx, r.db, userID, currency, amount)
}

// CreditTx is Credit inside an existing transaction, used when the deposit
// row and the balance increment must commit or roll back together.
func (r *BalanceRepository) CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	return r.credit(ctx, tx, userID, currency, amount)
}

func (r *BalanceRepository) credit(ctx context.Context, execer sqlx.ExtContext, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	query := `
		INSERT INTO balances (user_id, currency, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, currency)
		DO UPDATE SET
			amount = balances.amount + EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at
	`

	_, err := execer.ExecContext(ctx, query, userID, currency, amount, time.Now())
	if err != nil {
		r.logger.Error("failed to credit balance",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("currency", currency),
			zap.String("amount", amount.String()),
		)
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	r.logger.Info("balance credited",
		zap.String("user_id", userID.String()),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
	)

	return nil
}

// Debit subtracts amount from a user's balance. The WHERE guard makes the
// check-and-subtract atomic so a concurrent debit can never drive the row
// negative; zero rows affected means insufficient funds.
func (r *BalanceRepository) Debit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	query := `
		UPDATE balances
		SET
			amount = amount - $3,
			updated_at = $4
		WHERE user_id = $1 AND currency = $2 AND amount >= $3
	`

	result, err := r.db.ExecContext(ctx, query, userID, currency, amount, time.Now())
	if err != nil {
		r.logger.Error("failed to debit balance",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("currency", currency),
			zap.String("amount", amount.String()),
		)
		return fmt.Errorf("failed to debit balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return domainerrors.ErrNegativeBalance
	}

	r.logger.Info("balance debited",
		zap.String("user_id", userID.String()),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
	)

	return nil
}

// ListByUser returns all currency balances a user holds
func (r *BalanceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*entities.Balance, error) {
	query := `
		SELECT user_id, currency, amount, updated_at
		FROM balances
		WHERE user_id = $1
		ORDER BY currency
	`

	var balances []*entities.Balance
	if err := r.db.SelectContext(ctx, &balances, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}

	return balances, nil
}
