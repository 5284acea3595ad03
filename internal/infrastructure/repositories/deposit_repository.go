package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
)

const depositColumns = `
	id, order_id, user_id, tx_hash, from_address, to_address,
	currency, network, amount, rate, real_arrival, status, type,
	block_number, confirmations, created_at, confirmed_at
`

// DepositRepository handles deposit persistence operations
type DepositRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewDepositRepository creates a new deposit repository
func NewDepositRepository(db *sqlx.DB, logger *zap.Logger) *DepositRepository {
	return &DepositRepository{db: db, logger: logger}
}

// Create inserts a new deposit row. A unique violation on tx_hash is
// translated to ErrDuplicateTxHash so callers can treat a concurrent
// double-detection as a no-op.
func (r *DepositRepository) Create(ctx context.Context, deposit *entities.Deposit) error {
	return r.insert(ctx, r.db, deposit)
}

// CreateTx is Create inside an existing transaction.
func (r *DepositRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, deposit *entities.Deposit) error {
	return r.insert(ctx, tx, deposit)
}

func (r *DepositRepository) insert(ctx context.Context, execer sqlx.ExtContext, deposit *entities.Deposit) error {
	query := `
		INSERT INTO deposits (` + depositColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := execer.ExecContext(ctx, query,
		deposit.ID,
		deposit.OrderID,
		deposit.UserID,
		deposit.TxHash,
		deposit.FromAddress,
		deposit.ToAddress,
		deposit.Currency,
		deposit.Network,
		deposit.Amount,
		deposit.Rate,
		deposit.RealArrival,
		deposit.Status,
		deposit.Type,
		deposit.BlockNumber,
		deposit.Confirmations,
		deposit.CreatedAt,
		deposit.ConfirmedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domainerrors.DuplicateTxHashError(deposit.TxHash)
		}
		return fmt.Errorf("failed to create deposit: %w", err)
	}

	return nil
}

// GetByTxHash retrieves a deposit by transaction hash
func (r *DepositRepository) GetByTxHash(ctx context.Context, txHash string) (*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE tx_hash = $1`

	var deposit entities.Deposit
	err := r.db.GetContext(ctx, &deposit, query, txHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.NotFoundError("deposit")
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}

	return &deposit, nil
}

// GetByID retrieves a deposit by ID
func (r *DepositRepository) GetByID(ctx context.Context, id string) (*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE id = $1`

	var deposit entities.Deposit
	err := r.db.GetContext(ctx, &deposit, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.NotFoundError("deposit")
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}

	return &deposit, nil
}

// ListByUser retrieves deposits for a user with pagination
func (r *DepositRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var deposits []*entities.Deposit
	err := r.db.SelectContext(ctx, &deposits, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}

	return deposits, nil
}

// UpdateStatus updates the status of a deposit
func (r *DepositRepository) UpdateStatus(ctx context.Context, txHash string, status entities.DepositStatus, confirmedAt *time.Time) error {
	query := `
		UPDATE deposits
		SET status = $2, confirmed_at = COALESCE($3, confirmed_at)
		WHERE tx_hash = $1
	`

	_, err := r.db.ExecContext(ctx, query, txHash, status, confirmedAt)
	if err != nil {
		return fmt.Errorf("failed to update deposit status: %w", err)
	}

	return nil
}

// Stats aggregates deposit counts and volume for one chain
func (r *DepositRepository) Stats(ctx context.Context, chain entities.Chain) (*entities.DepositStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(amount), 0) AS total_amount,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'confirmed') AS confirmed
		FROM deposits
		WHERE network = $1
	`

	var row struct {
		Total       int64           `db:"total"`
		TotalAmount decimal.Decimal `db:"total_amount"`
		Pending     int64           `db:"pending"`
		Confirmed   int64           `db:"confirmed"`
	}
	if err := r.db.GetContext(ctx, &row, query, chain); err != nil {
		return nil, fmt.Errorf("failed to get deposit stats: %w", err)
	}

	return &entities.DepositStats{
		TotalDeposits:     row.Total,
		TotalAmount:       row.TotalAmount,
		PendingDeposits:   row.Pending,
		ConfirmedDeposits: row.Confirmed,
	}, nil
}
