package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
)

// WalletRepository handles custodial wallet persistence
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Create inserts a new custodial wallet
func (r *WalletRepository) Create(ctx context.Context, wallet *entities.Wallet) error {
	query := `
		INSERT INTO wallets (id, user_id, blockchain, network, address, encrypted_private_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		wallet.ID,
		wallet.UserID,
		wallet.Blockchain,
		wallet.Network,
		wallet.Address,
		wallet.EncryptedPrivateKey,
		wallet.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// GetByAddress retrieves a wallet by its on-chain address
func (r *WalletRepository) GetByAddress(ctx context.Context, address string) (*entities.Wallet, error) {
	query := `
		SELECT id, user_id, blockchain, network, address, encrypted_private_key, created_at
		FROM wallets
		WHERE address = $1
	`

	var wallet entities.Wallet
	err := r.db.GetContext(ctx, &wallet, query, address)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.NotFoundError("wallet")
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	return &wallet, nil
}

// GetByUserAndChain retrieves a user's wallet on one chain
func (r *WalletRepository) GetByUserAndChain(ctx context.Context, userID uuid.UUID, chain entities.Chain) (*entities.Wallet, error) {
	query := `
		SELECT id, user_id, blockchain, network, address, encrypted_private_key, created_at
		FROM wallets
		WHERE user_id = $1 AND blockchain = $2
	`

	var wallet entities.Wallet
	err := r.db.GetContext(ctx, &wallet, query, userID, chain)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.NotFoundError("wallet")
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	return &wallet, nil
}

// ListByChain returns every wallet on a chain, used to seed the poller's
// monitored address set.
func (r *WalletRepository) ListByChain(ctx context.Context, chain entities.Chain) ([]entities.MonitoredAddress, error) {
	query := `
		SELECT user_id, address
		FROM wallets
		WHERE blockchain = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryxContext(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var addresses []entities.MonitoredAddress
	for rows.Next() {
		var m entities.MonitoredAddress
		if err := rows.Scan(&m.UserID, &m.Address); err != nil {
			return nil, fmt.Errorf("failed to scan wallet row: %w", err)
		}
		addresses = append(addresses, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wallets: %w", err)
	}

	return addresses, nil
}

// ListWalletsByChain returns full wallet rows on a chain, used by the sweep
// engine which needs the encrypted signing keys.
func (r *WalletRepository) ListWalletsByChain(ctx context.Context, chain entities.Chain) ([]*entities.Wallet, error) {
	query := `
		SELECT id, user_id, blockchain, network, address, encrypted_private_key, created_at
		FROM wallets
		WHERE blockchain = $1
		ORDER BY created_at
	`

	var wallets []*entities.Wallet
	if err := r.db.SelectContext(ctx, &wallets, query, chain); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	return wallets, nil
}
