package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepositStatus represents the lifecycle state of a deposit
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusConfirmed DepositStatus = "confirmed"
	DepositStatusFailed    DepositStatus = "failed"
)

// DepositTypeCrypto marks on-chain deposits; the only type this service produces
const DepositTypeCrypto = "crypto"

// Deposit represents one credited on-chain inflow.
//
// TxHash is globally unique across all chains: a second detection of the
// same transaction never creates a second record or a second credit. The
// database unique index on tx_hash is the final arbiter of that invariant.
type Deposit struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	OrderID       string           `db:"order_id" json:"order_id"`
	UserID        uuid.UUID        `db:"user_id" json:"user_id"`
	TxHash        string           `db:"tx_hash" json:"tx_hash"`
	FromAddress   *string          `db:"from_address" json:"from_address,omitempty"`
	ToAddress     string           `db:"to_address" json:"to_address"`
	Currency      string           `db:"currency" json:"currency"`
	Network       Chain            `db:"network" json:"network"`
	Amount        decimal.Decimal  `db:"amount" json:"amount"`
	Rate          *decimal.Decimal `db:"rate" json:"rate,omitempty"`
	RealArrival   *decimal.Decimal `db:"real_arrival" json:"real_arrival,omitempty"`
	Status        DepositStatus    `db:"status" json:"status"`
	Type          string           `db:"type" json:"type"`
	BlockNumber   *int64           `db:"block_number" json:"block_number,omitempty"`
	Confirmations int              `db:"confirmations" json:"confirmations"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	ConfirmedAt   *time.Time       `db:"confirmed_at" json:"confirmed_at,omitempty"`
}

// DepositStats aggregates deposit history for one chain
type DepositStats struct {
	TotalDeposits     int64           `json:"total_deposits"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PendingDeposits   int64           `json:"pending_deposits"`
	ConfirmedDeposits int64           `json:"confirmed_deposits"`
}

// Balance is the per (user, currency) running ledger total.
// One row per pair; upsert semantics; never negative after a debit.
type Balance struct {
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Currency  string          `db:"currency" json:"currency"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}
