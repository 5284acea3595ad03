package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies ledger transaction records
type TransactionType string

const (
	TransactionTypeWithdraw TransactionType = "withdraw"
	TransactionTypeSweep    TransactionType = "sweep"
	TransactionTypeRefund   TransactionType = "refund"
)

// TransactionStatus represents the state of an outbound transaction record
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction records a pool-custody movement: a negative-amount withdrawal
// debit, a sweep consolidation, or a pending refund owed to a user whose
// debit outlived a failed submission. Withdrawal rows are created only after
// the chain accepted the submission.
type Transaction struct {
	ID        uuid.UUID         `db:"id" json:"id"`
	OrderID   string            `db:"order_id" json:"order_id"`
	UserID    uuid.UUID         `db:"user_id" json:"user_id"`
	TxHash    string            `db:"tx_hash" json:"tx_hash"`
	ToAddress string            `db:"to_address" json:"to_address"`
	Currency  string            `db:"currency" json:"currency"`
	Network   Chain             `db:"network" json:"network"`
	Amount    decimal.Decimal   `db:"amount" json:"amount"`
	Fee       decimal.Decimal   `db:"fee" json:"fee"`
	Type      TransactionType   `db:"type" json:"type"`
	Status    TransactionStatus `db:"status" json:"status"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

// WithdrawalRequest is the blockchain-execution half of a withdrawal.
// The user's own ledger balance was already validated and debited by the
// request layer before this reaches the engine.
type WithdrawalRequest struct {
	UserID             uuid.UUID       `json:"user_id"`
	DestinationAddress string          `json:"destination_address"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Network            Chain           `json:"network"`
}

// WithdrawalQuote is the dry-run answer for canWithdraw
type WithdrawalQuote struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}
