package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/custody-service/custody_service/internal/domain/entities"
)

// Transfer is a chain-agnostic inbound transfer observed on-chain.
// Amount is already scaled to display units; adapters own the base-unit
// conversion so nothing upstream ever sees lamports, wei or sun.
type Transfer struct {
	TxHash        string
	FromAddress   string
	ToAddress     string
	Currency      string
	Amount        decimal.Decimal
	BlockNumber   int64
	Confirmations int64
}

// Receipt is the result of waiting for an outbound submission to confirm.
type Receipt struct {
	TxHash      string
	BlockNumber int64
	Confirmed   bool
}

// Signer carries a decrypted private key for one outbound submission.
// Treat values as secrets: never log, never persist.
type Signer struct {
	Address    string
	PrivateKey []byte
}

// Adapter is the per-chain boundary the core talks through. One
// implementation per chain; everything above it is chain-agnostic.
type Adapter interface {
	Name() entities.Chain

	// GetBalance returns the confirmed balance of an address in display units.
	GetBalance(ctx context.Context, address string, asset entities.Asset) (decimal.Decimal, error)

	// ListInboundTransfers returns confirmed transfers into the address,
	// newest last, bounded by the adapter's scan window. An RPC failure is
	// an error, never an empty list.
	ListInboundTransfers(ctx context.Context, address string, limit int) ([]Transfer, error)

	// SubmitTransfer signs and broadcasts a transfer, returning the chain
	// transaction hash once the node accepted the submission.
	SubmitTransfer(ctx context.Context, signer Signer, toAddress string, asset entities.Asset, amount decimal.Decimal) (string, error)

	// WaitForConfirmation blocks until the transaction reaches the chain's
	// configured confirmation depth, the chain reports failure, or ctx or
	// the adapter's timeout expires.
	WaitForConfirmation(ctx context.Context, txHash string) (*Receipt, error)

	// ValidateAddress performs a local, offline format check.
	ValidateAddress(address string) bool
}

// TokenAccountEnsurer is implemented by adapters whose token transfers need
// a destination account created first (Solana associated token accounts).
type TokenAccountEnsurer interface {
	EnsureTokenAccount(ctx context.Context, signer Signer, owner string, asset entities.Asset) error
}

// FromBaseUnits converts an integer base-unit amount to display units
// exactly: 1_000_000_000 lamports is precisely 1 SOL.
func FromBaseUnits(units int64, decimals int32) decimal.Decimal {
	return decimal.New(units, -decimals)
}

// FromBaseUnitsBig is FromBaseUnits for amounts that exceed int64 (wei).
func FromBaseUnitsBig(units *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, -decimals)
}

// ToBaseUnits converts a display amount to integer base units, rejecting
// amounts with sub-unit precision rather than silently rounding.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount.String(), decimals)
	}
	return shifted.BigInt(), nil
}
