package errors

import "errors"

// Chain and custody errors
var (
	// Chain adapter errors
	ErrChainUnavailable    = errors.New("chain rpc unavailable")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrInvalidAddress      = errors.New("invalid address")

	// Deposit errors
	ErrDuplicateTxHash = errors.New("transaction hash already recorded")

	// Oracle errors
	ErrOracleUnavailable = errors.New("price oracle unavailable")

	// Withdrawal errors
	ErrInsufficientPoolLiquidity = errors.New("insufficient pool liquidity")
	ErrWithdrawalFailed          = errors.New("withdrawal submission failed")
	ErrNegativeBalance           = errors.New("balance cannot be negative")
	ErrUnsupportedCurrency       = errors.New("unsupported currency")
)

// ChainUnavailableError creates a transient chain error; the poller retries
// the next cycle and never treats it as an empty transfer list
func ChainUnavailableError(chain string, err error) *DomainError {
	return &DomainError{
		Err:       ErrChainUnavailable,
		Code:      "CHAIN_UNAVAILABLE",
		Message:   "chain rpc unavailable",
		Retryable: true,
		Details: map[string]interface{}{
			"chain": chain,
			"cause": err.Error(),
		},
	}
}

// DuplicateTxHashError creates a duplicate transaction error; callers treat
// it as success-no-op, never as a user-facing failure
func DuplicateTxHashError(txHash string) *DomainError {
	return &DomainError{
		Err:     ErrDuplicateTxHash,
		Code:    "DUPLICATE_TX_HASH",
		Message: "transaction has already been credited",
		Details: map[string]interface{}{
			"tx_hash": txHash,
		},
	}
}

// InvalidAddressError creates an address validation error
func InvalidAddressError(chain, address string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidAddress,
		Code:    "INVALID_ADDRESS",
		Message: "destination address is not valid for this chain",
		Details: map[string]interface{}{
			"chain":   chain,
			"address": address,
		},
	}
}

// InsufficientPoolLiquidityError creates a pool solvency rejection
func InsufficientPoolLiquidityError(currency, available, required, reserve string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientPoolLiquidity,
		Code:    "INSUFFICIENT_POOL_LIQUIDITY",
		Message: "pool cannot fund this withdrawal without breaching its reserve",
		Details: map[string]interface{}{
			"currency":  currency,
			"available": available,
			"required":  required,
			"reserve":   reserve,
		},
	}
}

// ConfirmationTimeoutError creates a bounded-wait timeout; the transaction
// may still land and the caller must re-poll rather than treat it as final
func ConfirmationTimeoutError(chain, txID string) *DomainError {
	return &DomainError{
		Err:       ErrConfirmationTimeout,
		Code:      "CONFIRMATION_TIMEOUT",
		Message:   "transaction confirmation timed out",
		Retryable: true,
		Details: map[string]interface{}{
			"chain": chain,
			"tx_id": txID,
		},
	}
}

// WithdrawalFailedError creates a submission failure; no debit was applied
func WithdrawalFailedError(reason string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrWithdrawalFailed,
		Code:    "WITHDRAWAL_FAILED",
		Message: reason,
	}
	if err != nil {
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// IsChainUnavailable checks if error is a transient chain failure
func IsChainUnavailable(err error) bool {
	return errors.Is(err, ErrChainUnavailable)
}

// IsDuplicateTxHash checks if error is a duplicate transaction detection
func IsDuplicateTxHash(err error) bool {
	return errors.Is(err, ErrDuplicateTxHash)
}

// IsInvalidAddress checks if error is an address validation failure
func IsInvalidAddress(err error) bool {
	return errors.Is(err, ErrInvalidAddress)
}

// IsInsufficientPoolLiquidity checks if error is a pool solvency rejection
func IsInsufficientPoolLiquidity(err error) bool {
	return errors.Is(err, ErrInsufficientPoolLiquidity)
}

// IsConfirmationTimeout checks if error is a bounded confirmation timeout
func IsConfirmationTimeout(err error) bool {
	return errors.Is(err, ErrConfirmationTimeout)
}

// IsWithdrawalFailed checks if error is a rejected submission
func IsWithdrawalFailed(err error) bool {
	return errors.Is(err, ErrWithdrawalFailed)
}

// IsOracleUnavailable checks if error is an oracle outage
func IsOracleUnavailable(err error) bool {
	return errors.Is(err, ErrOracleUnavailable)
}
