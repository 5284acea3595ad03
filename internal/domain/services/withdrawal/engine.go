package withdrawal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	chainadapter "github.com/custody-service/custody_service/internal/adapters/chain"
	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
	"github.com/custody-service/custody_service/pkg/crypto"
	"github.com/custody-service/custody_service/pkg/logger"
	"github.com/custody-service/custody_service/pkg/metrics"
)

// BalanceRepository reads and moves user ledger balances
type BalanceRepository interface {
	Get(ctx context.Context, userID uuid.UUID, currency string) (*entities.Balance, error)
	Debit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error
	Credit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error
}

// TransactionRepository records completed withdrawals
type TransactionRepository interface {
	Create(ctx context.Context, tx *entities.Transaction) error
}

// Engine executes user withdrawals from the per-chain pool.
//
// Solvency rule: the pool balance after funding amount plus fee must not
// fall below the configured reserve, otherwise the request is rejected
// before anything is signed. Submissions are serialized per chain so two
// withdrawals never race the pool's nonce or its solvency check.
type Engine struct {
	adapters        map[entities.Chain]chainadapter.Adapter
	chains          config.ChainsConfig
	cfg             config.WithdrawalConfig
	balanceRepo     BalanceRepository
	transactionRepo TransactionRepository
	vault           *crypto.KeyVault
	logger          *logger.Logger

	mu         sync.Mutex
	chainLocks map[entities.Chain]*sync.Mutex
}

// NewEngine creates a withdrawal engine.
func NewEngine(
	adapters []chainadapter.Adapter,
	chains config.ChainsConfig,
	cfg config.WithdrawalConfig,
	balanceRepo BalanceRepository,
	transactionRepo TransactionRepository,
	vault *crypto.KeyVault,
	logger *logger.Logger,
) *Engine {
	byChain := make(map[entities.Chain]chainadapter.Adapter, len(adapters))
	for _, a := range adapters {
		byChain[a.Name()] = a
	}
	return &Engine{
		adapters:        byChain,
		chains:          chains,
		cfg:             cfg,
		balanceRepo:     balanceRepo,
		transactionRepo: transactionRepo,
		vault:           vault,
		logger:          logger,
		chainLocks:      make(map[entities.Chain]*sync.Mutex),
	}
}

// Execute validates, funds and submits one withdrawal. The user ledger is
// debited before broadcast and refunded if the chain rejects the
// submission, so no debit outlives a failed withdrawal.
func (e *Engine) Execute(ctx context.Context, req *entities.WithdrawalRequest) (*entities.Transaction, error) {
	adapter, chainCfg, asset, err := e.resolve(req)
	if err != nil {
		metrics.WithdrawalsTotal.WithLabelValues(req.Currency, "rejected").Inc()
		return nil, err
	}

	if !adapter.ValidateAddress(req.DestinationAddress) {
		metrics.WithdrawalsTotal.WithLabelValues(req.Currency, "rejected").Inc()
		return nil, domainerrors.InvalidAddressError(string(req.Network), req.DestinationAddress)
	}

	fee := e.fee(asset.Symbol)
	totalRequired := req.Amount.Add(fee)

	lock := e.chainLock(req.Network)
	lock.Lock()
	defer lock.Unlock()

	if err := e.checkPoolSolvency(ctx, adapter, chainCfg, asset, totalRequired); err != nil {
		metrics.WithdrawalsTotal.WithLabelValues(req.Currency, "rejected").Inc()
		return nil, err
	}

	// Debit first so the user cannot double-spend the balance while the
	// chain submission is in flight. The guarded update rejects overdrafts.
	if err := e.balanceRepo.Debit(ctx, req.UserID, asset.Symbol, totalRequired); err != nil {
		metrics.WithdrawalsTotal.WithLabelValues(req.Currency, "rejected").Inc()
		return nil, err
	}

	txHash, err := e.submit(ctx, adapter, chainCfg, asset, req)
	if err != nil {
		e.refund(ctx, req, asset, totalRequired)
		metrics.WithdrawalsTotal.WithLabelValues(req.Currency, "error").Inc()
		return nil, domainerrors.WithdrawalFailedError("chain rejected the withdrawal", err)
	}

	record, err := e.record(ctx, req, asset, fee, totalRequired, txHash)
	if err != nil {
		// The transfer is on-chain; losing the audit row must not undo it.
		e.logger.Error("withdrawal record not persisted",
			"tx_hash", txHash,
			"user_id", req.UserID.String(),
			"error", err,
		)
	}

	metrics.WithdrawalsTotal.WithLabelValues(req.Currency, "ok").Inc()
	e.logger.Info("withdrawal submitted",
		"tx_hash", txHash,
		"user_id", req.UserID.String(),
		"chain", string(req.Network),
		"currency", asset.Symbol,
		"amount", req.Amount.String(),
		"fee", fee.String(),
	)

	return record, nil
}

// CanWithdraw answers the dry-run quote: same validations as Execute, no
// debit and no submission.
func (e *Engine) CanWithdraw(ctx context.Context, req *entities.WithdrawalRequest) (*entities.WithdrawalQuote, error) {
	adapter, chainCfg, asset, err := e.resolve(req)
	if err != nil {
		return &entities.WithdrawalQuote{OK: false, Reason: domainerrors.GetErrorCode(err)}, nil
	}

	if !adapter.ValidateAddress(req.DestinationAddress) {
		return &entities.WithdrawalQuote{OK: false, Reason: "INVALID_ADDRESS"}, nil
	}

	totalRequired := req.Amount.Add(e.fee(asset.Symbol))

	balance, err := e.balanceRepo.Get(ctx, req.UserID, asset.Symbol)
	if err != nil && !domainerrors.IsNotFound(err) {
		return nil, err
	}
	if balance == nil || balance.Amount.LessThan(totalRequired) {
		return &entities.WithdrawalQuote{OK: false, Reason: "INSUFFICIENT_BALANCE"}, nil
	}

	if err := e.checkPoolSolvency(ctx, adapter, chainCfg, asset, totalRequired); err != nil {
		return &entities.WithdrawalQuote{OK: false, Reason: domainerrors.GetErrorCode(err)}, nil
	}

	return &entities.WithdrawalQuote{OK: true}, nil
}

// FeeSchedule returns the flat fee per currency.
func (e *Engine) FeeSchedule() map[string]decimal.Decimal {
	return e.decimalMap(e.cfg.Fees)
}

// MinimumReserves returns the pool balance floor per currency.
func (e *Engine) MinimumReserves() map[string]decimal.Decimal {
	return e.decimalMap(e.cfg.MinimumReserves)
}

func (e *Engine) resolve(req *entities.WithdrawalRequest) (chainadapter.Adapter, config.ChainConfig, entities.Asset, error) {
	if req.Amount.Sign() <= 0 {
		return nil, config.ChainConfig{}, entities.Asset{}, domainerrors.ValidationError("amount", "withdrawal amount must be positive")
	}

	adapter, ok := e.adapters[req.Network]
	if !ok {
		return nil, config.ChainConfig{}, entities.Asset{}, domainerrors.ValidationError("network", "unsupported chain")
	}

	chainCfg, ok := e.chains.ByChain(string(req.Network))
	if !ok || !chainCfg.Enabled || chainCfg.PoolAddress == "" {
		return nil, config.ChainConfig{}, entities.Asset{}, domainerrors.ServiceUnavailableError("withdrawal", fmt.Errorf("chain %s has no pool configured", req.Network))
	}

	asset, ok := entities.AssetForCurrency(req.Network, req.Currency)
	if !ok {
		return nil, config.ChainConfig{}, entities.Asset{}, fmt.Errorf("%w: %s on %s", domainerrors.ErrUnsupportedCurrency, req.Currency, req.Network)
	}

	return adapter, chainCfg, asset, nil
}

// checkPoolSolvency verifies pool balance minus the total requirement stays
// at or above the reserve floor.
func (e *Engine) checkPoolSolvency(ctx context.Context, adapter chainadapter.Adapter, chainCfg config.ChainConfig, asset entities.Asset, totalRequired decimal.Decimal) error {
	poolBalance, err := adapter.GetBalance(ctx, chainCfg.PoolAddress, asset)
	if err != nil {
		return fmt.Errorf("read pool balance: %w", err)
	}

	reserve := e.reserve(asset.Symbol)
	if poolBalance.Sub(totalRequired).LessThan(reserve) {
		return domainerrors.InsufficientPoolLiquidityError(
			asset.Symbol,
			poolBalance.String(),
			totalRequired.String(),
			reserve.String(),
		)
	}

	return nil
}

func (e *Engine) submit(ctx context.Context, adapter chainadapter.Adapter, chainCfg config.ChainConfig, asset entities.Asset, req *entities.WithdrawalRequest) (string, error) {
	signer, err := e.poolSigner(chainCfg)
	if err != nil {
		return "", err
	}

	// Token destinations on Solana must have a token account before the
	// transfer lands.
	if ensurer, ok := adapter.(chainadapter.TokenAccountEnsurer); ok && asset.Kind == entities.AssetKindToken {
		if err := ensurer.EnsureTokenAccount(ctx, signer, req.DestinationAddress, asset); err != nil {
			return "", fmt.Errorf("ensure token account: %w", err)
		}
	}

	return adapter.SubmitTransfer(ctx, signer, req.DestinationAddress, asset, req.Amount)
}

// refund restores the debited balance after a failed submission. When the
// credit itself fails, a pending refund row is persisted so the dangling
// debit can be replayed instead of surviving only as a log line.
func (e *Engine) refund(ctx context.Context, req *entities.WithdrawalRequest, asset entities.Asset, totalRequired decimal.Decimal) {
	refundErr := e.balanceRepo.Credit(ctx, req.UserID, asset.Symbol, totalRequired)
	if refundErr == nil {
		return
	}

	e.logger.Error("refund after failed withdrawal did not apply",
		"user_id", req.UserID.String(),
		"currency", asset.Symbol,
		"amount", totalRequired.String(),
		"error", refundErr,
	)

	compensation := &entities.Transaction{
		ID:        uuid.New(),
		UserID:    req.UserID,
		ToAddress: req.DestinationAddress,
		Currency:  asset.Symbol,
		Network:   req.Network,
		Amount:    totalRequired,
		Fee:       decimal.Zero,
		Type:      entities.TransactionTypeRefund,
		Status:    entities.TransactionStatusPending,
		CreatedAt: time.Now(),
	}
	compensation.OrderID = "RFD-" + compensation.ID.String()
	if err := e.transactionRepo.Create(ctx, compensation); err != nil {
		e.logger.Error("refund compensation record not persisted",
			"user_id", req.UserID.String(),
			"currency", asset.Symbol,
			"amount", totalRequired.String(),
			"error", err,
		)
	}
}

func (e *Engine) record(ctx context.Context, req *entities.WithdrawalRequest, asset entities.Asset, fee, totalRequired decimal.Decimal, txHash string) (*entities.Transaction, error) {
	orderSuffix, err := crypto.GenerateRandomString(12)
	if err != nil {
		return nil, fmt.Errorf("generate order id: %w", err)
	}

	record := &entities.Transaction{
		ID:        uuid.New(),
		OrderID:   "WDL-" + orderSuffix,
		UserID:    req.UserID,
		TxHash:    txHash,
		ToAddress: req.DestinationAddress,
		Currency:  asset.Symbol,
		Network:   req.Network,
		Amount:    totalRequired.Neg(),
		Fee:       fee,
		Type:      entities.TransactionTypeWithdraw,
		Status:    entities.TransactionStatusCompleted,
		CreatedAt: time.Now(),
	}
	if err := e.transactionRepo.Create(ctx, record); err != nil {
		return record, err
	}
	return record, nil
}

func (e *Engine) chainLock(chain entities.Chain) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.chainLocks[chain]
	if !ok {
		lock = &sync.Mutex{}
		e.chainLocks[chain] = lock
	}
	return lock
}

func (e *Engine) poolSigner(chainCfg config.ChainConfig) (chainadapter.Signer, error) {
	key, err := e.vault.Decrypt(chainCfg.PoolEncryptedKey)
	if err != nil {
		return chainadapter.Signer{}, fmt.Errorf("decrypt pool key: %w", err)
	}
	raw, err := crypto.DecodeKeyMaterial(key)
	if err != nil {
		return chainadapter.Signer{}, fmt.Errorf("decode pool key: %w", err)
	}
	return chainadapter.Signer{Address: chainCfg.PoolAddress, PrivateKey: raw}, nil
}

func (e *Engine) fee(currency string) decimal.Decimal {
	return e.decimalValue(e.cfg.Fees, currency)
}

func (e *Engine) reserve(currency string) decimal.Decimal {
	return e.decimalValue(e.cfg.MinimumReserves, currency)
}

func (e *Engine) decimalValue(m map[string]string, key string) decimal.Decimal {
	raw, ok := m[key]
	if !ok {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		e.logger.Warn("invalid decimal in withdrawal config", "key", key, "value", raw)
		return decimal.Zero
	}
	return value
}

func (e *Engine) decimalMap(m map[string]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k := range m {
		out[k] = e.decimalValue(m, k)
	}
	return out
}
