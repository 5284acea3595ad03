package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	chainadapter "github.com/custody-service/custody_service/internal/adapters/chain"
	"github.com/custody-service/custody_service/internal/domain/entities"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
	"github.com/custody-service/custody_service/pkg/crypto"
	"github.com/custody-service/custody_service/pkg/logger"
	"github.com/custody-service/custody_service/pkg/metrics"
)

// WalletRepository lists custodial wallets with their encrypted keys
type WalletRepository interface {
	ListWalletsByChain(ctx context.Context, chain entities.Chain) ([]*entities.Wallet, error)
}

// TransactionRepository records completed sweeps
type TransactionRepository interface {
	Create(ctx context.Context, tx *entities.Transaction) error
}

// Engine consolidates deposit-address balances into the per-chain pool.
//
// Sweeps never touch the user ledger: the user was credited when the
// deposit landed, consolidation is pure treasury plumbing. Token sweeps
// move the full balance; native sweeps leave a flat fee buffer behind.
type Engine struct {
	adapters        map[entities.Chain]chainadapter.Adapter
	chains          config.ChainsConfig
	cfg             config.SweepConfig
	walletRepo      WalletRepository
	transactionRepo TransactionRepository
	vault           *crypto.KeyVault
	logger          *logger.Logger
}

// NewEngine creates a sweep engine.
func NewEngine(
	adapters []chainadapter.Adapter,
	chains config.ChainsConfig,
	cfg config.SweepConfig,
	walletRepo WalletRepository,
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
		walletRepo:      walletRepo,
		transactionRepo: transactionRepo,
		vault:           vault,
		logger:          logger,
	}
}

// RunCycle walks every enabled chain once. Per-wallet failures are logged
// and skipped; the cycle always visits every candidate.
func (e *Engine) RunCycle(ctx context.Context) {
	for chain, adapter := range e.adapters {
		chainCfg, ok := e.chains.ByChain(string(chain))
		if !ok || !chainCfg.Enabled || chainCfg.PoolAddress == "" {
			continue
		}
		if err := e.sweepChain(ctx, chain, adapter, chainCfg); err != nil {
			e.logger.Error("sweep cycle failed",
				"chain", string(chain),
				"error", err,
			)
		}
	}
}

func (e *Engine) sweepChain(ctx context.Context, chain entities.Chain, adapter chainadapter.Adapter, chainCfg config.ChainConfig) error {
	wallets, err := e.walletRepo.ListWalletsByChain(ctx, chain)
	if err != nil {
		return fmt.Errorf("list wallets: %w", err)
	}

	for _, wallet := range wallets {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for _, asset := range assetsForChain(chain) {
			if err := e.sweepWalletAsset(ctx, adapter, chainCfg, wallet, asset); err != nil {
				metrics.SweepsTotal.WithLabelValues(string(chain), "error").Inc()
				e.logger.Warn("wallet sweep failed",
					"chain", string(chain),
					"address", wallet.Address,
					"currency", asset.Symbol,
					"error", err,
				)
			}
		}
	}

	return nil
}

func (e *Engine) sweepWalletAsset(ctx context.Context, adapter chainadapter.Adapter, chainCfg config.ChainConfig, wallet *entities.Wallet, asset entities.Asset) error {
	balance, err := adapter.GetBalance(ctx, wallet.Address, asset)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	threshold := e.decimalSetting(e.cfg.Thresholds, asset.Symbol)
	if threshold.IsZero() || balance.LessThan(threshold) {
		return nil
	}

	var amount decimal.Decimal
	if asset.Kind == entities.AssetKindNative {
		// Leave the fee buffer behind so the transfer can pay for itself.
		buffer := e.decimalSetting(e.cfg.NativeFeeBuffer, string(wallet.Blockchain))
		amount = balance.Sub(buffer)
		if amount.Sign() <= 0 {
			return nil
		}
	} else {
		// Tokens move in full; gas is topped up from the pool when needed.
		amount = balance
		if err := e.ensureGas(ctx, adapter, chainCfg, wallet); err != nil {
			return fmt.Errorf("gas top-up: %w", err)
		}
	}

	signer, err := e.walletSigner(wallet)
	if err != nil {
		return err
	}

	e.logger.Info("sweeping wallet",
		"chain", string(wallet.Blockchain),
		"address", wallet.Address,
		"currency", asset.Symbol,
		"amount", amount.String(),
	)

	txHash, err := adapter.SubmitTransfer(ctx, signer, chainCfg.PoolAddress, asset, amount)
	if err != nil {
		return fmt.Errorf("submit sweep: %w", err)
	}

	receipt, err := adapter.WaitForConfirmation(ctx, txHash)
	if err != nil {
		// The transfer may still land; the next cycle sees the drained
		// balance and does not repeat it.
		return fmt.Errorf("confirm sweep %s: %w", txHash, err)
	}

	if err := e.recordSweep(ctx, wallet, asset, amount, txHash); err != nil {
		return err
	}

	metrics.SweepsTotal.WithLabelValues(string(wallet.Blockchain), "ok").Inc()
	e.logger.Info("sweep confirmed",
		"chain", string(wallet.Blockchain),
		"tx_hash", txHash,
		"block", receipt.BlockNumber,
	)

	return nil
}

// ensureGas tops up a deposit address from the pool when its native balance
// cannot pay a token transfer, then waits for the top-up to confirm so the
// sweep that follows can spend it.
func (e *Engine) ensureGas(ctx context.Context, adapter chainadapter.Adapter, chainCfg config.ChainConfig, wallet *entities.Wallet) error {
	topUp := e.decimalSetting(e.cfg.GasTopUp, string(wallet.Blockchain))
	if topUp.IsZero() {
		return nil
	}

	native := entities.NativeAsset(wallet.Blockchain)
	gasBalance, err := adapter.GetBalance(ctx, wallet.Address, native)
	if err != nil {
		return fmt.Errorf("get gas balance: %w", err)
	}
	if gasBalance.GreaterThanOrEqual(topUp) {
		return nil
	}

	poolSigner, err := e.poolSigner(chainCfg)
	if err != nil {
		return err
	}

	e.logger.Info("topping up gas for sweep",
		"chain", string(wallet.Blockchain),
		"address", wallet.Address,
		"amount", topUp.String(),
	)

	txHash, err := adapter.SubmitTransfer(ctx, poolSigner, wallet.Address, native, topUp)
	if err != nil {
		return fmt.Errorf("submit top-up: %w", err)
	}
	if _, err := adapter.WaitForConfirmation(ctx, txHash); err != nil {
		return fmt.Errorf("confirm top-up %s: %w", txHash, err)
	}

	return nil
}

func (e *Engine) recordSweep(ctx context.Context, wallet *entities.Wallet, asset entities.Asset, amount decimal.Decimal, txHash string) error {
	orderSuffix, err := crypto.GenerateRandomString(12)
	if err != nil {
		return fmt.Errorf("generate order id: %w", err)
	}

	record := &entities.Transaction{
		ID:        uuid.New(),
		OrderID:   "SWP-" + orderSuffix,
		UserID:    wallet.UserID,
		TxHash:    txHash,
		ToAddress: "",
		Currency:  asset.Symbol,
		Network:   wallet.Blockchain,
		Amount:    amount,
		Fee:       decimal.Zero,
		Type:      entities.TransactionTypeSweep,
		Status:    entities.TransactionStatusCompleted,
		CreatedAt: time.Now(),
	}
	if err := e.transactionRepo.Create(ctx, record); err != nil {
		return fmt.Errorf("record sweep: %w", err)
	}
	return nil
}

func (e *Engine) walletSigner(wallet *entities.Wallet) (chainadapter.Signer, error) {
	key, err := e.vault.Decrypt(wallet.EncryptedPrivateKey)
	if err != nil {
		return chainadapter.Signer{}, fmt.Errorf("decrypt wallet key: %w", err)
	}
	raw, err := crypto.DecodeKeyMaterial(key)
	if err != nil {
		return chainadapter.Signer{}, fmt.Errorf("decode wallet key: %w", err)
	}
	return chainadapter.Signer{Address: wallet.Address, PrivateKey: raw}, nil
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

func (e *Engine) decimalSetting(m map[string]string, key string) decimal.Decimal {
	raw, ok := m[key]
	if !ok {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		e.logger.Warn("invalid decimal in sweep config", "key", key, "value", raw)
		return decimal.Zero
	}
	return value
}

// assetsForChain returns the sweepable assets of a chain, native last so a
// token sweep's gas spend happens before the native remainder is drained.
func assetsForChain(chain entities.Chain) []entities.Asset {
	switch chain {
	case entities.ChainSolana:
		return []entities.Asset{entities.AssetUSDCSolana, entities.AssetSOL}
	case entities.ChainEthereum:
		return []entities.Asset{entities.AssetUSDTEthereum, entities.AssetETH}
	case entities.ChainTron:
		return []entities.Asset{entities.AssetUSDTTron, entities.AssetTRX}
	}
	return nil
}
