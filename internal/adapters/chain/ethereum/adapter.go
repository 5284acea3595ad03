package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/custody-service/custody_service/internal/adapters/chain"
	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
)

const (
	nativeTransferGas = 21_000
	tokenTransferGas  = 90_000
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Adapter implements the chain boundary for Ethereum.
type Adapter struct {
	client *Client
	cfg    config.ChainConfig
	logger *zap.Logger

	// chainID is fetched once and reused for every signature.
	chainIDOnce sync.Once
	chainID     *big.Int
	chainIDErr  error

	// blockCache lets one poll cycle over many addresses fetch each block
	// in the scan window once.
	cacheMu    sync.Mutex
	blockCache map[int64]*Block

	// lastScanned is the per-address high-water mark; repeat scans only
	// cover blocks past it.
	scanMu      sync.Mutex
	lastScanned map[string]int64
}

// NewAdapter creates an Ethereum adapter.
func NewAdapter(cfg config.ChainConfig, logger *zap.Logger) *Adapter {
	return &Adapter{
		client:      NewClient(cfg.RPCURLs, logger),
		cfg:         cfg,
		logger:      logger,
		blockCache:  make(map[int64]*Block),
		lastScanned: make(map[string]int64),
	}
}

func (a *Adapter) Name() entities.Chain {
	return entities.ChainEthereum
}

// GetBalance returns the confirmed balance in display units.
func (a *Adapter) GetBalance(ctx context.Context, address string, asset entities.Asset) (decimal.Decimal, error) {
	if asset.Kind == entities.AssetKindNative {
		wei, err := a.client.GetBalance(ctx, address)
		if err != nil {
			return decimal.Zero, err
		}
		return chain.FromBaseUnitsBig(wei, asset.Decimals), nil
	}

	units, err := a.client.GetTokenBalance(ctx, asset.Contract, address)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromBaseUnitsBig(units, asset.Decimals), nil
}

// ListInboundTransfers scans the confirmed tail of the chain for native
// transfers and USDT Transfer events into the address. The scan starts past
// the address's last-scanned block, so repeat scans narrow to new blocks.
func (a *Adapter) ListInboundTransfers(ctx context.Context, address string, limit int) ([]chain.Transfer, error) {
	latest, err := a.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	safe := latest - int64(a.cfg.Confirmations) + 1
	if safe < 0 {
		return nil, nil
	}
	from := safe - int64(limit) + 1
	if from < 0 {
		from = 0
	}

	target := strings.ToLower(address)

	a.scanMu.Lock()
	if mark, ok := a.lastScanned[target]; ok && mark+1 > from {
		from = mark + 1
	}
	a.scanMu.Unlock()
	if from > safe {
		return nil, nil
	}

	var transfers []chain.Transfer

	for number := from; number <= safe; number++ {
		block, err := a.blockAt(ctx, number)
		if err != nil {
			return nil, err
		}
		for _, tx := range block.Transactions {
			if tx.To != target || tx.Value.Sign() <= 0 {
				continue
			}
			transfers = append(transfers, chain.Transfer{
				TxHash:        tx.Hash,
				FromAddress:   tx.From,
				ToAddress:     address,
				Currency:      entities.AssetETH.Symbol,
				Amount:        chain.FromBaseUnitsBig(tx.Value, entities.AssetETH.Decimals),
				BlockNumber:   number,
				Confirmations: latest - number + 1,
			})
		}
	}

	logs, err := a.client.GetTransferLogs(ctx, entities.AssetUSDTEthereum.Contract, address, from, safe)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		if l.Value.Sign() <= 0 {
			continue
		}
		transfers = append(transfers, chain.Transfer{
			TxHash:        l.TxHash,
			FromAddress:   l.From,
			ToAddress:     address,
			Currency:      entities.AssetUSDTEthereum.Symbol,
			Amount:        chain.FromBaseUnitsBig(l.Value, entities.AssetUSDTEthereum.Decimals),
			BlockNumber:   l.BlockNumber,
			Confirmations: latest - l.BlockNumber + 1,
		})
	}

	a.scanMu.Lock()
	a.lastScanned[target] = safe
	a.scanMu.Unlock()

	a.pruneCache(from)
	return transfers, nil
}

func (a *Adapter) blockAt(ctx context.Context, number int64) (*Block, error) {
	a.cacheMu.Lock()
	if block, ok := a.blockCache[number]; ok {
		a.cacheMu.Unlock()
		return block, nil
	}
	a.cacheMu.Unlock()

	block, err := a.client.GetBlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	a.cacheMu.Lock()
	a.blockCache[number] = block
	a.cacheMu.Unlock()
	return block, nil
}

func (a *Adapter) pruneCache(oldest int64) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	for number := range a.blockCache {
		if number < oldest {
			delete(a.blockCache, number)
		}
	}
}

// SubmitTransfer signs and broadcasts a native or ERC20 transfer.
func (a *Adapter) SubmitTransfer(ctx context.Context, signer chain.Signer, toAddress string, asset entities.Asset, amount decimal.Decimal) (string, error) {
	if !a.ValidateAddress(toAddress) {
		return "", domainerrors.InvalidAddressError(string(entities.ChainEthereum), toAddress)
	}

	fromAddress := AddressFromPrivateKey(signer.PrivateKey)
	if signer.Address != "" && !strings.EqualFold(fromAddress, signer.Address) {
		return "", fmt.Errorf("derived address %s does not match signer %s", fromAddress, signer.Address)
	}

	chainID, err := a.resolveChainID(ctx)
	if err != nil {
		return "", err
	}

	nonce, err := a.client.GetTransactionCount(ctx, fromAddress)
	if err != nil {
		return "", err
	}
	gasPrice, err := a.client.GasPrice(ctx)
	if err != nil {
		return "", err
	}

	units, err := chain.ToBaseUnits(amount, asset.Decimals)
	if err != nil {
		return "", err
	}

	var tx *LegacyTx
	if asset.Kind == entities.AssetKindNative {
		tx = &LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      nativeTransferGas,
			To:       toAddress,
			Value:    units,
		}
	} else {
		tx = &LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      tokenTransferGas,
			To:       asset.Contract,
			Value:    big.NewInt(0),
			Data:     ERC20TransferData(toAddress, units),
		}
	}

	rawHex, _, err := tx.Sign(signer.PrivateKey, chainID)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	return a.client.SendRawTransaction(ctx, rawHex)
}

func (a *Adapter) resolveChainID(ctx context.Context) (*big.Int, error) {
	a.chainIDOnce.Do(func() {
		a.chainID, a.chainIDErr = a.client.ChainID(ctx)
	})
	return a.chainID, a.chainIDErr
}

// WaitForConfirmation polls the receipt until the transaction reaches the
// configured depth, reverts, or the timeout elapses.
func (a *Adapter) WaitForConfirmation(ctx context.Context, txHash string) (*chain.Receipt, error) {
	pollCtx, cancel := context.WithTimeout(ctx, a.cfg.ConfirmationWait())
	defer cancel()

	for {
		receipt, err := a.client.GetTransactionReceipt(pollCtx, txHash)
		if err != nil {
			a.logger.Warn("ethereum confirmation poll error", zap.String("tx_hash", txHash), zap.Error(err))
		} else if receipt != nil {
			if !receipt.Success {
				return &chain.Receipt{TxHash: txHash, BlockNumber: receipt.BlockNumber}, fmt.Errorf("transaction %s reverted", txHash)
			}
			latest, err := a.client.BlockNumber(pollCtx)
			if err == nil && latest-receipt.BlockNumber+1 >= int64(a.cfg.Confirmations) {
				return &chain.Receipt{
					TxHash:      txHash,
					BlockNumber: receipt.BlockNumber,
					Confirmed:   true,
				}, nil
			}
		}

		select {
		case <-pollCtx.Done():
			return nil, domainerrors.ConfirmationTimeoutError(string(entities.ChainEthereum), txHash)
		case <-time.After(5 * time.Second):
		}
	}
}

// ValidateAddress checks 0x-prefixed 20-byte hex format.
func (a *Adapter) ValidateAddress(address string) bool {
	return addressPattern.MatchString(address)
}
