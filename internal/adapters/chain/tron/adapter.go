package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/custody-service/custody_service/internal/adapters/chain"
	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
)

// trc20FeeLimitSun caps the energy spend of one token transfer (100 TRX).
const trc20FeeLimitSun = 100_000_000

// Adapter implements the chain boundary for Tron.
type Adapter struct {
	client *Client
	cfg    config.ChainConfig
	logger *zap.Logger
}

// NewAdapter creates a Tron adapter.
func NewAdapter(cfg config.ChainConfig, logger *zap.Logger) *Adapter {
	return &Adapter{
		client: NewClient(cfg.RPCURLs, logger),
		cfg:    cfg,
		logger: logger,
	}
}

func (a *Adapter) Name() entities.Chain {
	return entities.ChainTron
}

// GetBalance returns the confirmed balance in display units.
func (a *Adapter) GetBalance(ctx context.Context, address string, asset entities.Asset) (decimal.Decimal, error) {
	if asset.Kind == entities.AssetKindNative {
		sun, err := a.client.GetBalance(ctx, address)
		if err != nil {
			return decimal.Zero, err
		}
		return chain.FromBaseUnits(sun, asset.Decimals), nil
	}

	units, err := a.client.GetTokenBalance(ctx, asset.Contract, address)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromBaseUnitsBig(units, asset.Decimals), nil
}

// ListInboundTransfers fetches confirmed TRX and USDT inflows from the
// account history API. The API already filters to confirmed entries, so
// transfers carry the configured depth as a floor.
func (a *Adapter) ListInboundTransfers(ctx context.Context, address string, limit int) ([]chain.Transfer, error) {
	latest, err := a.client.GetNowBlock(ctx)
	if err != nil {
		return nil, err
	}

	native, err := a.client.ListNativeTransfers(ctx, address, limit)
	if err != nil {
		return nil, err
	}

	var transfers []chain.Transfer
	for i := len(native) - 1; i >= 0; i-- {
		ev := native[i]
		if ev.To != address || ev.AmountSun <= 0 {
			continue
		}
		confirmations := latest - ev.BlockNumber + 1
		if ev.BlockNumber > 0 && confirmations < int64(a.cfg.Confirmations) {
			continue
		}
		transfers = append(transfers, chain.Transfer{
			TxHash:        ev.TxHash,
			FromAddress:   ev.From,
			ToAddress:     address,
			Currency:      entities.AssetTRX.Symbol,
			Amount:        chain.FromBaseUnits(ev.AmountSun, entities.AssetTRX.Decimals),
			BlockNumber:   ev.BlockNumber,
			Confirmations: confirmations,
		})
	}

	tokens, err := a.client.ListTRC20Transfers(ctx, address, entities.AssetUSDTTron.Contract, limit)
	if err != nil {
		return nil, err
	}
	for i := len(tokens) - 1; i >= 0; i-- {
		ev := tokens[i]
		if ev.To != address || ev.Value.Sign() <= 0 {
			continue
		}
		transfers = append(transfers, chain.Transfer{
			TxHash:        ev.TxHash,
			FromAddress:   ev.From,
			ToAddress:     address,
			Currency:      entities.AssetUSDTTron.Symbol,
			Amount:        chain.FromBaseUnitsBig(ev.Value, entities.AssetUSDTTron.Decimals),
			Confirmations: int64(a.cfg.Confirmations),
		})
	}

	return transfers, nil
}

// SubmitTransfer builds a transfer through the node, signs its raw data
// locally and broadcasts it.
func (a *Adapter) SubmitTransfer(ctx context.Context, signer chain.Signer, toAddress string, asset entities.Asset, amount decimal.Decimal) (string, error) {
	if !a.ValidateAddress(toAddress) {
		return "", domainerrors.InvalidAddressError(string(entities.ChainTron), toAddress)
	}

	fromAddress := AddressFromPrivateKey(signer.PrivateKey)
	if signer.Address != "" && fromAddress != signer.Address {
		return "", fmt.Errorf("derived address %s does not match signer %s", fromAddress, signer.Address)
	}

	units, err := chain.ToBaseUnits(amount, asset.Decimals)
	if err != nil {
		return "", err
	}

	var unsigned *UnsignedTransaction
	if asset.Kind == entities.AssetKindNative {
		unsigned, err = a.client.CreateTransaction(ctx, fromAddress, toAddress, units.Int64())
	} else {
		unsigned, err = a.client.TriggerSmartContract(ctx, fromAddress, asset.Contract, toAddress, units, trc20FeeLimitSun)
	}
	if err != nil {
		return "", err
	}

	signed, err := signTransaction(unsigned, signer.PrivateKey)
	if err != nil {
		return "", err
	}

	if err := a.client.BroadcastTransaction(ctx, signed); err != nil {
		return "", err
	}

	return signed.TxID, nil
}

// signTransaction signs sha256 of the raw transaction data and verifies the
// node-reported txID matches before trusting it.
func signTransaction(unsigned *UnsignedTransaction, privateKey []byte) (*SignedTransaction, error) {
	rawData, err := hex.DecodeString(unsigned.RawDataHex)
	if err != nil {
		return nil, fmt.Errorf("decode raw_data_hex: %w", err)
	}

	digest := sha256.Sum256(rawData)
	if unsigned.TxID != "" && unsigned.TxID != hex.EncodeToString(digest[:]) {
		return nil, fmt.Errorf("node txID %s does not match raw data digest", unsigned.TxID)
	}

	key := secp256k1.PrivKeyFromBytes(privateKey)
	compact := secpecdsa.SignCompact(key, digest[:], false)

	// SignCompact returns [recovery+27, r, s]; Tron wants r || s || recovery.
	signature := make([]byte, 65)
	copy(signature[0:32], compact[1:33])
	copy(signature[32:64], compact[33:65])
	signature[64] = compact[0] - 27

	return &SignedTransaction{
		TxID:       hex.EncodeToString(digest[:]),
		RawData:    unsigned.RawData,
		RawDataHex: unsigned.RawDataHex,
		Signature:  []string{hex.EncodeToString(signature)},
	}, nil
}

// WaitForConfirmation polls transaction info until the transaction reaches
// the configured depth, fails, or the timeout elapses.
func (a *Adapter) WaitForConfirmation(ctx context.Context, txHash string) (*chain.Receipt, error) {
	pollCtx, cancel := context.WithTimeout(ctx, a.cfg.ConfirmationWait())
	defer cancel()

	for {
		info, err := a.client.GetTransactionInfo(pollCtx, txHash)
		if err != nil {
			a.logger.Warn("tron confirmation poll error", zap.String("tx_id", txHash), zap.Error(err))
		} else if info != nil {
			if info.Result == "FAILED" {
				return &chain.Receipt{TxHash: txHash, BlockNumber: info.BlockNumber}, fmt.Errorf("transaction %s failed on-chain", txHash)
			}
			latest, err := a.client.GetNowBlock(pollCtx)
			if err == nil && latest-info.BlockNumber+1 >= int64(a.cfg.Confirmations) {
				return &chain.Receipt{
					TxHash:      txHash,
					BlockNumber: info.BlockNumber,
					Confirmed:   true,
				}, nil
			}
		}

		select {
		case <-pollCtx.Done():
			return nil, domainerrors.ConfirmationTimeoutError(string(entities.ChainTron), txHash)
		case <-time.After(3 * time.Second):
		}
	}
}

// ValidateAddress checks base58check format locally.
func (a *Adapter) ValidateAddress(address string) bool {
	return ValidAddress(address)
}
