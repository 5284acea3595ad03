package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/custody-service/custody_service/internal/adapters/chain"
	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
)

// Adapter implements the chain boundary for Solana.
type Adapter struct {
	client *Client
	cfg    config.ChainConfig
	logger *zap.Logger
}

// NewAdapter creates a Solana adapter.
func NewAdapter(cfg config.ChainConfig, logger *zap.Logger) *Adapter {
	return &Adapter{
		client: NewClient(cfg.RPCURLs, logger),
		cfg:    cfg,
		logger: logger,
	}
}

func (a *Adapter) Name() entities.Chain {
	return entities.ChainSolana
}

// GetBalance returns the confirmed balance in display units.
func (a *Adapter) GetBalance(ctx context.Context, address string, asset entities.Asset) (decimal.Decimal, error) {
	if asset.Kind == entities.AssetKindNative {
		lamports, err := a.client.GetBalance(ctx, address)
		if err != nil {
			return decimal.Zero, err
		}
		return chain.FromBaseUnits(int64(lamports), asset.Decimals), nil
	}

	units, err := a.client.GetTokenBalance(ctx, address, asset.Contract)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromBaseUnits(int64(units), asset.Decimals), nil
}

// ListInboundTransfers scans recent signatures touching the address and
// returns transfers at or beyond the configured confirmation depth.
func (a *Adapter) ListInboundTransfers(ctx context.Context, address string, limit int) ([]chain.Transfer, error) {
	infos, err := a.client.GetSignaturesForAddress(ctx, address, limit)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}

	currentSlot, err := a.client.GetSlot(ctx)
	if err != nil {
		return nil, err
	}

	var transfers []chain.Transfer
	// Newest first from the RPC; reverse so callers see oldest first.
	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		if info.Err != nil {
			continue
		}
		if info.ConfirmationStatus == nil {
			continue
		}
		if cs := *info.ConfirmationStatus; cs != "confirmed" && cs != "finalized" {
			continue
		}

		confirmations := int64(currentSlot) - int64(info.Slot) + 1
		if confirmations < int64(a.cfg.Confirmations) {
			continue
		}

		detail, err := a.client.GetTransaction(ctx, info.Signature)
		if err != nil {
			return nil, fmt.Errorf("fetch transaction %s: %w", info.Signature, err)
		}
		if detail.Failed {
			continue
		}

		transfers = append(transfers, a.extractTransfers(address, info.Signature, confirmations, detail)...)
	}

	return transfers, nil
}

// extractTransfers reads the balance deltas of one transaction and emits a
// transfer for each positive inflow to the monitored address.
func (a *Adapter) extractTransfers(address, signature string, confirmations int64, detail *TransactionDetail) []chain.Transfer {
	var out []chain.Transfer

	from := ""
	if len(detail.AccountKeys) > 0 {
		from = detail.AccountKeys[0]
	}

	// Native inflow: lamport delta at the address's account index.
	for i, key := range detail.AccountKeys {
		if key != address || i >= len(detail.PreBalances) || i >= len(detail.PostBalances) {
			continue
		}
		delta := int64(detail.PostBalances[i]) - int64(detail.PreBalances[i])
		if delta <= 0 {
			continue
		}
		out = append(out, chain.Transfer{
			TxHash:        signature,
			FromAddress:   from,
			ToAddress:     address,
			Currency:      entities.AssetSOL.Symbol,
			Amount:        chain.FromBaseUnits(delta, entities.AssetSOL.Decimals),
			BlockNumber:   int64(detail.Slot),
			Confirmations: confirmations,
		})
	}

	// Token inflow: token balance delta for accounts owned by the address.
	// An unparseable amount invalidates its account index; a phantom zero
	// baseline would inflate the delta.
	pre := map[int]uint64{}
	malformed := map[int]bool{}
	for _, tb := range detail.PreTokenBalances {
		if tb.Owner == address && tb.Mint == entities.AssetUSDCSolana.Contract {
			amount, err := strconv.ParseUint(tb.UITokenAmount.Amount, 10, 64)
			if err != nil {
				a.logger.Warn("malformed pre token amount",
					zap.String("signature", signature),
					zap.String("amount", tb.UITokenAmount.Amount),
				)
				malformed[tb.AccountIndex] = true
				continue
			}
			pre[tb.AccountIndex] = amount
		}
	}
	for _, tb := range detail.PostTokenBalances {
		if tb.Owner != address || tb.Mint != entities.AssetUSDCSolana.Contract || malformed[tb.AccountIndex] {
			continue
		}
		post, err := strconv.ParseUint(tb.UITokenAmount.Amount, 10, 64)
		if err != nil {
			a.logger.Warn("malformed post token amount",
				zap.String("signature", signature),
				zap.String("amount", tb.UITokenAmount.Amount),
			)
			continue
		}
		delta := int64(post) - int64(pre[tb.AccountIndex])
		if delta <= 0 {
			continue
		}
		out = append(out, chain.Transfer{
			TxHash:        signature,
			FromAddress:   from,
			ToAddress:     address,
			Currency:      entities.AssetUSDCSolana.Symbol,
			Amount:        chain.FromBaseUnits(delta, tb.UITokenAmount.Decimals),
			BlockNumber:   int64(detail.Slot),
			Confirmations: confirmations,
		})
	}

	return out
}

// SubmitTransfer signs and broadcasts a native or SPL token transfer.
func (a *Adapter) SubmitTransfer(ctx context.Context, signer chain.Signer, toAddress string, asset entities.Asset, amount decimal.Decimal) (string, error) {
	key, feePayer, err := signingKey(signer)
	if err != nil {
		return "", err
	}

	to, err := PublicKeyFromBase58(toAddress)
	if err != nil {
		return "", domainerrors.InvalidAddressError(string(entities.ChainSolana), toAddress)
	}

	units, err := chain.ToBaseUnits(amount, asset.Decimals)
	if err != nil {
		return "", err
	}

	var instructions []Instruction
	if asset.Kind == entities.AssetKindNative {
		instructions = append(instructions, NewTransferInstruction(feePayer, to, units.Uint64()))
	} else {
		mint, err := PublicKeyFromBase58(asset.Contract)
		if err != nil {
			return "", fmt.Errorf("invalid mint %s: %w", asset.Contract, err)
		}
		source, err := FindAssociatedTokenAddress(feePayer, mint)
		if err != nil {
			return "", err
		}
		destination, err := FindAssociatedTokenAddress(to, mint)
		if err != nil {
			return "", err
		}
		instructions = append(instructions, NewTokenTransferInstruction(source, destination, feePayer, units.Uint64()))
	}

	blockhash, err := a.client.GetLatestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	txBytes, _, err := BuildTransaction(feePayer, instructions, blockhash, key)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	signature, err := a.client.SendTransaction(ctx, base64.StdEncoding.EncodeToString(txBytes))
	if err != nil {
		return "", err
	}

	return signature, nil
}

// WaitForConfirmation polls signature statuses until the transaction is
// confirmed, fails on-chain, or the configured timeout elapses.
func (a *Adapter) WaitForConfirmation(ctx context.Context, txHash string) (*chain.Receipt, error) {
	pollCtx, cancel := context.WithTimeout(ctx, a.cfg.ConfirmationWait())
	defer cancel()

	for {
		statuses, err := a.client.GetSignatureStatuses(pollCtx, []string{txHash})
		if err != nil {
			a.logger.Warn("solana confirmation poll error", zap.String("signature", txHash), zap.Error(err))
		} else if len(statuses) > 0 {
			status := statuses[0]
			if status.Err != nil {
				return &chain.Receipt{TxHash: txHash, BlockNumber: int64(status.Slot)}, fmt.Errorf("transaction failed on-chain: %v", status.Err)
			}
			if status.ConfirmationStatus != nil {
				if cs := *status.ConfirmationStatus; cs == "confirmed" || cs == "finalized" {
					return &chain.Receipt{
						TxHash:      txHash,
						BlockNumber: int64(status.Slot),
						Confirmed:   true,
					}, nil
				}
			}
		}

		select {
		case <-pollCtx.Done():
			return nil, domainerrors.ConfirmationTimeoutError(string(entities.ChainSolana), txHash)
		case <-time.After(2 * time.Second):
		}
	}
}

// ValidateAddress checks base58 format and key length without touching RPC.
func (a *Adapter) ValidateAddress(address string) bool {
	raw, err := base58.Decode(address)
	return err == nil && len(raw) == 32
}

// EnsureTokenAccount creates the owner's associated token account for the
// asset when it does not exist yet, funded by the signer.
func (a *Adapter) EnsureTokenAccount(ctx context.Context, signer chain.Signer, owner string, asset entities.Asset) error {
	if asset.Kind != entities.AssetKindToken {
		return nil
	}

	ownerKey, err := PublicKeyFromBase58(owner)
	if err != nil {
		return domainerrors.InvalidAddressError(string(entities.ChainSolana), owner)
	}
	mint, err := PublicKeyFromBase58(asset.Contract)
	if err != nil {
		return fmt.Errorf("invalid mint %s: %w", asset.Contract, err)
	}

	ata, err := FindAssociatedTokenAddress(ownerKey, mint)
	if err != nil {
		return err
	}

	exists, err := a.client.AccountExists(ctx, ata.ToBase58())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	key, feePayer, err := signingKey(signer)
	if err != nil {
		return err
	}

	a.logger.Info("creating associated token account",
		zap.String("owner", owner),
		zap.String("mint", asset.Contract),
		zap.String("ata", ata.ToBase58()),
	)

	blockhash, err := a.client.GetLatestBlockhash(ctx)
	if err != nil {
		return err
	}

	ix := NewCreateAssociatedTokenAccountInstruction(feePayer, ata, ownerKey, mint)
	txBytes, _, err := BuildTransaction(feePayer, []Instruction{ix}, blockhash, key)
	if err != nil {
		return fmt.Errorf("build account creation: %w", err)
	}

	signature, err := a.client.SendTransaction(ctx, base64.StdEncoding.EncodeToString(txBytes))
	if err != nil {
		return err
	}

	if _, err := a.WaitForConfirmation(ctx, signature); err != nil {
		return err
	}
	return nil
}

// signingKey normalizes a raw key (32-byte seed or 64-byte expanded key)
// into an ed25519 private key and its public address.
func signingKey(signer chain.Signer) (ed25519.PrivateKey, PublicKey, error) {
	var key ed25519.PrivateKey
	switch len(signer.PrivateKey) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(signer.PrivateKey)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(signer.PrivateKey)
	default:
		return nil, PublicKey{}, fmt.Errorf("invalid solana key length: %d", len(signer.PrivateKey))
	}

	var feePayer PublicKey
	copy(feePayer[:], key.Public().(ed25519.PublicKey))

	if signer.Address != "" && feePayer.ToBase58() != signer.Address {
		return nil, PublicKey{}, fmt.Errorf("derived address %s does not match signer %s", feePayer.ToBase58(), signer.Address)
	}

	return key, feePayer, nil
}
