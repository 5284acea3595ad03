package solana

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/custody-service/custody_service/internal/domain/entities"
)

const (
	depositOwner = "TokenOwner1111111111111111111111111111111111"
	senderKey    = "Sender111111111111111111111111111111111111"
	usdcMint     = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func tokenBalance(index int, owner, mint, amount string) TokenBalance {
	tb := TokenBalance{AccountIndex: index, Mint: mint, Owner: owner}
	tb.UITokenAmount.Amount = amount
	tb.UITokenAmount.Decimals = 6
	return tb
}

func TestExtractTransfersTokenDelta(t *testing.T) {
	adapter := &Adapter{logger: zap.NewNop()}

	detail := &TransactionDetail{
		Slot:              500,
		AccountKeys:       []string{senderKey},
		PreTokenBalances:  []TokenBalance{tokenBalance(2, depositOwner, usdcMint, "1000000")},
		PostTokenBalances: []TokenBalance{tokenBalance(2, depositOwner, usdcMint, "3500000")},
	}

	transfers := adapter.extractTransfers(depositOwner, "sig-1", 3, detail)
	require.Len(t, transfers, 1)
	assert.Equal(t, entities.AssetUSDCSolana.Symbol, transfers[0].Currency)
	assert.True(t, transfers[0].Amount.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, int64(500), transfers[0].BlockNumber)
	assert.Equal(t, senderKey, transfers[0].FromAddress)
}

func TestExtractTransfersSkipsMalformedPostAmount(t *testing.T) {
	adapter := &Adapter{logger: zap.NewNop()}

	detail := &TransactionDetail{
		Slot:              501,
		PreTokenBalances:  []TokenBalance{tokenBalance(2, depositOwner, usdcMint, "1000000")},
		PostTokenBalances: []TokenBalance{tokenBalance(2, depositOwner, usdcMint, "not-a-number")},
	}

	assert.Empty(t, adapter.extractTransfers(depositOwner, "sig-2", 3, detail))
}

func TestExtractTransfersSkipsIndexWithMalformedPreAmount(t *testing.T) {
	adapter := &Adapter{logger: zap.NewNop()}

	// A bad pre balance must not be read as a zero baseline, which would
	// report the full post balance as an inflow.
	detail := &TransactionDetail{
		Slot:              502,
		PreTokenBalances:  []TokenBalance{tokenBalance(2, depositOwner, usdcMint, "oops")},
		PostTokenBalances: []TokenBalance{tokenBalance(2, depositOwner, usdcMint, "9000000")},
	}

	assert.Empty(t, adapter.extractTransfers(depositOwner, "sig-3", 3, detail))
}

func TestExtractTransfersIgnoresOtherOwnersAndMints(t *testing.T) {
	adapter := &Adapter{logger: zap.NewNop()}

	detail := &TransactionDetail{
		Slot: 503,
		PostTokenBalances: []TokenBalance{
			tokenBalance(1, "SomeoneElse11111111111111111111111111111111", usdcMint, "5000000"),
			tokenBalance(2, depositOwner, "OtherMint1111111111111111111111111111111111", "5000000"),
		},
	}

	assert.Empty(t, adapter.extractTransfers(depositOwner, "sig-4", 3, detail))
}

func TestExtractTransfersNativeDelta(t *testing.T) {
	adapter := &Adapter{logger: zap.NewNop()}

	detail := &TransactionDetail{
		Slot:         504,
		AccountKeys:  []string{senderKey, depositOwner},
		PreBalances:  []uint64{5_000_000_000, 1_000_000_000},
		PostBalances: []uint64{2_500_000_000, 3_500_000_000},
	}

	transfers := adapter.extractTransfers(depositOwner, "sig-5", 2, detail)
	require.Len(t, transfers, 1)
	assert.Equal(t, entities.AssetSOL.Symbol, transfers[0].Currency)
	assert.True(t, transfers[0].Amount.Equal(decimal.RequireFromString("2.5")))
}
