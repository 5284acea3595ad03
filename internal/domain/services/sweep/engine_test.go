package sweep

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	chainadapter "github.com/custody-service/custody_service/internal/adapters/chain"
	"github.com/custody-service/custody_service/internal/domain/entities"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
	"github.com/custody-service/custody_service/pkg/crypto"
	"github.com/custody-service/custody_service/pkg/logger"
)

type MockWalletRepo struct {
	mock.Mock
}

func (m *MockWalletRepo) ListWalletsByChain(ctx context.Context, chain entities.Chain) ([]*entities.Wallet, error) {
	args := m.Called(ctx, chain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Wallet), args.Error(1)
}

type MockTransactionRepo struct {
	mock.Mock
}

func (m *MockTransactionRepo) Create(ctx context.Context, tx *entities.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

type submission struct {
	from   string
	to     string
	symbol string
	amount decimal.Decimal
}

// fakeAdapter serves scripted balances keyed by address and symbol
type fakeAdapter struct {
	chain       entities.Chain
	balances    map[string]decimal.Decimal
	submissions []submission
}

func balanceKey(address, symbol string) string { return address + "/" + symbol }

func (f *fakeAdapter) Name() entities.Chain { return f.chain }

func (f *fakeAdapter) GetBalance(ctx context.Context, address string, asset entities.Asset) (decimal.Decimal, error) {
	return f.balances[balanceKey(address, asset.Symbol)], nil
}

func (f *fakeAdapter) ListInboundTransfers(ctx context.Context, address string, limit int) ([]chainadapter.Transfer, error) {
	return nil, nil
}

func (f *fakeAdapter) SubmitTransfer(ctx context.Context, signer chainadapter.Signer, toAddress string, asset entities.Asset, amount decimal.Decimal) (string, error) {
	f.submissions = append(f.submissions, submission{
		from:   signer.Address,
		to:     toAddress,
		symbol: asset.Symbol,
		amount: amount,
	})
	return "sweep-tx-hash", nil
}

func (f *fakeAdapter) WaitForConfirmation(ctx context.Context, txHash string) (*chainadapter.Receipt, error) {
	return &chainadapter.Receipt{TxHash: txHash, BlockNumber: 1, Confirmed: true}, nil
}

func (f *fakeAdapter) ValidateAddress(address string) bool { return true }

const poolAddress = "TNPZqenFBQ2ZJbeGU6QfxGzbwvhYD4U9ej"

func testEngine(t *testing.T, adapter *fakeAdapter, walletRepo *MockWalletRepo, txRepo *MockTransactionRepo) (*Engine, string) {
	t.Helper()

	vault, err := crypto.NewKeyVault("unit-test-master-key-0002")
	require.NoError(t, err)
	encryptedKey, err := vault.Encrypt("4f8c2d6a0b9e3f7c1d5a8b2e6f0c4d8a2b6e0f4c8d2a6b0e4f8c2d6a0b9e3f7c")
	require.NoError(t, err)

	chains := config.ChainsConfig{
		Tron: config.ChainConfig{
			Enabled:          true,
			PoolAddress:      poolAddress,
			PoolEncryptedKey: encryptedKey,
		},
	}
	cfg := config.SweepConfig{
		Enabled: true,
		Thresholds: map[string]string{
			"USDT": "10",
			"TRX":  "50",
		},
		GasTopUp:        map[string]string{"tron": "30"},
		NativeFeeBuffer: map[string]string{"tron": "1.1"},
	}

	engine := NewEngine(
		[]chainadapter.Adapter{adapter},
		chains,
		cfg,
		walletRepo,
		txRepo,
		vault,
		logger.New("error", "test"),
	)
	return engine, encryptedKey
}

func tronWallet(address, encryptedKey string) *entities.Wallet {
	return &entities.Wallet{
		ID:                  uuid.New(),
		UserID:              uuid.New(),
		Blockchain:          entities.ChainTron,
		Network:             "mainnet",
		Address:             address,
		EncryptedPrivateKey: encryptedKey,
	}
}

func TestSweepMovesFullTokenBalance(t *testing.T) {
	adapter := &fakeAdapter{chain: entities.ChainTron, balances: map[string]decimal.Decimal{}}
	walletRepo := new(MockWalletRepo)
	txRepo := new(MockTransactionRepo)
	engine, encryptedKey := testEngine(t, adapter, walletRepo, txRepo)

	wallet := tronWallet("TGehVcNhud84JDCGrNHKVz9jEAVKUpbuiv", encryptedKey)
	adapter.balances[balanceKey(wallet.Address, "USDT")] = decimal.RequireFromString("125.4")
	// Above the 50 TRX threshold and enough gas already, no top-up needed
	adapter.balances[balanceKey(wallet.Address, "TRX")] = decimal.NewFromInt(60)

	walletRepo.On("ListWalletsByChain", mock.Anything, entities.ChainTron).Return([]*entities.Wallet{wallet}, nil)
	txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	engine.RunCycle(context.Background())

	require.Len(t, adapter.submissions, 2)

	// Token sweep first, full balance to the pool
	assert.Equal(t, "USDT", adapter.submissions[0].symbol)
	assert.Equal(t, wallet.Address, adapter.submissions[0].from)
	assert.Equal(t, poolAddress, adapter.submissions[0].to)
	assert.True(t, adapter.submissions[0].amount.Equal(decimal.RequireFromString("125.4")))

	// Native sweep leaves the 1.1 TRX fee buffer behind
	assert.Equal(t, "TRX", adapter.submissions[1].symbol)
	assert.True(t, adapter.submissions[1].amount.Equal(decimal.RequireFromString("58.9")))
}

func TestSweepTopsUpGasFromPool(t *testing.T) {
	adapter := &fakeAdapter{chain: entities.ChainTron, balances: map[string]decimal.Decimal{}}
	walletRepo := new(MockWalletRepo)
	txRepo := new(MockTransactionRepo)
	engine, encryptedKey := testEngine(t, adapter, walletRepo, txRepo)

	wallet := tronWallet("TGehVcNhud84JDCGrNHKVz9jEAVKUpbuiv", encryptedKey)
	adapter.balances[balanceKey(wallet.Address, "USDT")] = decimal.NewFromInt(200)
	// 5 TRX cannot pay a TRC20 transfer, so the pool must fund it first
	adapter.balances[balanceKey(wallet.Address, "TRX")] = decimal.NewFromInt(5)

	walletRepo.On("ListWalletsByChain", mock.Anything, entities.ChainTron).Return([]*entities.Wallet{wallet}, nil)
	txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	engine.RunCycle(context.Background())

	require.NotEmpty(t, adapter.submissions)

	topUp := adapter.submissions[0]
	assert.Equal(t, poolAddress, topUp.from)
	assert.Equal(t, wallet.Address, topUp.to)
	assert.Equal(t, "TRX", topUp.symbol)
	assert.True(t, topUp.amount.Equal(decimal.NewFromInt(30)))

	sweep := adapter.submissions[1]
	assert.Equal(t, "USDT", sweep.symbol)
	assert.True(t, sweep.amount.Equal(decimal.NewFromInt(200)))
}

func TestSweepSkipsBelowThreshold(t *testing.T) {
	adapter := &fakeAdapter{chain: entities.ChainTron, balances: map[string]decimal.Decimal{}}
	walletRepo := new(MockWalletRepo)
	txRepo := new(MockTransactionRepo)
	engine, encryptedKey := testEngine(t, adapter, walletRepo, txRepo)

	wallet := tronWallet("TGehVcNhud84JDCGrNHKVz9jEAVKUpbuiv", encryptedKey)
	adapter.balances[balanceKey(wallet.Address, "USDT")] = decimal.RequireFromString("9.99")
	adapter.balances[balanceKey(wallet.Address, "TRX")] = decimal.NewFromInt(49)

	walletRepo.On("ListWalletsByChain", mock.Anything, entities.ChainTron).Return([]*entities.Wallet{wallet}, nil)

	engine.RunCycle(context.Background())

	assert.Empty(t, adapter.submissions)
	txRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSweepRecordsAuditRow(t *testing.T) {
	adapter := &fakeAdapter{chain: entities.ChainTron, balances: map[string]decimal.Decimal{}}
	walletRepo := new(MockWalletRepo)
	txRepo := new(MockTransactionRepo)
	engine, encryptedKey := testEngine(t, adapter, walletRepo, txRepo)

	wallet := tronWallet("TGehVcNhud84JDCGrNHKVz9jEAVKUpbuiv", encryptedKey)
	adapter.balances[balanceKey(wallet.Address, "USDT")] = decimal.NewFromInt(50)
	adapter.balances[balanceKey(wallet.Address, "TRX")] = decimal.NewFromInt(40)

	walletRepo.On("ListWalletsByChain", mock.Anything, entities.ChainTron).Return([]*entities.Wallet{wallet}, nil)

	var recorded []*entities.Transaction
	txRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		recorded = append(recorded, args.Get(1).(*entities.Transaction))
	}).Return(nil)

	engine.RunCycle(context.Background())

	require.NotEmpty(t, recorded)
	assert.Equal(t, entities.TransactionTypeSweep, recorded[0].Type)
	assert.Equal(t, entities.TransactionStatusCompleted, recorded[0].Status)
	assert.Equal(t, wallet.UserID, recorded[0].UserID)
	assert.True(t, recorded[0].Fee.IsZero())
}
