package withdrawal

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	chainadapter "github.com/custody-service/custody_service/internal/adapters/chain"
	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
	"github.com/custody-service/custody_service/pkg/crypto"
	"github.com/custody-service/custody_service/pkg/logger"
)

type MockBalanceRepo struct {
	mock.Mock
}

func (m *MockBalanceRepo) Get(ctx context.Context, userID uuid.UUID, currency string) (*entities.Balance, error) {
	args := m.Called(ctx, userID, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Balance), args.Error(1)
}

func (m *MockBalanceRepo) Debit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	args := m.Called(ctx, userID, currency, amount)
	return args.Error(0)
}

func (m *MockBalanceRepo) Credit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	args := m.Called(ctx, userID, currency, amount)
	return args.Error(0)
}

type MockTransactionRepo struct {
	mock.Mock
}

func (m *MockTransactionRepo) Create(ctx context.Context, tx *entities.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

// fakeAdapter is a scriptable tron-shaped adapter
type fakeAdapter struct {
	poolBalance   decimal.Decimal
	validAddress  bool
	submitErr     error
	submittedTo   string
	submittedAmt  decimal.Decimal
	submitCalls   int
	balanceCalls  int
	balanceErr    error
	submittedHash string
}

func (f *fakeAdapter) Name() entities.Chain { return entities.ChainTron }

func (f *fakeAdapter) GetBalance(ctx context.Context, address string, asset entities.Asset) (decimal.Decimal, error) {
	f.balanceCalls++
	if f.balanceErr != nil {
		return decimal.Zero, f.balanceErr
	}
	return f.poolBalance, nil
}

func (f *fakeAdapter) ListInboundTransfers(ctx context.Context, address string, limit int) ([]chainadapter.Transfer, error) {
	return nil, nil
}

func (f *fakeAdapter) SubmitTransfer(ctx context.Context, signer chainadapter.Signer, toAddress string, asset entities.Asset, amount decimal.Decimal) (string, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submittedTo = toAddress
	f.submittedAmt = amount
	if f.submittedHash == "" {
		f.submittedHash = "a1b2c3d4e5f6"
	}
	return f.submittedHash, nil
}

func (f *fakeAdapter) WaitForConfirmation(ctx context.Context, txHash string) (*chainadapter.Receipt, error) {
	return &chainadapter.Receipt{TxHash: txHash, Confirmed: true}, nil
}

func (f *fakeAdapter) ValidateAddress(address string) bool { return f.validAddress }

func testEngine(t *testing.T, adapter *fakeAdapter, balanceRepo *MockBalanceRepo, txRepo *MockTransactionRepo) *Engine {
	t.Helper()

	vault, err := crypto.NewKeyVault("unit-test-master-key-0001")
	require.NoError(t, err)
	encryptedKey, err := vault.Encrypt("9c3f1e5a7b2d4c6e8f0a1b3c5d7e9f0a1b3c5d7e9f0a1b3c5d7e9f0a1b3c5d7e")
	require.NoError(t, err)

	chains := config.ChainsConfig{
		Tron: config.ChainConfig{
			Enabled:          true,
			PoolAddress:      "TNPZqenFBQ2ZJbeGU6QfxGzbwvhYD4U9ej",
			PoolEncryptedKey: encryptedKey,
		},
	}
	cfg := config.WithdrawalConfig{
		Fees:            map[string]string{"USDT": "1"},
		MinimumReserves: map[string]string{"USDT": "1"},
	}

	return NewEngine(
		[]chainadapter.Adapter{adapter},
		chains,
		cfg,
		balanceRepo,
		txRepo,
		vault,
		logger.New("error", "test"),
	)
}

func usdtRequest(amount string) *entities.WithdrawalRequest {
	return &entities.WithdrawalRequest{
		UserID:             uuid.New(),
		DestinationAddress: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		Amount:             decimal.RequireFromString(amount),
		Currency:           "USDT",
		Network:            entities.ChainTron,
	}
}

func TestExecuteWithdrawsAndRecords(t *testing.T) {
	adapter := &fakeAdapter{poolBalance: decimal.NewFromInt(1000), validAddress: true}
	balanceRepo := new(MockBalanceRepo)
	txRepo := new(MockTransactionRepo)
	engine := testEngine(t, adapter, balanceRepo, txRepo)

	req := usdtRequest("100")
	total := decimal.NewFromInt(101)

	balanceRepo.On("Debit", mock.Anything, req.UserID, "USDT", total).Return(nil)
	txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	record, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, 1, adapter.submitCalls)
	assert.Equal(t, req.DestinationAddress, adapter.submittedTo)
	assert.True(t, adapter.submittedAmt.Equal(decimal.NewFromInt(100)))

	// The ledger record carries the full debit as a negative amount
	assert.True(t, record.Amount.Equal(total.Neg()))
	assert.True(t, record.Fee.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, entities.TransactionTypeWithdraw, record.Type)
	assert.Equal(t, entities.TransactionStatusCompleted, record.Status)
	balanceRepo.AssertExpectations(t)
}

func TestExecuteRejectsWhenReserveWouldBreak(t *testing.T) {
	// 90 in the pool, 100+1 requested, floor of 1: reject without touching funds
	adapter := &fakeAdapter{poolBalance: decimal.NewFromInt(90), validAddress: true}
	balanceRepo := new(MockBalanceRepo)
	txRepo := new(MockTransactionRepo)
	engine := testEngine(t, adapter, balanceRepo, txRepo)

	_, err := engine.Execute(context.Background(), usdtRequest("100"))
	require.Error(t, err)
	assert.True(t, domainerrors.IsInsufficientPoolLiquidity(err))

	assert.Equal(t, 0, adapter.submitCalls)
	balanceRepo.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteRejectsInvalidDestination(t *testing.T) {
	adapter := &fakeAdapter{poolBalance: decimal.NewFromInt(1000), validAddress: false}
	engine := testEngine(t, adapter, new(MockBalanceRepo), new(MockTransactionRepo))

	_, err := engine.Execute(context.Background(), usdtRequest("10"))
	require.Error(t, err)
	assert.True(t, domainerrors.IsInvalidAddress(err))
	assert.Equal(t, 0, adapter.balanceCalls)
}

func TestExecuteRefundsWhenChainRejects(t *testing.T) {
	adapter := &fakeAdapter{
		poolBalance:  decimal.NewFromInt(1000),
		validAddress: true,
		submitErr:    errors.New("bandwidth exhausted"),
	}
	balanceRepo := new(MockBalanceRepo)
	txRepo := new(MockTransactionRepo)
	engine := testEngine(t, adapter, balanceRepo, txRepo)

	req := usdtRequest("50")
	total := decimal.NewFromInt(51)

	balanceRepo.On("Debit", mock.Anything, req.UserID, "USDT", total).Return(nil)
	balanceRepo.On("Credit", mock.Anything, req.UserID, "USDT", total).Return(nil)

	_, err := engine.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, domainerrors.IsWithdrawalFailed(err))

	// The debit was rolled back and no record was written
	balanceRepo.AssertCalled(t, "Credit", mock.Anything, req.UserID, "USDT", total)
	txRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestExecutePersistsPendingRefundWhenCreditFails(t *testing.T) {
	adapter := &fakeAdapter{
		poolBalance:  decimal.NewFromInt(1000),
		validAddress: true,
		submitErr:    errors.New("bandwidth exhausted"),
	}
	balanceRepo := new(MockBalanceRepo)
	txRepo := new(MockTransactionRepo)
	engine := testEngine(t, adapter, balanceRepo, txRepo)

	req := usdtRequest("50")
	total := decimal.NewFromInt(51)

	balanceRepo.On("Debit", mock.Anything, req.UserID, "USDT", total).Return(nil)
	balanceRepo.On("Credit", mock.Anything, req.UserID, "USDT", total).Return(errors.New("connection reset"))

	var compensation *entities.Transaction
	txRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		compensation = args.Get(1).(*entities.Transaction)
	}).Return(nil)

	_, err := engine.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, domainerrors.IsWithdrawalFailed(err))

	// The dangling debit survives as a replayable pending refund row
	require.NotNil(t, compensation)
	assert.Equal(t, entities.TransactionTypeRefund, compensation.Type)
	assert.Equal(t, entities.TransactionStatusPending, compensation.Status)
	assert.Equal(t, req.UserID, compensation.UserID)
	assert.True(t, compensation.Amount.Equal(total))
	assert.True(t, compensation.Fee.IsZero())
}

func TestExecuteRejectsUnsupportedCurrency(t *testing.T) {
	adapter := &fakeAdapter{poolBalance: decimal.NewFromInt(1000), validAddress: true}
	engine := testEngine(t, adapter, new(MockBalanceRepo), new(MockTransactionRepo))

	req := usdtRequest("10")
	req.Currency = "DOGE"

	_, err := engine.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrUnsupportedCurrency))
}

func TestCanWithdrawQuotes(t *testing.T) {
	adapter := &fakeAdapter{poolBalance: decimal.NewFromInt(1000), validAddress: true}
	balanceRepo := new(MockBalanceRepo)
	engine := testEngine(t, adapter, balanceRepo, new(MockTransactionRepo))

	req := usdtRequest("100")

	balanceRepo.On("Get", mock.Anything, req.UserID, "USDT").Return(&entities.Balance{
		UserID:   req.UserID,
		Currency: "USDT",
		Amount:   decimal.NewFromInt(500),
	}, nil)

	quote, err := engine.CanWithdraw(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, quote.OK)

	// No funds moved during the dry run
	assert.Equal(t, 0, adapter.submitCalls)
	balanceRepo.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCanWithdrawReportsInsufficientBalance(t *testing.T) {
	adapter := &fakeAdapter{poolBalance: decimal.NewFromInt(1000), validAddress: true}
	balanceRepo := new(MockBalanceRepo)
	engine := testEngine(t, adapter, balanceRepo, new(MockTransactionRepo))

	req := usdtRequest("100")

	// 100.5 covers the amount but not the 1 USDT fee on top
	balanceRepo.On("Get", mock.Anything, req.UserID, "USDT").Return(&entities.Balance{
		UserID:   req.UserID,
		Currency: "USDT",
		Amount:   decimal.RequireFromString("100.5"),
	}, nil)

	quote, err := engine.CanWithdraw(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, quote.OK)
	assert.Equal(t, "INSUFFICIENT_BALANCE", quote.Reason)
}

func TestCanWithdrawReportsPoolShortfall(t *testing.T) {
	adapter := &fakeAdapter{poolBalance: decimal.NewFromInt(90), validAddress: true}
	balanceRepo := new(MockBalanceRepo)
	engine := testEngine(t, adapter, balanceRepo, new(MockTransactionRepo))

	req := usdtRequest("100")

	balanceRepo.On("Get", mock.Anything, req.UserID, "USDT").Return(&entities.Balance{
		UserID:   req.UserID,
		Currency: "USDT",
		Amount:   decimal.NewFromInt(500),
	}, nil)

	quote, err := engine.CanWithdraw(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, quote.OK)
	assert.Equal(t, "INSUFFICIENT_POOL_LIQUIDITY", quote.Reason)
}
