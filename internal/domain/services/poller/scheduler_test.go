package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chainadapter "github.com/custody-service/custody_service/internal/adapters/chain"
	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
	"github.com/custody-service/custody_service/pkg/logger"
)

// fakeAdapter serves per-address transfer lists and can block to simulate
// a slow RPC
type fakeAdapter struct {
	chain     entities.Chain
	transfers map[string][]chainadapter.Transfer
	errors    map[string]error
	block     chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func (f *fakeAdapter) Name() entities.Chain { return f.chain }

func (f *fakeAdapter) GetBalance(ctx context.Context, address string, asset entities.Asset) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeAdapter) ListInboundTransfers(ctx context.Context, address string, limit int) ([]chainadapter.Transfer, error) {
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	if err, ok := f.errors[address]; ok {
		return nil, err
	}
	return f.transfers[address], nil
}

func (f *fakeAdapter) SubmitTransfer(ctx context.Context, signer chainadapter.Signer, toAddress string, asset entities.Asset, amount decimal.Decimal) (string, error) {
	return "", errors.New("not supported")
}

func (f *fakeAdapter) WaitForConfirmation(ctx context.Context, txHash string) (*chainadapter.Receipt, error) {
	return nil, errors.New("not supported")
}

func (f *fakeAdapter) ValidateAddress(address string) bool { return true }

type fakeWalletRepo struct {
	addresses []entities.MonitoredAddress
	err       error
}

func (f *fakeWalletRepo) ListByChain(ctx context.Context, chain entities.Chain) ([]entities.MonitoredAddress, error) {
	return f.addresses, f.err
}

type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
	creditAll bool
	failOn    string
}

func (r *recordingProcessor) Process(ctx context.Context, userID uuid.UUID, chain entities.Chain, transfer chainadapter.Transfer) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if transfer.TxHash == r.failOn {
		return false, errors.New("processing failed")
	}
	r.processed = append(r.processed, transfer.TxHash)
	return r.creditAll, nil
}

func (r *recordingProcessor) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.processed...)
}

func solanaChains() config.ChainsConfig {
	return config.ChainsConfig{
		Solana: config.ChainConfig{
			Enabled:      true,
			PollInterval: 1,
			ScanLimit:    20,
		},
	}
}

func transfer(txHash, to string) chainadapter.Transfer {
	return chainadapter.Transfer{
		TxHash:    txHash,
		ToAddress: to,
		Currency:  "SOL",
		Amount:    decimal.NewFromInt(1),
	}
}

func TestScanOnceCreditsAllAddresses(t *testing.T) {
	addr1 := entities.MonitoredAddress{UserID: uuid.New(), Address: "addr-1"}
	addr2 := entities.MonitoredAddress{UserID: uuid.New(), Address: "addr-2"}

	adapter := &fakeAdapter{
		chain: entities.ChainSolana,
		transfers: map[string][]chainadapter.Transfer{
			"addr-1": {transfer("tx-1", "addr-1")},
			"addr-2": {transfer("tx-2", "addr-2"), transfer("tx-3", "addr-2")},
		},
	}
	processor := &recordingProcessor{creditAll: true}

	s := NewScheduler(
		[]chainadapter.Adapter{adapter},
		solanaChains(),
		&fakeWalletRepo{addresses: []entities.MonitoredAddress{addr1, addr2}},
		processor,
		logger.New("error", "test"),
	)

	credited, err := s.ScanOnce(context.Background(), entities.ChainSolana)
	require.NoError(t, err)
	assert.Equal(t, 3, credited)
	assert.ElementsMatch(t, []string{"tx-1", "tx-2", "tx-3"}, processor.seen())
}

func TestScanOnceIsolatesAddressFailures(t *testing.T) {
	addr1 := entities.MonitoredAddress{UserID: uuid.New(), Address: "addr-1"}
	addr2 := entities.MonitoredAddress{UserID: uuid.New(), Address: "addr-2"}

	adapter := &fakeAdapter{
		chain: entities.ChainSolana,
		transfers: map[string][]chainadapter.Transfer{
			"addr-2": {transfer("tx-2", "addr-2")},
		},
		errors: map[string]error{"addr-1": errors.New("rpc timeout")},
	}
	processor := &recordingProcessor{creditAll: true}

	s := NewScheduler(
		[]chainadapter.Adapter{adapter},
		solanaChains(),
		&fakeWalletRepo{addresses: []entities.MonitoredAddress{addr1, addr2}},
		processor,
		logger.New("error", "test"),
	)

	credited, err := s.ScanOnce(context.Background(), entities.ChainSolana)
	require.NoError(t, err)
	assert.Equal(t, 1, credited)
	assert.Equal(t, []string{"tx-2"}, processor.seen())
}

func TestScanOnceToleratesProcessorErrors(t *testing.T) {
	addr := entities.MonitoredAddress{UserID: uuid.New(), Address: "addr-1"}

	adapter := &fakeAdapter{
		chain: entities.ChainSolana,
		transfers: map[string][]chainadapter.Transfer{
			"addr-1": {transfer("tx-bad", "addr-1"), transfer("tx-good", "addr-1")},
		},
	}
	processor := &recordingProcessor{creditAll: true, failOn: "tx-bad"}

	s := NewScheduler(
		[]chainadapter.Adapter{adapter},
		solanaChains(),
		&fakeWalletRepo{addresses: []entities.MonitoredAddress{addr}},
		processor,
		logger.New("error", "test"),
	)

	credited, err := s.ScanOnce(context.Background(), entities.ChainSolana)
	require.NoError(t, err)
	assert.Equal(t, 1, credited)
}

func TestScanOnceRejectsDisabledChain(t *testing.T) {
	s := NewScheduler(
		nil,
		config.ChainsConfig{},
		&fakeWalletRepo{},
		&recordingProcessor{},
		logger.New("error", "test"),
	)

	_, err := s.ScanOnce(context.Background(), entities.ChainTron)
	require.Error(t, err)
	assert.True(t, domainerrors.IsInvalidInput(err))
}

func TestScanOnceRefusesOverlap(t *testing.T) {
	addr := entities.MonitoredAddress{UserID: uuid.New(), Address: "addr-1"}
	block := make(chan struct{})
	started := make(chan struct{})
	adapter := &fakeAdapter{
		chain:     entities.ChainSolana,
		transfers: map[string][]chainadapter.Transfer{},
		block:     block,
		started:   started,
	}

	s := NewScheduler(
		[]chainadapter.Adapter{adapter},
		solanaChains(),
		&fakeWalletRepo{addresses: []entities.MonitoredAddress{addr}},
		&recordingProcessor{},
		logger.New("error", "test"),
	)

	firstDone := make(chan struct{})
	go func() {
		_, _ = s.ScanOnce(context.Background(), entities.ChainSolana)
		close(firstDone)
	}()

	// Wait for the first scan to be in flight, then a second must be refused
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first scan never started")
	}
	_, err := s.ScanOnce(context.Background(), entities.ChainSolana)
	require.Error(t, err)

	close(block)
	<-firstDone

	// With the first scan finished the chain accepts scans again
	_, err = s.ScanOnce(context.Background(), entities.ChainSolana)
	require.NoError(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	adapter := &fakeAdapter{chain: entities.ChainSolana, transfers: map[string][]chainadapter.Transfer{}}

	s := NewScheduler(
		[]chainadapter.Adapter{adapter},
		solanaChains(),
		&fakeWalletRepo{},
		&recordingProcessor{},
		logger.New("error", "test"),
	)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(context.Background()))

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.False(t, s.IsRunning())
}
