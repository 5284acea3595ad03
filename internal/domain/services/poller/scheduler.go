package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	chainadapter "github.com/custody-service/custody_service/internal/adapters/chain"
	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
	"github.com/custody-service/custody_service/pkg/logger"
	"github.com/custody-service/custody_service/pkg/metrics"
)

// WalletRepository lists the addresses one chain watches
type WalletRepository interface {
	ListByChain(ctx context.Context, chain entities.Chain) ([]entities.MonitoredAddress, error)
}

// TransferProcessor credits observed transfers
type TransferProcessor interface {
	Process(ctx context.Context, userID uuid.UUID, chain entities.Chain, transfer chainadapter.Transfer) (bool, error)
}

// chainPoller is the per-chain polling state.
type chainPoller struct {
	adapter  chainadapter.Adapter
	cfg      config.ChainConfig
	inFlight atomic.Bool
}

// Scheduler runs one independent polling loop per enabled chain. A slow
// cycle never stacks behind the ticker: an overlapping tick is skipped and
// the next one picks up whatever the slow cycle missed.
type Scheduler struct {
	pollers    map[entities.Chain]*chainPoller
	walletRepo WalletRepository
	processor  TransferProcessor
	logger     *logger.Logger
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
	mu         sync.RWMutex
}

// NewScheduler creates a deposit poller over the given adapters.
func NewScheduler(
	adapters []chainadapter.Adapter,
	chains config.ChainsConfig,
	walletRepo WalletRepository,
	processor TransferProcessor,
	logger *logger.Logger,
) *Scheduler {
	pollers := make(map[entities.Chain]*chainPoller)
	for _, adapter := range adapters {
		cfg, ok := chains.ByChain(string(adapter.Name()))
		if !ok || !cfg.Enabled {
			continue
		}
		pollers[adapter.Name()] = &chainPoller{adapter: adapter, cfg: cfg}
	}

	return &Scheduler{
		pollers:    pollers,
		walletRepo: walletRepo,
		processor:  processor,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the per-chain polling loops
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("poller is already running")
	}
	s.running = true
	s.mu.Unlock()

	for chain, poller := range s.pollers {
		s.wg.Add(1)
		go s.runChain(ctx, chain, poller)
	}

	s.logger.Info("Deposit poller started", "chains", len(s.pollers))
	return nil
}

// Stop gracefully stops the poller
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("poller is not running")
	}
	s.mu.Unlock()

	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Deposit poller stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Warn("Deposit poller stop timeout - forcing shutdown")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// IsRunning returns true if the poller is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) runChain(ctx context.Context, chain entities.Chain, poller *chainPoller) {
	defer s.wg.Done()

	interval := time.Duration(poller.cfg.PollInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Chain polling started",
		"chain", string(chain),
		"interval", interval.String(),
	)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !poller.inFlight.CompareAndSwap(false, true) {
				s.logger.Debug("skipping overlapping poll cycle", "chain", string(chain))
				continue
			}
			s.scanChain(ctx, chain, poller)
			poller.inFlight.Store(false)
		}
	}
}

// ScanOnce runs a single poll cycle for one chain, used by the manual scan
// endpoint. Returns the number of newly credited deposits.
func (s *Scheduler) ScanOnce(ctx context.Context, chain entities.Chain) (int, error) {
	poller, ok := s.pollers[chain]
	if !ok {
		return 0, domainerrors.ValidationError("chain", "chain is not enabled")
	}

	if !poller.inFlight.CompareAndSwap(false, true) {
		return 0, domainerrors.ServiceUnavailableError("poller", fmt.Errorf("scan already in progress for %s", chain))
	}
	defer poller.inFlight.Store(false)

	return s.scan(ctx, chain, poller)
}

func (s *Scheduler) scanChain(ctx context.Context, chain entities.Chain, poller *chainPoller) {
	start := time.Now()
	credited, err := s.scan(ctx, chain, poller)
	metrics.PollCycleDuration.WithLabelValues(string(chain)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues(string(chain), "error").Inc()
		s.logger.Error("poll cycle failed",
			"chain", string(chain),
			"error", err,
		)
		return
	}

	metrics.PollCyclesTotal.WithLabelValues(string(chain), "ok").Inc()
	if credited > 0 {
		s.logger.Info("poll cycle credited deposits",
			"chain", string(chain),
			"credited", credited,
		)
	}
}

// scan walks every monitored address on the chain. A failure on one address
// is logged and skipped so the rest of the cycle still runs; only a failure
// to list the addresses aborts the cycle.
func (s *Scheduler) scan(ctx context.Context, chain entities.Chain, poller *chainPoller) (int, error) {
	addresses, err := s.walletRepo.ListByChain(ctx, chain)
	if err != nil {
		return 0, fmt.Errorf("list monitored addresses: %w", err)
	}

	credited := 0
	for _, addr := range addresses {
		select {
		case <-ctx.Done():
			return credited, ctx.Err()
		default:
		}

		transfers, err := poller.adapter.ListInboundTransfers(ctx, addr.Address, poller.cfg.ScanLimit)
		if err != nil {
			s.logger.Warn("address scan failed",
				"chain", string(chain),
				"address", addr.Address,
				"error", err,
			)
			continue
		}

		for _, transfer := range transfers {
			isNew, err := s.processor.Process(ctx, addr.UserID, chain, transfer)
			if err != nil {
				s.logger.Error("transfer processing failed",
					"chain", string(chain),
					"tx_hash", transfer.TxHash,
					"error", err,
				)
				continue
			}
			if isNew {
				credited++
			}
		}
	}

	return credited, nil
}
