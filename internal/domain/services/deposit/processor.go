package deposit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	chainadapter "github.com/custody-service/custody_service/internal/adapters/chain"
	"github.com/custody-service/custody_service/internal/adapters/oracle"
	"github.com/custody-service/custody_service/internal/domain/entities"
	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
	"github.com/custody-service/custody_service/internal/infrastructure/database"
	"github.com/custody-service/custody_service/pkg/crypto"
	"github.com/custody-service/custody_service/pkg/logger"
	"github.com/custody-service/custody_service/pkg/metrics"
)

// DepositRepository handles deposit persistence
type DepositRepository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, deposit *entities.Deposit) error
	GetByTxHash(ctx context.Context, txHash string) (*entities.Deposit, error)
}

// BalanceRepository credits the ledger
type BalanceRepository interface {
	CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal) error
}

// ProcessedCache is the recent-hit cache in front of the database lookup
type ProcessedCache interface {
	Seen(ctx context.Context, chain, txHash string) bool
	Mark(ctx context.Context, chain, txHash string) error
}

// RateOracle quotes fiat conversions for credited deposits
type RateOracle interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (*oracle.Conversion, error)
}

// Processor turns observed transfers into exactly-once balance credits.
//
// Dedup runs through four layers, cheapest first: the in-memory seen set,
// the cache, the deposit lookup by hash, and finally the unique index that
// catches concurrent racers at commit time. Only the last one is load
// bearing for correctness.
type Processor struct {
	db          *sqlx.DB
	depositRepo DepositRepository
	balanceRepo BalanceRepository
	cache       ProcessedCache
	oracle      RateOracle
	seen        *SeenSet
	logger      *logger.Logger
	runTx       func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

// NewProcessor creates a deposit processor.
func NewProcessor(
	db *sqlx.DB,
	depositRepo DepositRepository,
	balanceRepo BalanceRepository,
	cache ProcessedCache,
	rateOracle RateOracle,
	logger *logger.Logger,
) *Processor {
	return &Processor{
		db:          db,
		depositRepo: depositRepo,
		balanceRepo: balanceRepo,
		cache:       cache,
		oracle:      rateOracle,
		seen:        NewSeenSet(0),
		logger:      logger,
		runTx: func(ctx context.Context, fn func(*sqlx.Tx) error) error {
			return database.WithTransaction(ctx, db, fn)
		},
	}
}

// Process credits one observed transfer to its user. Returns true when a
// new deposit was credited, false when the transfer was already known.
// Re-detections are a success no-op by contract, never an error.
func (p *Processor) Process(ctx context.Context, userID uuid.UUID, chain entities.Chain, transfer chainadapter.Transfer) (bool, error) {
	if transfer.TxHash == "" {
		return false, domainerrors.ValidationError("tx_hash", "transfer has no transaction hash")
	}
	if transfer.Amount.Sign() <= 0 {
		return false, domainerrors.ValidationError("amount", "transfer amount must be positive")
	}

	if p.seen.Contains(transfer.TxHash) {
		return false, nil
	}

	if p.cache.Seen(ctx, string(chain), transfer.TxHash) {
		p.seen.Add(transfer.TxHash)
		return false, nil
	}

	existing, err := p.depositRepo.GetByTxHash(ctx, transfer.TxHash)
	if err != nil && !domainerrors.IsNotFound(err) {
		return false, fmt.Errorf("dedup lookup for %s: %w", transfer.TxHash, err)
	}
	if existing != nil {
		p.markProcessed(ctx, chain, transfer.TxHash)
		metrics.DuplicateDepositsTotal.WithLabelValues(string(chain)).Inc()
		return false, nil
	}

	deposit, err := p.buildDeposit(ctx, userID, chain, transfer)
	if err != nil {
		return false, err
	}

	err = p.runTx(ctx, func(tx *sqlx.Tx) error {
		if err := p.depositRepo.CreateTx(ctx, tx, deposit); err != nil {
			return err
		}
		return p.balanceRepo.CreditTx(ctx, tx, userID, deposit.Currency, deposit.Amount)
	})
	if err != nil {
		// A concurrent detection won the insert race. The credit belongs
		// to the winner; this path is a clean no-op.
		if domainerrors.IsDuplicateTxHash(err) {
			p.markProcessed(ctx, chain, transfer.TxHash)
			metrics.DuplicateDepositsTotal.WithLabelValues(string(chain)).Inc()
			return false, nil
		}
		return false, fmt.Errorf("credit deposit %s: %w", transfer.TxHash, err)
	}

	p.markProcessed(ctx, chain, transfer.TxHash)
	metrics.DepositsCreditedTotal.WithLabelValues(string(chain), deposit.Currency).Inc()

	p.logger.Info("deposit credited",
		"tx_hash", deposit.TxHash,
		"user_id", userID.String(),
		"chain", string(chain),
		"currency", deposit.Currency,
		"amount", deposit.Amount.String(),
	)

	return true, nil
}

// buildDeposit assembles the deposit record, quoting the fiat arrival value
// when the oracle is reachable and degrading to an unpriced credit when not.
func (p *Processor) buildDeposit(ctx context.Context, userID uuid.UUID, chain entities.Chain, transfer chainadapter.Transfer) (*entities.Deposit, error) {
	orderSuffix, err := crypto.GenerateRandomString(12)
	if err != nil {
		return nil, fmt.Errorf("generate order id: %w", err)
	}

	now := time.Now()
	deposit := &entities.Deposit{
		ID:            uuid.New(),
		OrderID:       "DEP-" + orderSuffix,
		UserID:        userID,
		TxHash:        transfer.TxHash,
		ToAddress:     transfer.ToAddress,
		Currency:      transfer.Currency,
		Network:       chain,
		Amount:        transfer.Amount,
		Status:        entities.DepositStatusConfirmed,
		Type:          entities.DepositTypeCrypto,
		Confirmations: int(transfer.Confirmations),
		CreatedAt:     now,
		ConfirmedAt:   &now,
	}
	if transfer.FromAddress != "" {
		from := transfer.FromAddress
		deposit.FromAddress = &from
	}
	if transfer.BlockNumber > 0 {
		block := transfer.BlockNumber
		deposit.BlockNumber = &block
	}

	conversion, err := p.oracle.Convert(ctx, transfer.Amount, transfer.Currency, "USD")
	if err != nil {
		// Crediting the on-chain amount cannot wait for pricing; the
		// deposit is stored without rate fields.
		p.logger.Warn("crediting deposit without fiat valuation",
			"tx_hash", transfer.TxHash,
			"currency", transfer.Currency,
			"error", err,
		)
		return deposit, nil
	}

	rate := conversion.Rate
	realArrival := conversion.Converted
	deposit.Rate = &rate
	deposit.RealArrival = &realArrival
	return deposit, nil
}

func (p *Processor) markProcessed(ctx context.Context, chain entities.Chain, txHash string) {
	p.seen.Add(txHash)
	if err := p.cache.Mark(ctx, string(chain), txHash); err != nil {
		p.logger.Warn("failed to mark processed tx in cache",
			"tx_hash", txHash,
			"error", err,
		)
	}
}
