package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// maxSaleRetries bounds the internal read-allocate-decrement retry loop.
	// A sale that still conflicts after this many fresh reads surfaces
	// CONCURRENCY_CONFLICT to the caller as a transient failure.
	maxSaleRetries = 3
	// saleRetryBackoff is the fixed pause between conflict retries. Small
	// and constant so worst-case sale latency stays bounded.
	saleRetryBackoff = 25 * time.Millisecond
	// maxBatchNumberAttempts bounds retries when a generated batch number
	// collides with an externally supplied one in the same namespace.
	maxBatchNumberAttempts = 5
)

// LedgerService coordinates the batch ledger's write operations: goods
// received, sales (preview and settlement), and batch write-offs. Each sale
// commits the FIFO allocation's batch decrements, the audit movements and the
// product stock-aggregate update as one atomic unit, or none of it.
type LedgerService struct {
	scope        TransactionScope
	batchRepo    ledger.BatchRepository
	movementRepo ledger.StockMovementRepository
	sequenceRepo ledger.SequenceRepository
	reportCache  ReportCache
	logger       *zap.Logger
	nowFunc      func() time.Time
	retryBackoff time.Duration
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(
	scope TransactionScope,
	batchRepo ledger.BatchRepository,
	movementRepo ledger.StockMovementRepository,
	sequenceRepo ledger.SequenceRepository,
	logger *zap.Logger,
) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		scope:        scope,
		batchRepo:    batchRepo,
		movementRepo: movementRepo,
		sequenceRepo: sequenceRepo,
		logger:       logger,
		nowFunc:      time.Now,
		retryBackoff: saleRetryBackoff,
	}
}

// SetReportCache wires the optional read-cache so writes can invalidate it
func (s *LedgerService) SetReportCache(cache ReportCache) {
	s.reportCache = cache
}

// SetNowFunc overrides the clock (tests)
func (s *LedgerService) SetNowFunc(now func() time.Time) {
	s.nowFunc = now
}

// ReceiveGoods creates a batch from the purchasing workflow's goods-received
// event. The batch number is either supplied by the caller or generated from
// the per-day sequence; generated numbers share a namespace with supplied
// ones, so collisions are retried with a fresh sequence value.
func (s *LedgerService) ReceiveGoods(ctx context.Context, req GoodsReceivedRequest) (*BatchResponse, error) {
	now := s.nowFunc()
	generated := !req.BatchNumber.IsSupplied()

	for attempt := 1; attempt <= maxBatchNumberAttempts; attempt++ {
		batchNumber, err := s.issueBatchNumber(ctx, req.BatchNumber, now)
		if err != nil {
			if generated && errors.Is(err, errBatchNumberTaken) {
				s.logger.Warn("generated batch number collided, retrying",
					zap.Int("attempt", attempt),
				)
				continue
			}
			return nil, err
		}

		batch, err := ledger.NewBatch(
			batchNumber,
			req.ProductID,
			req.Quantity,
			req.CostPrice,
			req.SellingPrice,
			req.PurchaseDate,
			req.ManufactureDate,
			req.ExpiryDate,
			req.SupplierRef,
			req.PurchaseOrderRef,
			req.Location,
			now,
		)
		if err != nil {
			return nil, err
		}

		movement, err := ledger.NewStockMovement(
			batch.ID, batch.BatchNumber, batch.ProductID,
			batch.InitialQuantity, ledger.MovementReasonPurchaseReceived,
			req.Actor, now,
		)
		if err != nil {
			return nil, err
		}

		err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			if err := repos.Batches().Create(ctx, batch); err != nil {
				return err
			}
			if err := repos.Movements().Create(ctx, movement); err != nil {
				return err
			}
			return repos.ProductStock().AdjustStock(ctx, batch.ProductID, batch.InitialQuantity)
		})
		if err != nil {
			// The unique index is the final arbiter: a generated number can
			// still lose the insert race after the existence check said it
			// was free, and that counts as one more collision.
			if generated && errors.Is(err, shared.ErrAlreadyExists) {
				s.logger.Warn("generated batch number lost the insert race, retrying",
					zap.String("batch_number", batchNumber),
					zap.Int("attempt", attempt),
				)
				continue
			}
			return nil, err
		}

		s.invalidateReports(ctx)
		s.logger.Info("goods received",
			zap.String("batch_number", batch.BatchNumber),
			zap.String("product_id", batch.ProductID.String()),
			zap.String("quantity", batch.InitialQuantity.String()),
		)

		resp := ToBatchResponse(batch)
		return &resp, nil
	}
	return nil, shared.ErrIdentifierCollision
}

// errBatchNumberTaken signals that a generated candidate is already in use
// and the caller may draw a fresh sequence value.
var errBatchNumberTaken = errors.New("batch number already taken")

// issueBatchNumber resolves the batch-number spec to one candidate: supplied
// values must be free, generated values draw the next sequence value and are
// pre-checked against existing numbers. The retry loop and its bound live in
// ReceiveGoods, which also counts insert races the pre-check cannot see.
func (s *LedgerService) issueBatchNumber(ctx context.Context, spec ledger.BatchNumberSpec, now time.Time) (string, error) {
	if spec.IsSupplied() {
		taken, err := s.batchRepo.ExistsByBatchNumber(ctx, spec.Value)
		if err != nil {
			return "", err
		}
		if taken {
			return "", shared.ErrAlreadyExists
		}
		return spec.Value, nil
	}

	seq, err := s.sequenceRepo.Next(ctx, ledger.BatchNumberKey)
	if err != nil {
		return "", err
	}
	candidate := ledger.FormatBatchNumber(now, seq)
	taken, err := s.batchRepo.ExistsByBatchNumber(ctx, candidate)
	if err != nil {
		return "", err
	}
	if taken {
		return "", errBatchNumberTaken
	}
	return candidate, nil
}

// SellOption customizes a sale or preview
type SellOption func(*sellOptions)

type sellOptions struct {
	unitPrice *decimal.Decimal
	actor     string
}

// WithSellUnitPrice overrides the per-unit selling price for every allocated line
func WithSellUnitPrice(price decimal.Decimal) SellOption {
	return func(o *sellOptions) {
		p := price
		o.unitPrice = &p
	}
}

// WithActor records who performed the sale on the audit movements
func WithActor(actor string) SellOption {
	return func(o *sellOptions) {
		o.actor = actor
	}
}

// PreviewSale returns the exact price/cost breakdown a sale of the given
// quantity would settle at: same FIFO order, same batches, same totals.
// Nothing is mutated.
func (s *LedgerService) PreviewSale(ctx context.Context, productID uuid.UUID, quantity decimal.Decimal, opts ...SellOption) (*AllocationResponse, error) {
	alloc, err := s.plan(ctx, productID, quantity, s.nowFunc(), opts...)
	if err != nil {
		return nil, err
	}
	resp := ToAllocationResponse(alloc)
	return &resp, nil
}

// Sell allocates the requested quantity FIFO across the product's batches and
// commits the decrements, one audit movement per batch consumed, and the
// product stock-aggregate update atomically.
//
// A conditional decrement that loses a race is rolled back wholesale and the
// cycle restarts from a fresh read, up to maxSaleRetries; the bounded retry is
// invisible to the caller. Insufficient stock is terminal and never retried.
func (s *LedgerService) Sell(ctx context.Context, productID uuid.UUID, quantity decimal.Decimal, opts ...SellOption) (*SaleResult, error) {
	var options sellOptions
	for _, opt := range opts {
		opt(&options)
	}

	var lastErr error
	for attempt := 1; attempt <= maxSaleRetries; attempt++ {
		now := s.nowFunc()
		alloc, err := s.plan(ctx, productID, quantity, now, opts...)
		if err != nil {
			// Insufficient or expired stock cannot be fixed by retrying.
			return nil, err
		}

		err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			return s.commitAllocation(ctx, repos, alloc, now, options.actor)
		})
		if err == nil {
			s.invalidateReports(ctx)
			s.logger.Info("sale committed",
				zap.String("product_id", productID.String()),
				zap.String("quantity", quantity.String()),
				zap.Int("batches", len(alloc.Lines)),
				zap.Int("attempt", attempt),
			)
			return &SaleResult{
				SaleID:     uuid.New(),
				Allocation: ToAllocationResponse(alloc),
				SoldAt:     now,
			}, nil
		}

		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("sale hit a concurrent writer, retrying from a fresh read",
			zap.String("product_id", productID.String()),
			zap.Int("attempt", attempt),
		)
		time.Sleep(s.retryBackoff)
	}
	return nil, lastErr
}

// plan reads the product's allocatable batches fresh and runs the FIFO engine
func (s *LedgerService) plan(ctx context.Context, productID uuid.UUID, quantity decimal.Decimal, now time.Time, opts ...SellOption) (*ledger.Allocation, error) {
	var options sellOptions
	for _, opt := range opts {
		opt(&options)
	}

	batches, err := s.batchRepo.FindActiveByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	var allocOpts []ledger.AllocateOption
	if options.unitPrice != nil {
		allocOpts = append(allocOpts, ledger.WithUnitPrice(*options.unitPrice))
	}
	return ledger.AllocateFIFO(productID, batches, quantity, now, allocOpts...)
}

// commitAllocation applies one allocation inside an open transaction:
// conditional decrement plus movement per line, then the aggregate update.
// Any conflict aborts the whole transaction.
func (s *LedgerService) commitAllocation(ctx context.Context, repos TransactionalRepositories, alloc *ledger.Allocation, now time.Time, actor string) error {
	for _, line := range alloc.Lines {
		if err := repos.Batches().DecrementQuantity(ctx, line.BatchID, line.Quantity, line.ExpectedCurrent); err != nil {
			return err
		}
		movement, err := ledger.NewStockMovement(
			line.BatchID, line.BatchNumber, alloc.ProductID,
			line.Quantity, ledger.MovementReasonSale, actor, now,
		)
		if err != nil {
			return err
		}
		if err := repos.Movements().Create(ctx, movement); err != nil {
			return err
		}
	}
	return repos.ProductStock().AdjustStock(ctx, alloc.ProductID, alloc.TotalQuantity.Neg())
}

// MarkDamaged writes off a batch's remaining stock as damaged
func (s *LedgerService) MarkDamaged(ctx context.Context, batchID uuid.UUID, actor string) (*BatchResponse, error) {
	return s.retireBatch(ctx, batchID, ledger.BatchStatusDamaged, ledger.MovementReasonDamaged, actor)
}

// ReturnToSupplier sends a batch's remaining stock back to the supplier
func (s *LedgerService) ReturnToSupplier(ctx context.Context, batchID uuid.UUID, actor string) (*BatchResponse, error) {
	return s.retireBatch(ctx, batchID, ledger.BatchStatusReturned, ledger.MovementReasonReturnedToSupplier, actor)
}

// retireBatch moves an active batch into a terminal status, releasing its
// remaining stock, with the same conditional-update guard sales use.
func (s *LedgerService) retireBatch(ctx context.Context, batchID uuid.UUID, status ledger.BatchStatus, reason ledger.MovementReason, actor string) (*BatchResponse, error) {
	now := s.nowFunc()

	batch, err := s.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != ledger.BatchStatusActive {
		return nil, shared.ErrInvalidBatchState
	}
	released := batch.CurrentQuantity

	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := repos.Batches().UpdateStatus(ctx, batchID, status, released); err != nil {
			return err
		}
		if released.GreaterThan(decimal.Zero) {
			movement, err := ledger.NewStockMovement(
				batch.ID, batch.BatchNumber, batch.ProductID,
				released, reason, actor, now,
			)
			if err != nil {
				return err
			}
			if err := repos.Movements().Create(ctx, movement); err != nil {
				return err
			}
			if err := repos.ProductStock().AdjustStock(ctx, batch.ProductID, released.Neg()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateReports(ctx)
	s.logger.Info("batch retired",
		zap.String("batch_number", batch.BatchNumber),
		zap.String("status", status.String()),
		zap.String("released", released.String()),
	)

	updated, err := s.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	resp := ToBatchResponse(updated)
	return &resp, nil
}

// GetBatch returns one batch by ID
func (s *LedgerService) GetBatch(ctx context.Context, batchID uuid.UUID) (*BatchResponse, error) {
	batch, err := s.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	resp := ToBatchResponse(batch)
	return &resp, nil
}

// ListBatches returns a product's batches in FIFO order
func (s *LedgerService) ListBatches(ctx context.Context, productID uuid.UUID) ([]BatchResponse, error) {
	batches, err := s.batchRepo.FindByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return ToBatchResponses(batches), nil
}

// ListBatchMovements returns a batch's audit trail, oldest first
func (s *LedgerService) ListBatchMovements(ctx context.Context, batchID uuid.UUID) ([]MovementResponse, error) {
	movements, err := s.movementRepo.FindByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return ToMovementResponses(movements), nil
}

// invalidateReports drops cached report reads after a write; failures are
// logged, never propagated (the cache has a short TTL anyway)
func (s *LedgerService) invalidateReports(ctx context.Context) {
	if s.reportCache == nil {
		return
	}
	if err := s.reportCache.Invalidate(ctx, valuationCacheKey, expiringSoonCacheKey); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.Error(err))
	}
}
