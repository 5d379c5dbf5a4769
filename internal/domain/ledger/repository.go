package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchRepository defines the interface for batch persistence.
//
// Batches are append-only history: they are created on goods-received events
// and retired by status change, never deleted. In-place mutation is limited
// to quantity/status updates under optimistic concurrency control
// (DecrementQuantity, UpdateStatus).
type BatchRepository interface {
	// Create persists a new batch. A unique-index violation on the batch
	// number is reported as ALREADY_EXISTS so callers can retry generated
	// identifiers.
	Create(ctx context.Context, batch *Batch) error

	// FindByID finds a batch by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Batch, error)

	// FindByBatchNumber finds a batch by its human-facing number
	FindByBatchNumber(ctx context.Context, batchNumber string) (*Batch, error)

	// ExistsByBatchNumber checks whether a batch number is already taken
	ExistsByBatchNumber(ctx context.Context, batchNumber string) (bool, error)

	// FindByProduct finds all batches for a product in FIFO order
	// (oldest purchase date first, ties broken by creation order)
	FindByProduct(ctx context.Context, productID uuid.UUID) ([]Batch, error)

	// FindActiveByProduct finds ACTIVE batches for a product in the same
	// FIFO order. Expired-but-unswept batches are included; the allocation
	// engine judges expiry against the caller's clock.
	FindActiveByProduct(ctx context.Context, productID uuid.UUID) ([]Batch, error)

	// DecrementQuantity conditionally deducts quantity from a batch:
	// the update applies only while the batch is still ACTIVE and its
	// current quantity equals expectedCurrent. Zero rows affected means a
	// concurrent writer raced ahead and is reported as
	// CONCURRENCY_CONFLICT. Stock can never go negative through this path.
	DecrementQuantity(ctx context.Context, id uuid.UUID, quantity, expectedCurrent decimal.Decimal) error

	// UpdateStatus moves an ACTIVE batch into a terminal status, zeroing
	// the remaining quantity into released quantity. Guarded on the batch
	// still being ACTIVE with current quantity equal to expectedCurrent:
	// a terminal batch reports INVALID_BATCH_STATE, a racing writer
	// CONCURRENCY_CONFLICT.
	UpdateStatus(ctx context.Context, id uuid.UUID, status BatchStatus, expectedCurrent decimal.Decimal) error

	// FindExpired finds ACTIVE batches whose expiry date passed
	FindExpired(ctx context.Context, now time.Time) ([]Batch, error)

	// FindExpiringSoon finds ACTIVE batches expiring in [now, now+window],
	// nearest expiry first
	FindExpiringSoon(ctx context.Context, now time.Time, window time.Duration) ([]Batch, error)

	// ValuationRows aggregates active batches per product in a single
	// statement, so the report reflects one consistent snapshot
	ValuationRows(ctx context.Context) ([]ValuationRow, error)
}

// ValuationRow is one product's rollup over its active batches
type ValuationRow struct {
	ProductID         uuid.UUID
	BatchCount        int64
	TotalQuantity     decimal.Decimal
	TotalCostValue    decimal.Decimal
	TotalSellingValue decimal.Decimal
}

// StockMovementRepository defines the interface for the append-only audit trail
type StockMovementRepository interface {
	// Create appends a movement record; movements are never updated or deleted
	Create(ctx context.Context, movement *StockMovement) error

	// FindByBatch finds all movements for a batch, oldest first
	FindByBatch(ctx context.Context, batchID uuid.UUID) ([]StockMovement, error)

	// FindByProduct finds all movements for a product, oldest first
	FindByProduct(ctx context.Context, productID uuid.UUID) ([]StockMovement, error)
}

// SequenceRepository is the atomic counter behind generated identifiers.
// Next must be a single indivisible read-modify-write: two concurrent calls
// never observe the same value, and an absent counter behaves as zero so the
// first call yields 1 with no separate initialization step. Gaps are
// acceptable.
type SequenceRepository interface {
	Next(ctx context.Context, key string) (int64, error)
}

// ProductStockRepository is the port to the product catalog collaborator,
// which owns the per-product stock display aggregate. The coordinator updates
// it in the same transaction as the batch decrements.
type ProductStockRepository interface {
	// AdjustStock adds delta (negative for sales) to the product's stock
	// aggregate. A decrement that would take the aggregate negative
	// reports CONCURRENCY_CONFLICT so the sale retries from a fresh read.
	AdjustStock(ctx context.Context, productID uuid.UUID, delta decimal.Decimal) error
}
