package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// fifoOrder is the allocation order: oldest purchase first, creation
// order breaking ties between same-day receipts.
const fifoOrder = "purchase_date ASC, created_at ASC"

// GormBatchRepository implements BatchRepository using GORM
type GormBatchRepository struct {
	db *gorm.DB
}

// NewGormBatchRepository creates a new GormBatchRepository
func NewGormBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: db}
}

// Create persists a new batch
func (r *GormBatchRepository) Create(ctx context.Context, batch *ledger.Batch) error {
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// FindByID finds a batch by its ID
func (r *GormBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Batch, error) {
	var batch ledger.Batch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// FindByBatchNumber finds a batch by its human-facing number
func (r *GormBatchRepository) FindByBatchNumber(ctx context.Context, batchNumber string) (*ledger.Batch, error) {
	var batch ledger.Batch
	if err := r.db.WithContext(ctx).First(&batch, "batch_number = ?", batchNumber).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// ExistsByBatchNumber checks whether a batch number is already taken
func (r *GormBatchRepository) ExistsByBatchNumber(ctx context.Context, batchNumber string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&ledger.Batch{}).
		Where("batch_number = ?", batchNumber).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindByProduct finds all batches for a product in FIFO order
func (r *GormBatchRepository) FindByProduct(ctx context.Context, productID uuid.UUID) ([]ledger.Batch, error) {
	var batches []ledger.Batch
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order(fifoOrder).
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// FindActiveByProduct finds ACTIVE batches for a product in FIFO order.
// Expired-but-unswept batches are included; the allocation engine skips them.
func (r *GormBatchRepository) FindActiveByProduct(ctx context.Context, productID uuid.UUID) ([]ledger.Batch, error) {
	var batches []ledger.Batch
	if err := r.db.WithContext(ctx).
		Where("product_id = ? AND status = ?", productID, ledger.BatchStatusActive).
		Order(fifoOrder).
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// DecrementQuantity conditionally deducts quantity from a batch. The guard
// matches the exact quantity the allocation planned against, so a concurrent
// writer that got there first makes this a zero-row update, reported as
// CONCURRENCY_CONFLICT. A batch drained to zero flips to DEPLETED in the
// same statement.
func (r *GormBatchRepository) DecrementQuantity(ctx context.Context, id uuid.UUID, quantity, expectedCurrent decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&ledger.Batch{}).
		Where("id = ? AND status = ? AND current_quantity = ?", id, ledger.BatchStatusActive, expectedCurrent).
		Updates(map[string]any{
			"current_quantity": gorm.Expr("current_quantity - ?", quantity),
			"status": gorm.Expr(
				"CASE WHEN current_quantity - ? = 0 THEN ? ELSE status END",
				quantity, ledger.BatchStatusDepleted,
			),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// UpdateStatus moves an ACTIVE batch into a terminal status, rolling its
// remaining quantity into released quantity. Zero rows affected is
// disambiguated by a re-read: a terminal row is INVALID_BATCH_STATE, a
// still-active row whose quantity moved is CONCURRENCY_CONFLICT.
func (r *GormBatchRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status ledger.BatchStatus, expectedCurrent decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&ledger.Batch{}).
		Where("id = ? AND status = ? AND current_quantity = ?", id, ledger.BatchStatusActive, expectedCurrent).
		Updates(map[string]any{
			"status":            status,
			"released_quantity": gorm.Expr("released_quantity + current_quantity"),
			"current_quantity":  decimal.Zero,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != ledger.BatchStatusActive {
			return shared.ErrInvalidBatchState
		}
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// FindExpired finds ACTIVE batches whose expiry date passed
func (r *GormBatchRepository) FindExpired(ctx context.Context, now time.Time) ([]ledger.Batch, error) {
	var batches []ledger.Batch
	if err := r.db.WithContext(ctx).
		Where("status = ?", ledger.BatchStatusActive).
		Where("expiry_date IS NOT NULL AND expiry_date < ?", now).
		Order(fifoOrder).
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// FindExpiringSoon finds ACTIVE batches expiring in [now, now+window], nearest first
func (r *GormBatchRepository) FindExpiringSoon(ctx context.Context, now time.Time, window time.Duration) ([]ledger.Batch, error) {
	var batches []ledger.Batch
	if err := r.db.WithContext(ctx).
		Where("status = ?", ledger.BatchStatusActive).
		Where("expiry_date IS NOT NULL AND expiry_date >= ? AND expiry_date <= ?", now, now.Add(window)).
		Order("expiry_date ASC, created_at ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// ValuationRows aggregates active batches per product in a single statement,
// so the report reflects one consistent snapshot.
func (r *GormBatchRepository) ValuationRows(ctx context.Context) ([]ledger.ValuationRow, error) {
	var rows []ledger.ValuationRow
	if err := r.db.WithContext(ctx).
		Model(&ledger.Batch{}).
		Select(
			"product_id",
			"COUNT(*) AS batch_count",
			"SUM(current_quantity) AS total_quantity",
			"SUM(current_quantity * cost_price) AS total_cost_value",
			"SUM(current_quantity * selling_price) AS total_selling_value",
		).
		Where("status = ?", ledger.BatchStatusActive).
		Group("product_id").
		Order("product_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Ensure GormBatchRepository implements BatchRepository
var _ ledger.BatchRepository = (*GormBatchRepository)(nil)
