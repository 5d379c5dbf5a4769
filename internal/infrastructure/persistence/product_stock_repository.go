package persistence

import (
	"context"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormProductStockRepository maintains the per-product stock display
// aggregate the catalog reads. It is a denormalized sum of the product's
// active batch quantities, updated in the same transaction as the batch
// rows themselves.
type GormProductStockRepository struct {
	db *gorm.DB
}

// NewGormProductStockRepository creates a new GormProductStockRepository
func NewGormProductStockRepository(db *gorm.DB) *GormProductStockRepository {
	return &GormProductStockRepository{db: db}
}

// AdjustStock adds delta to the product's aggregate. Inbound deltas upsert
// the row; outbound deltas are guarded so the aggregate can never go
// negative, which would mean the caller raced a concurrent writer.
func (r *GormProductStockRepository) AdjustStock(ctx context.Context, productID uuid.UUID, delta decimal.Decimal) error {
	if delta.GreaterThanOrEqual(decimal.Zero) {
		return r.db.WithContext(ctx).Exec(
			`INSERT INTO product_stock (product_id, stock_quantity, updated_at) VALUES (?, ?, NOW())
			 ON CONFLICT (product_id) DO UPDATE
			 SET stock_quantity = product_stock.stock_quantity + EXCLUDED.stock_quantity,
			     updated_at = NOW()`,
			productID, delta,
		).Error
	}

	result := r.db.WithContext(ctx).Exec(
		`UPDATE product_stock
		 SET stock_quantity = stock_quantity + ?, updated_at = NOW()
		 WHERE product_id = ? AND stock_quantity + ? >= 0`,
		delta, productID, delta,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Ensure GormProductStockRepository implements ProductStockRepository
var _ ledger.ProductStockRepository = (*GormProductStockRepository)(nil)
