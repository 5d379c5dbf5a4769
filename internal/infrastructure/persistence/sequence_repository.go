package persistence

import (
	"context"

	"github.com/erp/stockledger/internal/domain/ledger"
	"gorm.io/gorm"
)

// GormSequenceRepository implements SequenceRepository on a plain counter
// table. Next is one atomic upsert: the row-level lock the UPDATE takes
// serializes concurrent callers, so two of them can never read the same
// value, and an absent counter starts at 1 with no separate init step.
type GormSequenceRepository struct {
	db *gorm.DB
}

// NewGormSequenceRepository creates a new GormSequenceRepository
func NewGormSequenceRepository(db *gorm.DB) *GormSequenceRepository {
	return &GormSequenceRepository{db: db}
}

// Next atomically increments and returns the counter for key
func (r *GormSequenceRepository) Next(ctx context.Context, key string) (int64, error) {
	var value int64
	err := r.db.WithContext(ctx).Raw(
		`INSERT INTO sequence_counters (key, value) VALUES (?, 1)
		 ON CONFLICT (key) DO UPDATE SET value = sequence_counters.value + 1
		 RETURNING value`,
		key,
	).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Ensure GormSequenceRepository implements SequenceRepository
var _ ledger.SequenceRepository = (*GormSequenceRepository)(nil)
