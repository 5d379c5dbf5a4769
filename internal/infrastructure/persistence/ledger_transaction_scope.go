package persistence

import (
	"context"

	appledger "github.com/erp/stockledger/internal/application/ledger"
	"github.com/erp/stockledger/internal/domain/ledger"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
// Every repository handed to the callback shares one transaction, which is
// what makes a sale's batch decrements, movement appends and aggregate
// update commit or roll back as a unit.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appledger.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

// gormTransactionalRepositories provides the ledger repositories scoped to one transaction
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

// Batches returns the batch repository scoped to the current transaction
func (r *gormTransactionalRepositories) Batches() ledger.BatchRepository {
	return NewGormBatchRepository(r.tx)
}

// Movements returns the stock movement repository scoped to the current transaction
func (r *gormTransactionalRepositories) Movements() ledger.StockMovementRepository {
	return NewGormStockMovementRepository(r.tx)
}

// ProductStock returns the stock-aggregate port scoped to the current transaction
func (r *gormTransactionalRepositories) ProductStock() ledger.ProductStockRepository {
	return NewGormProductStockRepository(r.tx)
}

// Ensure GormTransactionScope implements TransactionScope
var _ appledger.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ appledger.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
