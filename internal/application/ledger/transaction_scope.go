package ledger

import (
	"context"

	"github.com/erp/stockledger/internal/domain/ledger"
)

// TransactionScope provides transactional access to the ledger repositories.
// When a function is executed within a transaction scope, all repository
// operations are part of the same database transaction and commit or roll
// back atomically.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to the ledger repositories within
// one transaction. Every repository returned shares the same underlying
// database transaction, which is what makes a sale's batch decrements,
// movement appends and stock-aggregate update a single atomic unit.
type TransactionalRepositories interface {
	// Batches returns the batch repository scoped to the current transaction
	Batches() ledger.BatchRepository
	// Movements returns the stock movement repository scoped to the current transaction
	Movements() ledger.StockMovementRepository
	// ProductStock returns the product stock-aggregate port scoped to the current transaction
	ProductStock() ledger.ProductStockRepository
}

// NoOpTransactionScope runs the function without a real transaction.
// Useful for tests backed by in-memory fakes.
type NoOpTransactionScope struct {
	batchRepo    ledger.BatchRepository
	movementRepo ledger.StockMovementRepository
	stockRepo    ledger.ProductStockRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories.
func NewNoOpTransactionScope(
	batchRepo ledger.BatchRepository,
	movementRepo ledger.StockMovementRepository,
	stockRepo ledger.ProductStockRepository,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		batchRepo:    batchRepo,
		movementRepo: movementRepo,
		stockRepo:    stockRepo,
	}
}

// Execute runs the function directly, with no transaction boundary.
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// Batches returns the batch repository.
func (s *NoOpTransactionScope) Batches() ledger.BatchRepository {
	return s.batchRepo
}

// Movements returns the stock movement repository.
func (s *NoOpTransactionScope) Movements() ledger.StockMovementRepository {
	return s.movementRepo
}

// ProductStock returns the product stock-aggregate port.
func (s *NoOpTransactionScope) ProductStock() ledger.ProductStockRepository {
	return s.stockRepo
}

// Ensure NoOpTransactionScope implements both interfaces
var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
