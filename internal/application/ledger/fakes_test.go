package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memBatchRepo is an in-memory BatchRepository that mirrors the conditional
// update semantics of the SQL implementation: decrements and status changes
// apply only while the stored row still matches the caller's snapshot.
type memBatchRepo struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*ledger.Batch
	order   map[uuid.UUID]int64
	nextSeq int64
}

func newMemBatchRepo() *memBatchRepo {
	return &memBatchRepo{
		batches: make(map[uuid.UUID]*ledger.Batch),
		order:   make(map[uuid.UUID]int64),
	}
}

func copyBatch(b *ledger.Batch) *ledger.Batch {
	cp := *b
	return &cp
}

func (r *memBatchRepo) Create(_ context.Context, batch *ledger.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.batches {
		if existing.BatchNumber == batch.BatchNumber {
			return shared.ErrAlreadyExists
		}
	}
	r.nextSeq++
	r.order[batch.ID] = r.nextSeq
	r.batches[batch.ID] = copyBatch(batch)
	return nil
}

func (r *memBatchRepo) FindByID(_ context.Context, id uuid.UUID) (*ledger.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return copyBatch(b), nil
}

func (r *memBatchRepo) FindByBatchNumber(_ context.Context, batchNumber string) (*ledger.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches {
		if b.BatchNumber == batchNumber {
			return copyBatch(b), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memBatchRepo) ExistsByBatchNumber(_ context.Context, batchNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches {
		if b.BatchNumber == batchNumber {
			return true, nil
		}
	}
	return false, nil
}

// fifoSorted returns copies of the matching batches in FIFO order:
// oldest purchase date first, creation order breaking ties.
func (r *memBatchRepo) fifoSorted(match func(*ledger.Batch) bool) []ledger.Batch {
	out := make([]ledger.Batch, 0)
	for _, b := range r.batches {
		if match(b) {
			out = append(out, *copyBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.Before(out[j].PurchaseDate)
		}
		return r.order[out[i].ID] < r.order[out[j].ID]
	})
	return out
}

func (r *memBatchRepo) FindByProduct(_ context.Context, productID uuid.UUID) ([]ledger.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fifoSorted(func(b *ledger.Batch) bool {
		return b.ProductID == productID
	}), nil
}

func (r *memBatchRepo) FindActiveByProduct(_ context.Context, productID uuid.UUID) ([]ledger.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fifoSorted(func(b *ledger.Batch) bool {
		return b.ProductID == productID && b.Status == ledger.BatchStatusActive
	}), nil
}

func (r *memBatchRepo) DecrementQuantity(_ context.Context, id uuid.UUID, quantity, expectedCurrent decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return shared.ErrNotFound
	}
	if b.Status != ledger.BatchStatusActive || !b.CurrentQuantity.Equal(expectedCurrent) {
		return shared.ErrConcurrencyConflict
	}
	if quantity.GreaterThan(b.CurrentQuantity) {
		return shared.ErrConcurrencyConflict
	}
	b.CurrentQuantity = b.CurrentQuantity.Sub(quantity)
	if b.CurrentQuantity.IsZero() {
		b.Status = ledger.BatchStatusDepleted
	}
	b.IncrementVersion()
	return nil
}

func (r *memBatchRepo) UpdateStatus(_ context.Context, id uuid.UUID, status ledger.BatchStatus, expectedCurrent decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return shared.ErrNotFound
	}
	if b.Status != ledger.BatchStatusActive {
		return shared.ErrInvalidBatchState
	}
	if !b.CurrentQuantity.Equal(expectedCurrent) {
		return shared.ErrConcurrencyConflict
	}
	b.ReleasedQuantity = b.ReleasedQuantity.Add(b.CurrentQuantity)
	b.CurrentQuantity = decimal.Zero
	b.Status = status
	b.IncrementVersion()
	return nil
}

func (r *memBatchRepo) FindExpired(_ context.Context, now time.Time) ([]ledger.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fifoSorted(func(b *ledger.Batch) bool {
		return b.Status == ledger.BatchStatusActive && b.ExpiryDate != nil && b.ExpiryDate.Before(now)
	}), nil
}

func (r *memBatchRepo) FindExpiringSoon(_ context.Context, now time.Time, window time.Duration) ([]ledger.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(window)
	out := r.fifoSorted(func(b *ledger.Batch) bool {
		return b.Status == ledger.BatchStatusActive && b.ExpiryDate != nil &&
			!b.ExpiryDate.Before(now) && !b.ExpiryDate.After(cutoff)
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiryDate.Before(*out[j].ExpiryDate)
	})
	return out, nil
}

func (r *memBatchRepo) ValuationRows(_ context.Context) ([]ledger.ValuationRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byProduct := make(map[uuid.UUID]*ledger.ValuationRow)
	for _, b := range r.batches {
		if b.Status != ledger.BatchStatusActive {
			continue
		}
		row, ok := byProduct[b.ProductID]
		if !ok {
			row = &ledger.ValuationRow{
				ProductID:         b.ProductID,
				TotalQuantity:     decimal.Zero,
				TotalCostValue:    decimal.Zero,
				TotalSellingValue: decimal.Zero,
			}
			byProduct[b.ProductID] = row
		}
		row.BatchCount++
		row.TotalQuantity = row.TotalQuantity.Add(b.CurrentQuantity)
		row.TotalCostValue = row.TotalCostValue.Add(b.CurrentQuantity.Mul(b.CostPrice))
		row.TotalSellingValue = row.TotalSellingValue.Add(b.CurrentQuantity.Mul(b.SellingPrice))
	}
	rows := make([]ledger.ValuationRow, 0, len(byProduct))
	for _, row := range byProduct {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ProductID.String() < rows[j].ProductID.String()
	})
	return rows, nil
}

// memMovementRepo is an in-memory append-only StockMovementRepository
type memMovementRepo struct {
	mu        sync.Mutex
	movements []ledger.StockMovement
}

func newMemMovementRepo() *memMovementRepo {
	return &memMovementRepo{}
}

func (r *memMovementRepo) Create(_ context.Context, movement *ledger.StockMovement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.movements = append(r.movements, *movement)
	return nil
}

func (r *memMovementRepo) FindByBatch(_ context.Context, batchID uuid.UUID) ([]ledger.StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.StockMovement, 0)
	for _, m := range r.movements {
		if m.BatchID == batchID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMovementRepo) FindByProduct(_ context.Context, productID uuid.UUID) ([]ledger.StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.StockMovement, 0)
	for _, m := range r.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMovementRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.movements)
}

// memSequenceRepo is an in-memory SequenceRepository; Next is atomic
// under the mutex, matching the single-statement upsert contract.
type memSequenceRepo struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemSequenceRepo() *memSequenceRepo {
	return &memSequenceRepo{values: make(map[string]int64)}
}

func (r *memSequenceRepo) Next(_ context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key]++
	return r.values[key], nil
}

// memStockRepo is an in-memory ProductStockRepository tracking the
// per-product display aggregate.
type memStockRepo struct {
	mu    sync.Mutex
	stock map[uuid.UUID]decimal.Decimal
}

func newMemStockRepo() *memStockRepo {
	return &memStockRepo{stock: make(map[uuid.UUID]decimal.Decimal)}
}

func (r *memStockRepo) AdjustStock(_ context.Context, productID uuid.UUID, delta decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.stock[productID].Add(delta)
	if next.IsNegative() {
		return shared.ErrConcurrencyConflict
	}
	r.stock[productID] = next
	return nil
}

func (r *memStockRepo) get(productID uuid.UUID) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[productID]
}

// memReportCache is an in-memory ReportCache storing JSON payloads
type memReportCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	hits    int
}

func newMemReportCache() *memReportCache {
	return &memReportCache{entries: make(map[string][]byte)}
}

func (c *memReportCache) Get(_ context.Context, key string, v any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	c.hits++
	return true, nil
}

func (c *memReportCache) Set(_ context.Context, key string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	c.sets++
	return nil
}

func (c *memReportCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// ledgerFixture bundles the fakes behind a LedgerService for tests
type ledgerFixture struct {
	svc       *LedgerService
	batches   *memBatchRepo
	movements *memMovementRepo
	sequences *memSequenceRepo
	stock     *memStockRepo
}

func newLedgerFixture() *ledgerFixture {
	batches := newMemBatchRepo()
	movements := newMemMovementRepo()
	sequences := newMemSequenceRepo()
	stock := newMemStockRepo()
	scope := NewNoOpTransactionScope(batches, movements, stock)
	svc := NewLedgerService(scope, batches, movements, sequences, nil)
	svc.retryBackoff = 0
	return &ledgerFixture{
		svc:       svc,
		batches:   batches,
		movements: movements,
		sequences: sequences,
		stock:     stock,
	}
}
