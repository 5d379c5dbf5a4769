package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func receiveBatch(t *testing.T, f *ledgerFixture, productID uuid.UUID, qty, cost, sell float64, purchaseDate time.Time, expiry *time.Time) *BatchResponse {
	t.Helper()
	resp, err := f.svc.ReceiveGoods(context.Background(), GoodsReceivedRequest{
		ProductID:    productID,
		Quantity:     dec(qty),
		CostPrice:    dec(cost),
		SellingPrice: dec(sell),
		PurchaseDate: purchaseDate,
		ExpiryDate:   expiry,
		Actor:        "tester",
	})
	require.NoError(t, err)
	return resp
}

func TestReceiveGoods(t *testing.T) {
	ctx := context.Background()

	t.Run("generates sequential batch numbers", func(t *testing.T) {
		f := newLedgerFixture()
		now := time.Now()
		f.svc.SetNowFunc(func() time.Time { return now })
		productID := uuid.New()

		first := receiveBatch(t, f, productID, 100, 10, 15, now, nil)
		second := receiveBatch(t, f, productID, 50, 12, 18, now, nil)

		assert.Equal(t, ledger.FormatBatchNumber(now, 1), first.BatchNumber)
		assert.Equal(t, ledger.FormatBatchNumber(now, 2), second.BatchNumber)
		assert.Equal(t, "ACTIVE", first.Status)
		assert.True(t, first.CurrentQuantity.Equal(dec(100)))
	})

	t.Run("records an inbound movement and bumps the stock aggregate", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()

		resp := receiveBatch(t, f, productID, 100, 10, 15, time.Now(), nil)

		movements, err := f.svc.ListBatchMovements(ctx, resp.ID)
		require.NoError(t, err)
		require.Len(t, movements, 1)
		assert.Equal(t, "PURCHASE_RECEIVED", movements[0].Reason)
		assert.Equal(t, "tester", movements[0].Actor)
		assert.True(t, movements[0].Quantity.Equal(dec(100)))
		assert.True(t, f.stock.get(productID).Equal(dec(100)))
	})

	t.Run("accepts a supplied batch number once", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		req := GoodsReceivedRequest{
			ProductID:    productID,
			Quantity:     dec(10),
			CostPrice:    dec(1),
			SellingPrice: dec(2),
			PurchaseDate: time.Now(),
			BatchNumber:  ledger.BatchNumberSpec{Mode: ledger.BatchNumberSupplied, Value: "SUPPLIER-LOT-77"},
		}

		resp, err := f.svc.ReceiveGoods(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "SUPPLIER-LOT-77", resp.BatchNumber)

		_, err = f.svc.ReceiveGoods(ctx, req)
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})

	t.Run("generated numbers skip over a supplied collision", func(t *testing.T) {
		f := newLedgerFixture()
		now := time.Now()
		f.svc.SetNowFunc(func() time.Time { return now })
		productID := uuid.New()

		// Occupy the number the first sequence value would produce.
		_, err := f.svc.ReceiveGoods(ctx, GoodsReceivedRequest{
			ProductID:    productID,
			Quantity:     dec(10),
			CostPrice:    dec(1),
			SellingPrice: dec(2),
			PurchaseDate: now,
			BatchNumber:  ledger.BatchNumberSpec{Mode: ledger.BatchNumberSupplied, Value: ledger.FormatBatchNumber(now, 1)},
		})
		require.NoError(t, err)

		resp := receiveBatch(t, f, productID, 10, 1, 2, now, nil)
		assert.Equal(t, ledger.FormatBatchNumber(now, 2), resp.BatchNumber)
	})

	t.Run("rejects invalid input before persisting anything", func(t *testing.T) {
		f := newLedgerFixture()
		_, err := f.svc.ReceiveGoods(ctx, GoodsReceivedRequest{
			ProductID:    uuid.New(),
			Quantity:     dec(0),
			CostPrice:    dec(1),
			SellingPrice: dec(2),
			PurchaseDate: time.Now(),
		})
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)
		assert.Equal(t, 0, f.movements.count())
	})

	t.Run("concurrent receipts get distinct generated numbers", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		now := time.Now()

		const receipts = 50
		var wg sync.WaitGroup
		results := make([]string, receipts)
		for i := 0; i < receipts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := f.svc.ReceiveGoods(ctx, GoodsReceivedRequest{
					ProductID:    productID,
					Quantity:     dec(1),
					CostPrice:    dec(1),
					SellingPrice: dec(2),
					PurchaseDate: now,
				})
				if assert.NoError(t, err) {
					results[i] = resp.BatchNumber
				}
			}(i)
		}
		wg.Wait()

		seen := make(map[string]bool, receipts)
		for _, number := range results {
			require.NotEmpty(t, number)
			assert.False(t, seen[number], "batch number %s issued twice", number)
			seen[number] = true
		}
	})

	t.Run("creation validation follows the injected clock", func(t *testing.T) {
		f := newLedgerFixture()
		then := time.Now().AddDate(-1, 0, 0)
		f.svc.SetNowFunc(func() time.Time { return then })
		// Expired long ago in wall-clock terms, but valid at the service's clock.
		expiry := then.AddDate(0, 0, 3)

		resp, err := f.svc.ReceiveGoods(ctx, GoodsReceivedRequest{
			ProductID:    uuid.New(),
			Quantity:     dec(5),
			CostPrice:    dec(1),
			SellingPrice: dec(2),
			PurchaseDate: then,
			ExpiryDate:   &expiry,
		})
		require.NoError(t, err)
		assert.Equal(t, "ACTIVE", resp.Status)
	})

	t.Run("a lost insert race consumes a collision retry", func(t *testing.T) {
		f := newLedgerFixture()
		racing := &insertRacingBatchRepo{memBatchRepo: f.batches, losses: 2}
		scope := NewNoOpTransactionScope(racing, f.movements, f.stock)
		svc := NewLedgerService(scope, racing, f.movements, f.sequences, nil)
		now := time.Now()
		svc.SetNowFunc(func() time.Time { return now })

		resp, err := svc.ReceiveGoods(ctx, GoodsReceivedRequest{
			ProductID:    uuid.New(),
			Quantity:     dec(10),
			CostPrice:    dec(1),
			SellingPrice: dec(2),
			PurchaseDate: now,
		})
		require.NoError(t, err)
		// Two candidates lost the race before the third insert stuck.
		assert.Equal(t, ledger.FormatBatchNumber(now, 3), resp.BatchNumber)
		assert.Equal(t, 1, f.movements.count())
	})

	t.Run("insert races beyond the retry budget are an identifier collision", func(t *testing.T) {
		f := newLedgerFixture()
		racing := &insertRacingBatchRepo{memBatchRepo: f.batches, losses: maxBatchNumberAttempts}
		scope := NewNoOpTransactionScope(racing, f.movements, f.stock)
		svc := NewLedgerService(scope, racing, f.movements, f.sequences, nil)

		_, err := svc.ReceiveGoods(ctx, GoodsReceivedRequest{
			ProductID:    uuid.New(),
			Quantity:     dec(10),
			CostPrice:    dec(1),
			SellingPrice: dec(2),
			PurchaseDate: time.Now(),
		})
		assert.ErrorIs(t, err, shared.ErrIdentifierCollision)
	})

	t.Run("a supplied number losing the insert race is not retried", func(t *testing.T) {
		f := newLedgerFixture()
		racing := &insertRacingBatchRepo{memBatchRepo: f.batches, losses: 1}
		scope := NewNoOpTransactionScope(racing, f.movements, f.stock)
		svc := NewLedgerService(scope, racing, f.movements, f.sequences, nil)

		_, err := svc.ReceiveGoods(ctx, GoodsReceivedRequest{
			ProductID:    uuid.New(),
			Quantity:     dec(10),
			CostPrice:    dec(1),
			SellingPrice: dec(2),
			PurchaseDate: time.Now(),
			BatchNumber:  ledger.BatchNumberSpec{Mode: ledger.BatchNumberSupplied, Value: "SUPPLIER-LOT-9"},
		})
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)

		// The sequence was never touched.
		seq, err := f.sequences.Next(ctx, ledger.BatchNumberKey)
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)
	})
}

// insertRacingBatchRepo reports a number free but loses the insert a fixed
// number of times, as when a concurrent writer takes the number between the
// existence check and the insert.
type insertRacingBatchRepo struct {
	*memBatchRepo
	losses int
}

func (r *insertRacingBatchRepo) Create(ctx context.Context, batch *ledger.Batch) error {
	if r.losses > 0 {
		r.losses--
		return shared.ErrAlreadyExists
	}
	return r.memBatchRepo.Create(ctx, batch)
}

var _ ledger.BatchRepository = (*insertRacingBatchRepo)(nil)

func TestSell(t *testing.T) {
	ctx := context.Background()

	t.Run("spans batches in FIFO order and depletes the oldest", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		now := time.Now()
		older := receiveBatch(t, f, productID, 100, 10, 15, now.AddDate(0, 0, -10), nil)
		newer := receiveBatch(t, f, productID, 200, 12, 18, now.AddDate(0, 0, -5), nil)

		result, err := f.svc.Sell(ctx, productID, dec(150))
		require.NoError(t, err)
		require.Len(t, result.Allocation.Lines, 2)
		assert.Equal(t, older.ID, result.Allocation.Lines[0].BatchID)
		assert.True(t, result.Allocation.Lines[0].Quantity.Equal(dec(100)))
		assert.Equal(t, newer.ID, result.Allocation.Lines[1].BatchID)
		assert.True(t, result.Allocation.Lines[1].Quantity.Equal(dec(50)))

		// 100*10 + 50*12 cost, 100*15 + 50*18 revenue
		assert.True(t, result.Allocation.TotalCost.Equal(dec(1600)))
		assert.True(t, result.Allocation.TotalRevenue.Equal(dec(2400)))
		assert.True(t, result.Allocation.Profit.Equal(dec(800)))

		olderAfter, err := f.svc.GetBatch(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, "DEPLETED", olderAfter.Status)
		newerAfter, err := f.svc.GetBatch(ctx, newer.ID)
		require.NoError(t, err)
		assert.True(t, newerAfter.CurrentQuantity.Equal(dec(150)))

		assert.True(t, f.stock.get(productID).Equal(dec(150)))
	})

	t.Run("preview matches the settlement exactly", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		now := time.Now()
		receiveBatch(t, f, productID, 100, 10, 15, now.AddDate(0, 0, -10), nil)
		receiveBatch(t, f, productID, 200, 12, 18, now.AddDate(0, 0, -5), nil)

		preview, err := f.svc.PreviewSale(ctx, productID, dec(120))
		require.NoError(t, err)

		result, err := f.svc.Sell(ctx, productID, dec(120))
		require.NoError(t, err)
		assert.Equal(t, *preview, result.Allocation)
	})

	t.Run("preview mutates nothing", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		batch := receiveBatch(t, f, productID, 100, 10, 15, time.Now(), nil)

		_, err := f.svc.PreviewSale(ctx, productID, dec(60))
		require.NoError(t, err)

		after, err := f.svc.GetBatch(ctx, batch.ID)
		require.NoError(t, err)
		assert.True(t, after.CurrentQuantity.Equal(dec(100)))
		assert.Equal(t, 1, f.movements.count())
	})

	t.Run("insufficient stock fails whole and leaves state untouched", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		batch := receiveBatch(t, f, productID, 100, 10, 15, time.Now(), nil)

		_, err := f.svc.Sell(ctx, productID, dec(101))
		assert.ErrorIs(t, err, shared.ErrInsufficientStock)

		after, err := f.svc.GetBatch(ctx, batch.ID)
		require.NoError(t, err)
		assert.True(t, after.CurrentQuantity.Equal(dec(100)))
		assert.Equal(t, "ACTIVE", after.Status)
		assert.True(t, f.stock.get(productID).Equal(dec(100)))
		assert.Equal(t, 1, f.movements.count())
	})

	t.Run("expired stock is reported distinctly from missing stock", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		now := time.Now()
		expiry := now.Add(24 * time.Hour)
		receiveBatch(t, f, productID, 100, 10, 15, now, &expiry)

		// Two days later the batch is expired but not yet swept.
		f.svc.SetNowFunc(func() time.Time { return now.Add(48 * time.Hour) })

		_, err := f.svc.Sell(ctx, productID, dec(10))
		assert.ErrorIs(t, err, shared.ErrExpiredStock)
	})

	t.Run("unit price override changes revenue, never cost", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		receiveBatch(t, f, productID, 100, 10, 15, time.Now(), nil)

		result, err := f.svc.Sell(ctx, productID, dec(50), WithSellUnitPrice(dec(20)))
		require.NoError(t, err)
		assert.True(t, result.Allocation.TotalRevenue.Equal(dec(1000)))
		assert.True(t, result.Allocation.TotalCost.Equal(dec(500)))
	})

	t.Run("records the selling actor on the movement", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		batch := receiveBatch(t, f, productID, 100, 10, 15, time.Now(), nil)

		_, err := f.svc.Sell(ctx, productID, dec(10), WithActor("cashier-3"))
		require.NoError(t, err)

		movements, err := f.svc.ListBatchMovements(ctx, batch.ID)
		require.NoError(t, err)
		require.Len(t, movements, 2)
		assert.Equal(t, "SALE", movements[1].Reason)
		assert.Equal(t, "cashier-3", movements[1].Actor)
	})

	t.Run("two sales racing for the last units settle one winner", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		receiveBatch(t, f, productID, 5, 10, 15, time.Now(), nil)

		var wg sync.WaitGroup
		var successes, insufficient atomic.Int32
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Sell(ctx, productID, dec(5))
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, shared.ErrInsufficientStock):
					insufficient.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), successes.Load())
		assert.Equal(t, int32(1), insufficient.Load())
		assert.True(t, f.stock.get(productID).IsZero())
	})

	t.Run("persistent conflicts exhaust the bounded retry", func(t *testing.T) {
		batches := newMemBatchRepo()
		movements := newMemMovementRepo()
		stock := newMemStockRepo()
		conflicting := &conflictingBatchRepo{memBatchRepo: batches}
		scope := NewNoOpTransactionScope(conflicting, movements, stock)
		svc := NewLedgerService(scope, batches, movements, newMemSequenceRepo(), nil)
		svc.retryBackoff = 0

		productID := uuid.New()
		ctx := context.Background()
		_, err := svc.ReceiveGoods(ctx, GoodsReceivedRequest{
			ProductID:    productID,
			Quantity:     dec(100),
			CostPrice:    dec(10),
			SellingPrice: dec(15),
			PurchaseDate: time.Now(),
		})
		require.NoError(t, err)

		_, err = svc.Sell(ctx, productID, dec(10))
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.Equal(t, int32(maxSaleRetries), conflicting.decrements.Load())
	})
}

// conflictingBatchRepo simulates a writer that always loses the conditional
// decrement race.
type conflictingBatchRepo struct {
	*memBatchRepo
	decrements atomic.Int32
}

func (r *conflictingBatchRepo) DecrementQuantity(_ context.Context, _ uuid.UUID, _, _ decimal.Decimal) error {
	r.decrements.Add(1)
	return shared.ErrConcurrencyConflict
}

func TestRetireBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("damage writes off the remaining quantity", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		batch := receiveBatch(t, f, productID, 100, 10, 15, time.Now(), nil)

		_, err := f.svc.Sell(ctx, productID, dec(40))
		require.NoError(t, err)

		resp, err := f.svc.MarkDamaged(ctx, batch.ID, "auditor")
		require.NoError(t, err)
		assert.Equal(t, "DAMAGED", resp.Status)
		assert.True(t, resp.CurrentQuantity.IsZero())
		assert.True(t, resp.ReleasedQuantity.Equal(dec(60)))

		// initial == consumed + current + released
		consumed := resp.InitialQuantity.Sub(resp.CurrentQuantity).Sub(resp.ReleasedQuantity)
		assert.True(t, consumed.Equal(dec(40)))

		movements, err := f.svc.ListBatchMovements(ctx, batch.ID)
		require.NoError(t, err)
		require.Len(t, movements, 3)
		assert.Equal(t, "DAMAGED", movements[2].Reason)
		assert.Equal(t, "auditor", movements[2].Actor)
		assert.True(t, movements[2].Quantity.Equal(dec(60)))

		assert.True(t, f.stock.get(productID).IsZero())
	})

	t.Run("return to supplier retires the batch", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		batch := receiveBatch(t, f, productID, 30, 10, 15, time.Now(), nil)

		resp, err := f.svc.ReturnToSupplier(ctx, batch.ID, "buyer")
		require.NoError(t, err)
		assert.Equal(t, "RETURNED", resp.Status)
		assert.True(t, resp.ReleasedQuantity.Equal(dec(30)))
		assert.True(t, f.stock.get(productID).IsZero())
	})

	t.Run("a terminal batch cannot be retired twice", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		batch := receiveBatch(t, f, productID, 30, 10, 15, time.Now(), nil)

		_, err := f.svc.MarkDamaged(ctx, batch.ID, "auditor")
		require.NoError(t, err)

		_, err = f.svc.MarkDamaged(ctx, batch.ID, "auditor")
		assert.ErrorIs(t, err, shared.ErrInvalidBatchState)
		_, err = f.svc.ReturnToSupplier(ctx, batch.ID, "buyer")
		assert.ErrorIs(t, err, shared.ErrInvalidBatchState)
	})

	t.Run("retired batches never serve later sales", func(t *testing.T) {
		f := newLedgerFixture()
		productID := uuid.New()
		batch := receiveBatch(t, f, productID, 30, 10, 15, time.Now(), nil)

		_, err := f.svc.MarkDamaged(ctx, batch.ID, "auditor")
		require.NoError(t, err)

		_, err = f.svc.Sell(ctx, productID, dec(1))
		assert.ErrorIs(t, err, shared.ErrInsufficientStock)
	})
}

func TestListBatches(t *testing.T) {
	f := newLedgerFixture()
	productID := uuid.New()
	now := time.Now()
	receiveBatch(t, f, productID, 10, 1, 2, now.AddDate(0, 0, -3), nil)
	receiveBatch(t, f, productID, 20, 1, 2, now.AddDate(0, 0, -9), nil)
	receiveBatch(t, f, uuid.New(), 99, 1, 2, now, nil)

	batches, err := f.svc.ListBatches(context.Background(), productID)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.True(t, batches[0].PurchaseDate.Before(batches[1].PurchaseDate))
}
