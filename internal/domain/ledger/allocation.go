package ledger

import (
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationLine is one batch's contribution to an allocation
type AllocationLine struct {
	BatchID      uuid.UUID
	BatchNumber  string
	Quantity     decimal.Decimal
	CostPrice    decimal.Decimal // Per-unit cost of this batch
	SellingPrice decimal.Decimal // Per-unit price charged for this line
	// ExpectedCurrent is the batch's current quantity at allocation time.
	// The coordinator uses it as the compare value for the conditional
	// decrement, so a concurrent sale surfaces as a conflict instead of
	// silently corrupting quantities.
	ExpectedCurrent decimal.Decimal
	FullyConsumed   bool // True when this line drains the batch
}

// LineCost returns Quantity * CostPrice for this line
func (l AllocationLine) LineCost() decimal.Decimal {
	return l.Quantity.Mul(l.CostPrice)
}

// LineRevenue returns Quantity * SellingPrice for this line
func (l AllocationLine) LineRevenue() decimal.Decimal {
	return l.Quantity.Mul(l.SellingPrice)
}

// Allocation is the result of FIFO selection over one product's batches.
// Lines are ordered oldest batch first; cost, revenue and profit are computed
// per line and summed, never derived from averaged prices, so rounding bias
// cannot creep in.
type Allocation struct {
	ProductID         uuid.UUID
	Lines             []AllocationLine
	TotalQuantity     decimal.Decimal
	TotalCost         decimal.Decimal
	TotalRevenue      decimal.Decimal
	Profit            decimal.Decimal
	WeightedUnitCost  decimal.Decimal // TotalCost / TotalQuantity, rounded to 4dp
	WeightedUnitPrice decimal.Decimal // TotalRevenue / TotalQuantity, rounded to 4dp
}

// AllocateOption customizes allocation behavior
type AllocateOption func(*allocateOptions)

type allocateOptions struct {
	unitPriceOverride *decimal.Decimal
}

// WithUnitPrice overrides the per-unit selling price for every line.
// The cost side always comes from each batch's own cost price.
func WithUnitPrice(price decimal.Decimal) AllocateOption {
	return func(o *allocateOptions) {
		p := price
		o.unitPriceOverride = &p
	}
}

// AllocateFIFO walks the given batches in order, taking from each batch the
// lesser of the remaining request and the batch's unreserved quantity, until
// the request is met. Batches must already be in FIFO order (oldest purchase
// first, creation order breaking ties); non-active and expired batches are
// skipped here regardless of what the store returned, so correctness does not
// depend on the expiry sweeper having run.
//
// The allocation is all-or-nothing: if the list is exhausted first, the whole
// request fails with INSUFFICIENT_STOCK, or EXPIRED_STOCK when expired
// batches alone held enough quantity to cover the shortfall.
func AllocateFIFO(productID uuid.UUID, batches []Batch, requested decimal.Decimal, now time.Time, opts ...AllocateOption) (*Allocation, error) {
	if requested.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Requested quantity must be positive")
	}

	var options allocateOptions
	for _, opt := range opts {
		opt(&options)
	}

	lines := make([]AllocationLine, 0)
	remaining := requested
	totalQty := decimal.Zero
	totalCost := decimal.Zero
	totalRevenue := decimal.Zero
	expiredHeld := decimal.Zero

	for i := range batches {
		if remaining.IsZero() {
			break
		}
		b := &batches[i]
		if b.Status == BatchStatusActive && b.IsExpired(now) {
			// Still ACTIVE in the store but past expiry; never allocatable.
			expiredHeld = expiredHeld.Add(b.AvailableQuantity())
			continue
		}
		if !b.IsAllocatable(now) {
			continue
		}

		take := decimal.Min(remaining, b.AvailableQuantity())
		price := b.SellingPrice
		if options.unitPriceOverride != nil {
			price = *options.unitPriceOverride
		}

		line := AllocationLine{
			BatchID:         b.ID,
			BatchNumber:     b.BatchNumber,
			Quantity:        take,
			CostPrice:       b.CostPrice,
			SellingPrice:    price,
			ExpectedCurrent: b.CurrentQuantity,
			FullyConsumed:   take.Equal(b.CurrentQuantity),
		}
		lines = append(lines, line)

		remaining = remaining.Sub(take)
		totalQty = totalQty.Add(take)
		totalCost = totalCost.Add(line.LineCost())
		totalRevenue = totalRevenue.Add(line.LineRevenue())
	}

	if remaining.GreaterThan(decimal.Zero) {
		if expiredHeld.GreaterThanOrEqual(remaining) {
			return nil, shared.ErrExpiredStock
		}
		return nil, shared.ErrInsufficientStock
	}

	alloc := &Allocation{
		ProductID:     productID,
		Lines:         lines,
		TotalQuantity: totalQty,
		TotalCost:     totalCost,
		TotalRevenue:  totalRevenue,
		Profit:        totalRevenue.Sub(totalCost),
	}
	if totalQty.GreaterThan(decimal.Zero) {
		alloc.WeightedUnitCost = totalCost.Div(totalQty).Round(4)
		alloc.WeightedUnitPrice = totalRevenue.Div(totalQty).Round(4)
	}
	return alloc, nil
}

// TotalAllocatable sums the unreserved quantity across allocatable batches
func TotalAllocatable(batches []Batch, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for i := range batches {
		if batches[i].IsAllocatable(now) {
			total = total.Add(batches[i].AvailableQuantity())
		}
	}
	return total
}
