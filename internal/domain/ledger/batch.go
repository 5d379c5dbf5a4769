package ledger

import (
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchStatus represents the lifecycle state of a batch
type BatchStatus string

const (
	// BatchStatusActive means the batch still holds sellable stock
	BatchStatusActive BatchStatus = "ACTIVE"
	// BatchStatusDepleted means every unit was consumed by sales
	BatchStatusDepleted BatchStatus = "DEPLETED"
	// BatchStatusExpired means the batch passed its expiry date and was retired
	BatchStatusExpired BatchStatus = "EXPIRED"
	// BatchStatusDamaged means the remaining stock was written off as damaged
	BatchStatusDamaged BatchStatus = "DAMAGED"
	// BatchStatusReturned means the remaining stock was returned to the supplier
	BatchStatusReturned BatchStatus = "RETURNED"
)

// String returns the string representation of BatchStatus
func (s BatchStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known value
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusActive, BatchStatusDepleted, BatchStatusExpired, BatchStatusDamaged, BatchStatusReturned:
		return true
	}
	return false
}

// IsTerminal returns true for statuses a batch can never leave.
// Transitions are one-directional: ACTIVE is the only non-terminal state.
func (s BatchStatus) IsTerminal() bool {
	return s.IsValid() && s != BatchStatusActive
}

// AllBatchStatuses returns all valid batch statuses
func AllBatchStatuses() []BatchStatus {
	return []BatchStatus{
		BatchStatusActive,
		BatchStatusDepleted,
		BatchStatusExpired,
		BatchStatusDamaged,
		BatchStatusReturned,
	}
}

// Batch represents one receipt of stock for a product: a discrete immutable lot
// with its own cost, selling price and expiry, distinct from other receipts of
// the same product. Batches are never deleted; terminal statuses retire them.
type Batch struct {
	shared.BaseAggregateRoot
	BatchNumber      string          `gorm:"type:varchar(30);not null;uniqueIndex"`
	ProductID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_batches_product_fifo,priority:1"`
	InitialQuantity  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	CurrentQuantity  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ReservedQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	ReleasedQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"` // Quantity zeroed when the batch was retired (expiry/damage/return)
	CostPrice        decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	SellingPrice     decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	PurchaseDate     time.Time       `gorm:"type:timestamptz;not null;index:idx_batches_product_fifo,priority:2"`
	ManufactureDate  *time.Time      `gorm:"type:timestamptz"`
	ExpiryDate       *time.Time      `gorm:"type:timestamptz;index"`
	Status           BatchStatus     `gorm:"type:varchar(20);not null;index"`
	SupplierRef      string          `gorm:"type:varchar(50)"`
	PurchaseOrderRef string          `gorm:"type:varchar(50)"`
	Location         string          `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM
func (Batch) TableName() string {
	return "batches"
}

// NewBatch creates a new active batch from a goods-received event.
// Date validation happens here, before anything is persisted, judged against
// the caller's clock like allocation and sweeping are.
func NewBatch(
	batchNumber string,
	productID uuid.UUID,
	quantity decimal.Decimal,
	costPrice, sellingPrice decimal.Decimal,
	purchaseDate time.Time,
	manufactureDate, expiryDate *time.Time,
	supplierRef, purchaseOrderRef, location string,
	now time.Time,
) (*Batch, error) {
	if batchNumber == "" {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Batch number cannot be empty")
	}
	if productID == uuid.Nil {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Product ID cannot be empty")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Quantity must be positive")
	}
	if costPrice.IsNegative() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Cost price cannot be negative")
	}
	if sellingPrice.IsNegative() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Selling price cannot be negative")
	}
	if expiryDate != nil {
		if manufactureDate != nil && !expiryDate.After(*manufactureDate) {
			return nil, shared.NewDomainError("VALIDATION_ERROR", "Expiry date must be after manufacture date")
		}
		if expiryDate.Before(now) {
			return nil, shared.NewDomainError("VALIDATION_ERROR", "Expiry date is already in the past")
		}
	}

	return &Batch{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		BatchNumber:       batchNumber,
		ProductID:         productID,
		InitialQuantity:   quantity,
		CurrentQuantity:   quantity,
		ReservedQuantity:  decimal.Zero,
		ReleasedQuantity:  decimal.Zero,
		CostPrice:         costPrice,
		SellingPrice:      sellingPrice,
		PurchaseDate:      purchaseDate,
		ManufactureDate:   manufactureDate,
		ExpiryDate:        expiryDate,
		Status:            BatchStatusActive,
		SupplierRef:       supplierRef,
		PurchaseOrderRef:  purchaseOrderRef,
		Location:          location,
	}, nil
}

// AvailableQuantity returns the quantity allocatable right now
// (current minus reservations held by pending orders)
func (b *Batch) AvailableQuantity() decimal.Decimal {
	return b.CurrentQuantity.Sub(b.ReservedQuantity)
}

// ConsumedQuantity returns the quantity consumed by sales.
// Conservation holds at all times:
// initial == consumed + current + released.
func (b *Batch) ConsumedQuantity() decimal.Decimal {
	return b.InitialQuantity.Sub(b.CurrentQuantity).Sub(b.ReleasedQuantity)
}

// IsExpired returns true if the batch has passed its expiry date at the given time
func (b *Batch) IsExpired(now time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return b.ExpiryDate.Before(now)
}

// WillExpireWithin returns true if the batch expires within the given duration
func (b *Batch) WillExpireWithin(now time.Time, window time.Duration) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return !b.ExpiryDate.Before(now) && b.ExpiryDate.Before(now.Add(window))
}

// DaysUntilExpiry returns whole days until expiry at the given time, -1 if no expiry date
func (b *Batch) DaysUntilExpiry(now time.Time) int {
	if b.ExpiryDate == nil {
		return -1
	}
	return int(b.ExpiryDate.Sub(now).Hours() / 24)
}

// IsAllocatable returns true if the batch may be selected by the allocation
// engine: active status, unexpired, with unreserved quantity remaining.
// Expiry is checked here against the caller's clock rather than relying on
// the sweeper having already retired the batch.
func (b *Batch) IsAllocatable(now time.Time) bool {
	return b.Status == BatchStatusActive &&
		!b.IsExpired(now) &&
		b.AvailableQuantity().GreaterThan(decimal.Zero)
}

// Deduct removes quantity consumed by a sale. The batch transitions to
// DEPLETED when the last unit leaves.
func (b *Batch) Deduct(quantity decimal.Decimal) error {
	if b.Status != BatchStatusActive {
		return shared.ErrInvalidBatchState
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("VALIDATION_ERROR", "Deduction quantity must be positive")
	}
	if quantity.GreaterThan(b.AvailableQuantity()) {
		return shared.ErrInsufficientStock
	}

	b.CurrentQuantity = b.CurrentQuantity.Sub(quantity)
	if b.CurrentQuantity.IsZero() {
		b.Status = BatchStatusDepleted
	}
	b.UpdatedAt = time.Now()
	b.IncrementVersion()
	return nil
}

// Reserve holds quantity for a pending order without debiting stock
func (b *Batch) Reserve(quantity decimal.Decimal) error {
	if b.Status != BatchStatusActive {
		return shared.ErrInvalidBatchState
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("VALIDATION_ERROR", "Reservation quantity must be positive")
	}
	if quantity.GreaterThan(b.AvailableQuantity()) {
		return shared.ErrInsufficientStock
	}
	b.ReservedQuantity = b.ReservedQuantity.Add(quantity)
	b.UpdatedAt = time.Now()
	b.IncrementVersion()
	return nil
}

// ReleaseReservation returns previously reserved quantity to the available pool
func (b *Batch) ReleaseReservation(quantity decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) || quantity.GreaterThan(b.ReservedQuantity) {
		return shared.NewDomainError("VALIDATION_ERROR", "Release quantity exceeds reserved quantity")
	}
	b.ReservedQuantity = b.ReservedQuantity.Sub(quantity)
	b.UpdatedAt = time.Now()
	b.IncrementVersion()
	return nil
}

// Expire retires the batch after its expiry date passed and returns the
// quantity released. Idempotent at the caller level: an already-retired
// batch reports ErrInvalidBatchState and the sweeper skips it.
func (b *Batch) Expire(now time.Time) (decimal.Decimal, error) {
	if b.Status != BatchStatusActive {
		return decimal.Zero, shared.ErrInvalidBatchState
	}
	if !b.IsExpired(now) {
		return decimal.Zero, shared.NewDomainError("VALIDATION_ERROR", "Batch has not expired yet")
	}
	return b.retire(BatchStatusExpired), nil
}

// MarkDamaged writes off the remaining stock as damaged and returns the released quantity
func (b *Batch) MarkDamaged() (decimal.Decimal, error) {
	if b.Status != BatchStatusActive {
		return decimal.Zero, shared.ErrInvalidBatchState
	}
	return b.retire(BatchStatusDamaged), nil
}

// ReturnToSupplier sends the remaining stock back and returns the released quantity
func (b *Batch) ReturnToSupplier() (decimal.Decimal, error) {
	if b.Status != BatchStatusActive {
		return decimal.Zero, shared.ErrInvalidBatchState
	}
	return b.retire(BatchStatusReturned), nil
}

// retire zeroes the remaining quantity into ReleasedQuantity and moves the
// batch into a terminal status
func (b *Batch) retire(status BatchStatus) decimal.Decimal {
	released := b.CurrentQuantity
	b.ReleasedQuantity = b.ReleasedQuantity.Add(released)
	b.CurrentQuantity = decimal.Zero
	b.ReservedQuantity = decimal.Zero
	b.Status = status
	b.UpdatedAt = time.Now()
	b.IncrementVersion()
	return released
}

// CostValue returns the cost value of the remaining stock
func (b *Batch) CostValue() decimal.Decimal {
	return b.CurrentQuantity.Mul(b.CostPrice)
}

// SellingValue returns the selling value of the remaining stock
func (b *Batch) SellingValue() decimal.Decimal {
	return b.CurrentQuantity.Mul(b.SellingPrice)
}
