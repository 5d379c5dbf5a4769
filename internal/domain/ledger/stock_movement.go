package ledger

import (
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementReason classifies why stock moved in or out of a batch
type MovementReason string

const (
	// MovementReasonPurchaseReceived is stock entering a new batch from a goods-received event
	MovementReasonPurchaseReceived MovementReason = "PURCHASE_RECEIVED"
	// MovementReasonSale is stock leaving a batch through a sale allocation
	MovementReasonSale MovementReason = "SALE"
	// MovementReasonExpired is stock released when the sweeper retired an expired batch
	MovementReasonExpired MovementReason = "EXPIRED"
	// MovementReasonDamaged is stock written off as damaged
	MovementReasonDamaged MovementReason = "DAMAGED"
	// MovementReasonReturnedToSupplier is stock sent back to the supplier
	MovementReasonReturnedToSupplier MovementReason = "RETURNED_TO_SUPPLIER"
)

// String returns the string representation of MovementReason
func (r MovementReason) String() string {
	return string(r)
}

// IsValid returns true if the reason is a known value
func (r MovementReason) IsValid() bool {
	switch r {
	case MovementReasonPurchaseReceived,
		MovementReasonSale,
		MovementReasonExpired,
		MovementReasonDamaged,
		MovementReasonReturnedToSupplier:
		return true
	}
	return false
}

// IsInbound returns true if the movement increases batch stock
func (r MovementReason) IsInbound() bool {
	return r == MovementReasonPurchaseReceived
}

// StockMovement is an immutable audit record of one quantity change on one
// batch. Movements are append-only: corrections are made with new movements,
// never by editing history.
type StockMovement struct {
	shared.BaseEntity
	BatchID     uuid.UUID       `gorm:"type:uuid;not null;index:idx_stock_movements_batch"`
	BatchNumber string          `gorm:"type:varchar(30);not null"`
	ProductID   uuid.UUID       `gorm:"type:uuid;not null;index:idx_stock_movements_product"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,4);not null"` // Always positive, direction determined by Reason
	Reason      MovementReason  `gorm:"type:varchar(30);not null;index"`
	Actor       string          `gorm:"type:varchar(100);not null"`
	OccurredAt  time.Time       `gorm:"type:timestamptz;not null;index"`
}

// TableName returns the table name for GORM
func (StockMovement) TableName() string {
	return "stock_movements"
}

// NewStockMovement creates an audit record for a single batch delta
func NewStockMovement(
	batchID uuid.UUID,
	batchNumber string,
	productID uuid.UUID,
	quantity decimal.Decimal,
	reason MovementReason,
	actor string,
	occurredAt time.Time,
) (*StockMovement, error) {
	if batchID == uuid.Nil {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Batch ID cannot be empty")
	}
	if productID == uuid.Nil {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Product ID cannot be empty")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Movement quantity must be positive")
	}
	if !reason.IsValid() {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "Invalid movement reason")
	}
	if actor == "" {
		actor = "system"
	}

	return &StockMovement{
		BaseEntity:  shared.NewBaseEntity(),
		BatchID:     batchID,
		BatchNumber: batchNumber,
		ProductID:   productID,
		Quantity:    quantity,
		Reason:      reason,
		Actor:       actor,
		OccurredAt:  occurredAt,
	}, nil
}
