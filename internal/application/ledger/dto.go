package ledger

import (
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GoodsReceivedRequest is the purchasing workflow's goods-received event:
// it is the only way a batch comes into existence.
type GoodsReceivedRequest struct {
	ProductID        uuid.UUID
	Quantity         decimal.Decimal
	CostPrice        decimal.Decimal
	SellingPrice     decimal.Decimal
	PurchaseDate     time.Time
	ManufactureDate  *time.Time
	ExpiryDate       *time.Time
	SupplierRef      string
	PurchaseOrderRef string
	Location         string
	Actor            string
	// BatchNumber selects between a generated number and an externally
	// supplied one. The zero value generates.
	BatchNumber ledger.BatchNumberSpec
}

// BatchResponse is the read model for a single batch
type BatchResponse struct {
	ID               uuid.UUID       `json:"id"`
	BatchNumber      string          `json:"batchNumber"`
	ProductID        uuid.UUID       `json:"productId"`
	InitialQuantity  decimal.Decimal `json:"initialQuantity"`
	CurrentQuantity  decimal.Decimal `json:"currentQuantity"`
	ReservedQuantity decimal.Decimal `json:"reservedQuantity"`
	ReleasedQuantity decimal.Decimal `json:"releasedQuantity"`
	CostPrice        decimal.Decimal `json:"costPrice"`
	SellingPrice     decimal.Decimal `json:"sellingPrice"`
	PurchaseDate     time.Time       `json:"purchaseDate"`
	ManufactureDate  *time.Time      `json:"manufactureDate,omitempty"`
	ExpiryDate       *time.Time      `json:"expiryDate,omitempty"`
	Status           string          `json:"status"`
	SupplierRef      string          `json:"supplierRef,omitempty"`
	PurchaseOrderRef string          `json:"purchaseOrderRef,omitempty"`
	Location         string          `json:"location,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// ToBatchResponse converts a domain batch to its read model
func ToBatchResponse(b *ledger.Batch) BatchResponse {
	return BatchResponse{
		ID:               b.ID,
		BatchNumber:      b.BatchNumber,
		ProductID:        b.ProductID,
		InitialQuantity:  b.InitialQuantity,
		CurrentQuantity:  b.CurrentQuantity,
		ReservedQuantity: b.ReservedQuantity,
		ReleasedQuantity: b.ReleasedQuantity,
		CostPrice:        b.CostPrice,
		SellingPrice:     b.SellingPrice,
		PurchaseDate:     b.PurchaseDate,
		ManufactureDate:  b.ManufactureDate,
		ExpiryDate:       b.ExpiryDate,
		Status:           b.Status.String(),
		SupplierRef:      b.SupplierRef,
		PurchaseOrderRef: b.PurchaseOrderRef,
		Location:         b.Location,
		CreatedAt:        b.CreatedAt,
	}
}

// ToBatchResponses converts a slice of domain batches
func ToBatchResponses(batches []ledger.Batch) []BatchResponse {
	out := make([]BatchResponse, 0, len(batches))
	for i := range batches {
		out = append(out, ToBatchResponse(&batches[i]))
	}
	return out
}

// AllocationLineResponse is one batch's share of a sale or preview
type AllocationLineResponse struct {
	BatchID      uuid.UUID       `json:"batchId"`
	BatchNumber  string          `json:"batchNumber"`
	Quantity     decimal.Decimal `json:"quantity"`
	CostPrice    decimal.Decimal `json:"costPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	LineCost     decimal.Decimal `json:"lineCost"`
	LineRevenue  decimal.Decimal `json:"lineRevenue"`
}

// AllocationResponse is the price/cost breakdown of a planned or settled sale.
// The preview returned before a sale and the settlement of that sale are both
// rendered from the same allocation, so they can never disagree.
type AllocationResponse struct {
	ProductID         uuid.UUID                `json:"productId"`
	Lines             []AllocationLineResponse `json:"lines"`
	TotalQuantity     decimal.Decimal          `json:"totalQuantity"`
	TotalCost         decimal.Decimal          `json:"totalCost"`
	TotalRevenue      decimal.Decimal          `json:"totalRevenue"`
	Profit            decimal.Decimal          `json:"profit"`
	WeightedUnitCost  decimal.Decimal          `json:"weightedUnitCost"`
	WeightedUnitPrice decimal.Decimal          `json:"weightedUnitPrice"`
}

// ToAllocationResponse converts a domain allocation to its read model
func ToAllocationResponse(a *ledger.Allocation) AllocationResponse {
	lines := make([]AllocationLineResponse, 0, len(a.Lines))
	for _, l := range a.Lines {
		lines = append(lines, AllocationLineResponse{
			BatchID:      l.BatchID,
			BatchNumber:  l.BatchNumber,
			Quantity:     l.Quantity,
			CostPrice:    l.CostPrice,
			SellingPrice: l.SellingPrice,
			LineCost:     l.LineCost(),
			LineRevenue:  l.LineRevenue(),
		})
	}
	return AllocationResponse{
		ProductID:         a.ProductID,
		Lines:             lines,
		TotalQuantity:     a.TotalQuantity,
		TotalCost:         a.TotalCost,
		TotalRevenue:      a.TotalRevenue,
		Profit:            a.Profit,
		WeightedUnitCost:  a.WeightedUnitCost,
		WeightedUnitPrice: a.WeightedUnitPrice,
	}
}

// SaleResult is what a committed sale settled at
type SaleResult struct {
	SaleID     uuid.UUID          `json:"saleId"`
	Allocation AllocationResponse `json:"allocation"`
	SoldAt     time.Time          `json:"soldAt"`
}

// MovementResponse is the read model for one audit record
type MovementResponse struct {
	ID          uuid.UUID       `json:"id"`
	BatchID     uuid.UUID       `json:"batchId"`
	BatchNumber string          `json:"batchNumber"`
	ProductID   uuid.UUID       `json:"productId"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      string          `json:"reason"`
	Actor       string          `json:"actor"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// ToMovementResponses converts domain movements
func ToMovementResponses(movements []ledger.StockMovement) []MovementResponse {
	out := make([]MovementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, MovementResponse{
			ID:          m.ID,
			BatchID:     m.BatchID,
			BatchNumber: m.BatchNumber,
			ProductID:   m.ProductID,
			Quantity:    m.Quantity,
			Reason:      m.Reason.String(),
			Actor:       m.Actor,
			OccurredAt:  m.OccurredAt,
		})
	}
	return out
}

// SweepResult summarizes one expiry sweep
type SweepResult struct {
	UpdatedCount     int             `json:"updatedCount"`
	QuantityReleased decimal.Decimal `json:"quantityReleased"`
}

// ExpiringBatch is one batch inside an expiring-soon group
type ExpiringBatch struct {
	BatchID         uuid.UUID       `json:"batchId"`
	BatchNumber     string          `json:"batchNumber"`
	CurrentQuantity decimal.Decimal `json:"currentQuantity"`
	ExpiryDate      time.Time       `json:"expiryDate"`
	DaysUntilExpiry int             `json:"daysUntilExpiry"`
}

// ExpiringProductGroup groups a product's soon-to-expire batches,
// nearest expiry first
type ExpiringProductGroup struct {
	ProductID     uuid.UUID       `json:"productId"`
	TotalQuantity decimal.Decimal `json:"totalQuantity"`
	NearestExpiry time.Time       `json:"nearestExpiry"`
	Batches       []ExpiringBatch `json:"batches"`
}

// ProductValuation is one product's rollup over its active batches
type ProductValuation struct {
	ProductID            uuid.UUID       `json:"productId"`
	BatchCount           int64           `json:"batchCount"`
	TotalQuantity        decimal.Decimal `json:"totalQuantity"`
	WeightedAverageCost  decimal.Decimal `json:"weightedAverageCost"`
	WeightedAveragePrice decimal.Decimal `json:"weightedAveragePrice"`
	TotalCostValue       decimal.Decimal `json:"totalCostValue"`
	TotalSellingValue    decimal.Decimal `json:"totalSellingValue"`
	PotentialProfit      decimal.Decimal `json:"potentialProfit"`
	MarginPercent        decimal.Decimal `json:"marginPercent"`
}

// ValuationTotals are the system-wide sums over the same snapshot as the rows
type ValuationTotals struct {
	TotalQuantity     decimal.Decimal `json:"totalQuantity"`
	TotalCostValue    decimal.Decimal `json:"totalCostValue"`
	TotalSellingValue decimal.Decimal `json:"totalSellingValue"`
	PotentialProfit   decimal.Decimal `json:"potentialProfit"`
}

// ValuationReport is the whole-store valuation rollup
type ValuationReport struct {
	PerProduct  []ProductValuation `json:"perProduct"`
	Totals      ValuationTotals    `json:"totals"`
	GeneratedAt time.Time          `json:"generatedAt"`
}
