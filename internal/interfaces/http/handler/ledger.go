package handler

import (
	"context"
	"strconv"
	"time"

	appledger "github.com/erp/stockledger/internal/application/ledger"
	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerService is the write side of the batch ledger
type LedgerService interface {
	ReceiveGoods(ctx context.Context, req appledger.GoodsReceivedRequest) (*appledger.BatchResponse, error)
	PreviewSale(ctx context.Context, productID uuid.UUID, quantity decimal.Decimal, opts ...appledger.SellOption) (*appledger.AllocationResponse, error)
	Sell(ctx context.Context, productID uuid.UUID, quantity decimal.Decimal, opts ...appledger.SellOption) (*appledger.SaleResult, error)
	MarkDamaged(ctx context.Context, batchID uuid.UUID, actor string) (*appledger.BatchResponse, error)
	ReturnToSupplier(ctx context.Context, batchID uuid.UUID, actor string) (*appledger.BatchResponse, error)
	GetBatch(ctx context.Context, batchID uuid.UUID) (*appledger.BatchResponse, error)
	ListBatches(ctx context.Context, productID uuid.UUID) ([]appledger.BatchResponse, error)
	ListBatchMovements(ctx context.Context, batchID uuid.UUID) ([]appledger.MovementResponse, error)
}

// ExpiryService runs the sweep and the expiring-soon report
type ExpiryService interface {
	Sweep(ctx context.Context, now time.Time) (*appledger.SweepResult, error)
	ExpiringSoon(ctx context.Context, now time.Time, windowDays int) ([]appledger.ExpiringProductGroup, error)
}

// ValuationService produces the stock valuation report
type ValuationService interface {
	Valuation(ctx context.Context) (*appledger.ValuationReport, error)
}

// LedgerHandler handles the batch ledger API endpoints
type LedgerHandler struct {
	BaseHandler
	ledgerService    LedgerService
	expiryService    ExpiryService
	valuationService ValuationService
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(ledgerService LedgerService, expiryService ExpiryService, valuationService ValuationService) *LedgerHandler {
	return &LedgerHandler{
		ledgerService:    ledgerService,
		expiryService:    expiryService,
		valuationService: valuationService,
	}
}

// RegisterRoutes registers the ledger routes on the API group
func (h *LedgerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	batches := rg.Group("/batches")
	{
		batches.POST("", h.ReceiveBatch)
		batches.GET("/expiring", h.ExpiringBatches)
		batches.GET("/:id", h.GetBatch)
		batches.GET("/:id/movements", h.ListBatchMovements)
		batches.POST("/:id/damage", h.MarkDamaged)
		batches.POST("/:id/return", h.ReturnToSupplier)
	}

	rg.GET("/products/:productId/batches", h.ListProductBatches)

	sales := rg.Group("/sales")
	{
		sales.POST("", h.CreateSale)
		sales.POST("/preview", h.PreviewSale)
	}

	rg.POST("/sweep", h.Sweep)
	rg.GET("/valuation", h.Valuation)
}

// ReceiveBatchRequest is the goods-received payload
type ReceiveBatchRequest struct {
	ProductID        string  `json:"product_id" binding:"required,uuid"`
	Quantity         float64 `json:"quantity" binding:"required,gt=0"`
	CostPrice        float64 `json:"cost_price" binding:"gte=0"`
	SellingPrice     float64 `json:"selling_price" binding:"gte=0"`
	PurchaseDate     string  `json:"purchase_date" binding:"required"`
	ManufactureDate  string  `json:"manufacture_date"`
	ExpiryDate       string  `json:"expiry_date"`
	BatchNumber      string  `json:"batch_number"`
	SupplierRef      string  `json:"supplier_ref"`
	PurchaseOrderRef string  `json:"purchase_order_ref"`
	Location         string  `json:"location"`
	Actor            string  `json:"actor"`
}

// SaleRequest is the sale / preview payload
type SaleRequest struct {
	ProductID string   `json:"product_id" binding:"required,uuid"`
	Quantity  float64  `json:"quantity" binding:"required,gt=0"`
	UnitPrice *float64 `json:"unit_price" binding:"omitempty,gt=0"`
	Actor     string   `json:"actor"`
}

// parseDate parses a date in RFC3339 or plain ISO date format
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// parseOptionalDate parses an optional date field
func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ReceiveBatch handles POST /batches
func (h *LedgerHandler) ReceiveBatch(c *gin.Context) {
	var req ReceiveBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindingError(c, err)
		return
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		h.BadRequest(c, "Invalid product ID")
		return
	}
	purchaseDate, err := parseDate(req.PurchaseDate)
	if err != nil {
		h.BadRequest(c, "Invalid purchase date")
		return
	}
	manufactureDate, err := parseOptionalDate(req.ManufactureDate)
	if err != nil {
		h.BadRequest(c, "Invalid manufacture date")
		return
	}
	expiryDate, err := parseOptionalDate(req.ExpiryDate)
	if err != nil {
		h.BadRequest(c, "Invalid expiry date")
		return
	}

	goodsReceived := appledger.GoodsReceivedRequest{
		ProductID:        productID,
		Quantity:         decimal.NewFromFloat(req.Quantity),
		CostPrice:        decimal.NewFromFloat(req.CostPrice),
		SellingPrice:     decimal.NewFromFloat(req.SellingPrice),
		PurchaseDate:     purchaseDate,
		ManufactureDate:  manufactureDate,
		ExpiryDate:       expiryDate,
		SupplierRef:      req.SupplierRef,
		PurchaseOrderRef: req.PurchaseOrderRef,
		Location:         req.Location,
		Actor:            req.Actor,
	}
	if req.BatchNumber != "" {
		goodsReceived.BatchNumber = ledger.BatchNumberSpec{
			Mode:  ledger.BatchNumberSupplied,
			Value: req.BatchNumber,
		}
	}

	batch, err := h.ledgerService.ReceiveGoods(c.Request.Context(), goodsReceived)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, batch)
}

// GetBatch handles GET /batches/:id
func (h *LedgerHandler) GetBatch(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid batch ID")
		return
	}

	batch, err := h.ledgerService.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, batch)
}

// ListProductBatches handles GET /products/:productId/batches
func (h *LedgerHandler) ListProductBatches(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("productId"))
	if err != nil {
		h.BadRequest(c, "Invalid product ID")
		return
	}

	batches, err := h.ledgerService.ListBatches(c.Request.Context(), productID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, batches)
}

// ListBatchMovements handles GET /batches/:id/movements
func (h *LedgerHandler) ListBatchMovements(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid batch ID")
		return
	}

	movements, err := h.ledgerService.ListBatchMovements(c.Request.Context(), batchID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, movements)
}

// MarkDamaged handles POST /batches/:id/damage
func (h *LedgerHandler) MarkDamaged(c *gin.Context) {
	h.retireBatch(c, h.ledgerService.MarkDamaged)
}

// ReturnToSupplier handles POST /batches/:id/return
func (h *LedgerHandler) ReturnToSupplier(c *gin.Context) {
	h.retireBatch(c, h.ledgerService.ReturnToSupplier)
}

type retireRequest struct {
	Actor string `json:"actor"`
}

func (h *LedgerHandler) retireBatch(c *gin.Context, retire func(context.Context, uuid.UUID, string) (*appledger.BatchResponse, error)) {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid batch ID")
		return
	}

	var req retireRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleBindingError(c, err)
			return
		}
	}

	batch, err := retire(c.Request.Context(), batchID, req.Actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, batch)
}

// CreateSale handles POST /sales
func (h *LedgerHandler) CreateSale(c *gin.Context) {
	productID, quantity, opts, ok := h.bindSale(c)
	if !ok {
		return
	}

	result, err := h.ledgerService.Sell(c.Request.Context(), productID, quantity, opts...)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}

// PreviewSale handles POST /sales/preview
func (h *LedgerHandler) PreviewSale(c *gin.Context) {
	productID, quantity, opts, ok := h.bindSale(c)
	if !ok {
		return
	}

	preview, err := h.ledgerService.PreviewSale(c.Request.Context(), productID, quantity, opts...)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, preview)
}

func (h *LedgerHandler) bindSale(c *gin.Context) (uuid.UUID, decimal.Decimal, []appledger.SellOption, bool) {
	var req SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindingError(c, err)
		return uuid.Nil, decimal.Zero, nil, false
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		h.BadRequest(c, "Invalid product ID")
		return uuid.Nil, decimal.Zero, nil, false
	}

	var opts []appledger.SellOption
	if req.UnitPrice != nil {
		opts = append(opts, appledger.WithSellUnitPrice(decimal.NewFromFloat(*req.UnitPrice)))
	}
	if req.Actor != "" {
		opts = append(opts, appledger.WithActor(req.Actor))
	}
	return productID, decimal.NewFromFloat(req.Quantity), opts, true
}

// Sweep handles POST /sweep
func (h *LedgerHandler) Sweep(c *gin.Context) {
	result, err := h.expiryService.Sweep(c.Request.Context(), time.Now())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ExpiringBatches handles GET /batches/expiring?days=N
func (h *LedgerHandler) ExpiringBatches(c *gin.Context) {
	windowDays := 0
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.BadRequest(c, "days must be a positive integer")
			return
		}
		windowDays = parsed
	}

	groups, err := h.expiryService.ExpiringSoon(c.Request.Context(), time.Now(), windowDays)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, groups)
}

// Valuation handles GET /valuation
func (h *LedgerHandler) Valuation(c *gin.Context) {
	report, err := h.valuationService.Valuation(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}
