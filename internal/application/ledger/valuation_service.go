package ledger

import (
	"context"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const valuationCacheKey = "reports:valuation"

// ReportCache is a short-TTL read cache for the report queries. Writes to the
// ledger invalidate it; a miss or cache failure always falls through to the
// repository.
type ReportCache interface {
	// Get unmarshals the cached value into v, reporting whether it was present
	Get(ctx context.Context, key string, v any) (bool, error)
	// Set stores v under key with the cache's TTL
	Set(ctx context.Context, key string, v any) error
	// Invalidate drops the given keys
	Invalidate(ctx context.Context, keys ...string) error
}

// ValuationService produces the read-only cost/revenue/profit rollup across
// active batches. The per-product rows and the system totals come from one
// repository snapshot, so the totals always equal the sum of the rows even
// under concurrent mutation.
type ValuationService struct {
	batchRepo   ledger.BatchRepository
	reportCache ReportCache
	logger      *zap.Logger
	nowFunc     func() time.Time
}

// NewValuationService creates a new ValuationService
func NewValuationService(batchRepo ledger.BatchRepository, logger *zap.Logger) *ValuationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValuationService{
		batchRepo: batchRepo,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// SetReportCache wires the optional read-cache
func (s *ValuationService) SetReportCache(cache ReportCache) {
	s.reportCache = cache
}

// SetNowFunc overrides the clock (tests)
func (s *ValuationService) SetNowFunc(now func() time.Time) {
	s.nowFunc = now
}

// Valuation computes the per-product and system-wide stock valuation from a
// single consistent point-in-time snapshot of the active batches.
func (s *ValuationService) Valuation(ctx context.Context) (*ValuationReport, error) {
	if s.reportCache != nil {
		var cached ValuationReport
		if ok, err := s.reportCache.Get(ctx, valuationCacheKey, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	rows, err := s.batchRepo.ValuationRows(ctx)
	if err != nil {
		return nil, err
	}

	report := &ValuationReport{
		PerProduct: make([]ProductValuation, 0, len(rows)),
		Totals: ValuationTotals{
			TotalQuantity:     decimal.Zero,
			TotalCostValue:    decimal.Zero,
			TotalSellingValue: decimal.Zero,
			PotentialProfit:   decimal.Zero,
		},
		GeneratedAt: s.nowFunc(),
	}

	for _, row := range rows {
		pv := ProductValuation{
			ProductID:         row.ProductID,
			BatchCount:        row.BatchCount,
			TotalQuantity:     row.TotalQuantity,
			TotalCostValue:    row.TotalCostValue,
			TotalSellingValue: row.TotalSellingValue,
			PotentialProfit:   row.TotalSellingValue.Sub(row.TotalCostValue),
		}
		if row.TotalQuantity.GreaterThan(decimal.Zero) {
			pv.WeightedAverageCost = row.TotalCostValue.Div(row.TotalQuantity).Round(4)
			pv.WeightedAveragePrice = row.TotalSellingValue.Div(row.TotalQuantity).Round(4)
		}
		if row.TotalSellingValue.GreaterThan(decimal.Zero) {
			pv.MarginPercent = pv.PotentialProfit.
				Div(row.TotalSellingValue).
				Mul(decimal.NewFromInt(100)).
				Round(2)
		}
		report.PerProduct = append(report.PerProduct, pv)

		// Totals are summed from the same rows, never recomputed from a
		// second read, so they cannot disagree with the per-product sum.
		report.Totals.TotalQuantity = report.Totals.TotalQuantity.Add(row.TotalQuantity)
		report.Totals.TotalCostValue = report.Totals.TotalCostValue.Add(row.TotalCostValue)
		report.Totals.TotalSellingValue = report.Totals.TotalSellingValue.Add(row.TotalSellingValue)
		report.Totals.PotentialProfit = report.Totals.PotentialProfit.Add(pv.PotentialProfit)
	}

	if s.reportCache != nil {
		if err := s.reportCache.Set(ctx, valuationCacheKey, report); err != nil {
			s.logger.Warn("report cache write failed", zap.Error(err))
		}
	}
	return report, nil
}
