package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// expiringSoonCacheKey holds the default window's report only. Ad-hoc
	// windows always read the database, so a cached entry can never answer
	// a different window than the one it was computed for.
	expiringSoonCacheKey = "reports:expiring_soon"
	// defaultExpiryWindowDays applies when the caller passes no window.
	defaultExpiryWindowDays = 7
)

// ExpirySweeper retires batches whose expiry date has passed. Sweeping is
// idempotent: retired batches leave the ACTIVE status, so a second sweep with
// no new expirations finds nothing to do. One batch failing does not abort
// the sweep; the next run picks it up again.
type ExpirySweeper struct {
	scope       TransactionScope
	batchRepo   ledger.BatchRepository
	reportCache ReportCache
	logger      *zap.Logger
}

// NewExpirySweeper creates a new ExpirySweeper
func NewExpirySweeper(scope TransactionScope, batchRepo ledger.BatchRepository, logger *zap.Logger) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirySweeper{
		scope:     scope,
		batchRepo: batchRepo,
		logger:    logger,
	}
}

// SetReportCache wires the optional read-cache
func (s *ExpirySweeper) SetReportCache(cache ReportCache) {
	s.reportCache = cache
}

// Sweep retires every ACTIVE batch with expiry_date < now: status moves to
// EXPIRED, the remaining quantity is zeroed into released quantity, and one
// "expired" movement records the delta. Each batch commits in its own
// transaction so one failure cannot poison the rest.
func (s *ExpirySweeper) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	expired, err := s.batchRepo.FindExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{QuantityReleased: decimal.Zero}
	for i := range expired {
		batch := &expired[i]
		released := batch.CurrentQuantity

		err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			if err := repos.Batches().UpdateStatus(ctx, batch.ID, ledger.BatchStatusExpired, released); err != nil {
				return err
			}
			if released.GreaterThan(decimal.Zero) {
				movement, err := ledger.NewStockMovement(
					batch.ID, batch.BatchNumber, batch.ProductID,
					released, ledger.MovementReasonExpired, "sweeper", now,
				)
				if err != nil {
					return err
				}
				if err := repos.Movements().Create(ctx, movement); err != nil {
					return err
				}
				if err := repos.ProductStock().AdjustStock(ctx, batch.ProductID, released.Neg()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			// Idempotency makes skipping safe: the batch is still ACTIVE
			// and the next sweep will retry it.
			s.logger.Error("failed to retire expired batch, continuing sweep",
				zap.String("batch_number", batch.BatchNumber),
				zap.Error(err),
			)
			continue
		}

		result.UpdatedCount++
		result.QuantityReleased = result.QuantityReleased.Add(released)
	}

	if result.UpdatedCount > 0 {
		if s.reportCache != nil {
			if err := s.reportCache.Invalidate(ctx, valuationCacheKey, expiringSoonCacheKey); err != nil {
				s.logger.Warn("report cache invalidation failed", zap.Error(err))
			}
		}
		s.logger.Info("expiry sweep finished",
			zap.Int("batches_retired", result.UpdatedCount),
			zap.String("quantity_released", result.QuantityReleased.String()),
		)
	}
	return result, nil
}

// ExpiringSoon lists active batches expiring within the window, grouped by
// product and sorted nearest expiry first. Pure read; nothing is mutated.
func (s *ExpirySweeper) ExpiringSoon(ctx context.Context, now time.Time, windowDays int) ([]ExpiringProductGroup, error) {
	if windowDays <= 0 {
		windowDays = defaultExpiryWindowDays
	}
	cacheable := s.reportCache != nil && windowDays == defaultExpiryWindowDays

	if cacheable {
		var cached []ExpiringProductGroup
		if ok, err := s.reportCache.Get(ctx, expiringSoonCacheKey, &cached); err == nil && ok {
			return cached, nil
		}
	}

	window := time.Duration(windowDays) * 24 * time.Hour
	batches, err := s.batchRepo.FindExpiringSoon(ctx, now, window)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[uuid.UUID]*ExpiringProductGroup)
	order := make([]uuid.UUID, 0)
	for i := range batches {
		b := &batches[i]
		if b.ExpiryDate == nil {
			continue
		}
		group, ok := byProduct[b.ProductID]
		if !ok {
			group = &ExpiringProductGroup{
				ProductID:     b.ProductID,
				TotalQuantity: decimal.Zero,
				NearestExpiry: *b.ExpiryDate,
			}
			byProduct[b.ProductID] = group
			order = append(order, b.ProductID)
		}
		if b.ExpiryDate.Before(group.NearestExpiry) {
			group.NearestExpiry = *b.ExpiryDate
		}
		group.TotalQuantity = group.TotalQuantity.Add(b.CurrentQuantity)
		group.Batches = append(group.Batches, ExpiringBatch{
			BatchID:         b.ID,
			BatchNumber:     b.BatchNumber,
			CurrentQuantity: b.CurrentQuantity,
			ExpiryDate:      *b.ExpiryDate,
			DaysUntilExpiry: b.DaysUntilExpiry(now),
		})
	}

	groups := make([]ExpiringProductGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byProduct[id])
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].NearestExpiry.Before(groups[j].NearestExpiry)
	})

	if cacheable {
		if err := s.reportCache.Set(ctx, expiringSoonCacheKey, groups); err != nil {
			s.logger.Warn("report cache write failed", zap.Error(err))
		}
	}
	return groups, nil
}
