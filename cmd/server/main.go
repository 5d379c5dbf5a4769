package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appledger "github.com/erp/stockledger/internal/application/ledger"
	"github.com/erp/stockledger/internal/infrastructure/cache"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/erp/stockledger/internal/infrastructure/persistence"
	"github.com/erp/stockledger/internal/interfaces/http/handler"
	"github.com/erp/stockledger/internal/interfaces/http/middleware"
	"github.com/erp/stockledger/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting stock ledger",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database connection with a zap-backed GORM logger
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Repositories and the transaction scope that binds their writes
	batchRepo := persistence.NewGormBatchRepository(db.DB)
	movementRepo := persistence.NewGormStockMovementRepository(db.DB)
	sequenceRepo := persistence.NewGormSequenceRepository(db.DB)
	scope := persistence.NewGormTransactionScope(db.DB)

	// Application services
	ledgerService := appledger.NewLedgerService(scope, batchRepo, movementRepo, sequenceRepo, log)
	expirySweeper := appledger.NewExpirySweeper(scope, batchRepo, log)
	valuationService := appledger.NewValuationService(batchRepo, log)

	// Report cache: Redis when reachable, in-memory otherwise
	if cfg.Reports.CacheEnabled {
		var reportCache appledger.ReportCache
		redisCache, err := cache.NewRedisReportCache(cfg.Redis, cfg.Reports.CacheTTL)
		if err != nil {
			log.Warn("Redis unavailable, using in-memory report cache", zap.Error(err))
			reportCache = cache.NewInMemoryReportCache(cfg.Reports.CacheTTL)
		} else {
			defer func() {
				if err := redisCache.Close(); err != nil {
					log.Error("Error closing redis client", zap.Error(err))
				}
			}()
			reportCache = redisCache
		}
		ledgerService.SetReportCache(reportCache)
		expirySweeper.SetReportCache(reportCache)
		valuationService.SetReportCache(reportCache)
	}

	// HTTP layer
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}
	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
	)

	ledgerHandler := handler.NewLedgerHandler(ledgerService, expirySweeper, valuationService)
	systemHandler := handler.NewSystemHandler()

	router.NewRouter(engine).
		Register(ledgerHandler).
		Register(systemHandler).
		Setup()

	server := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Background expiry sweep
	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	if cfg.Sweeper.Enabled {
		go runSweeper(sweeperCtx, expirySweeper, cfg.Sweeper.Interval, log)
		log.Info("Expiry sweeper started", zap.Duration("interval", cfg.Sweeper.Interval))
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}
	log.Info("Server stopped")
}

// runSweeper retires expired batches on a fixed interval until ctx is done.
// One run also fires immediately at startup so a restarted service does not
// wait a full interval to catch up.
func runSweeper(ctx context.Context, sweeper *appledger.ExpirySweeper, interval time.Duration, log *zap.Logger) {
	sweep := func() {
		result, err := sweeper.Sweep(ctx, time.Now())
		if err != nil {
			log.Error("Expiry sweep failed", zap.Error(err))
			return
		}
		if result.UpdatedCount > 0 {
			log.Info("Expiry sweep retired batches",
				zap.Int("count", result.UpdatedCount),
				zap.String("quantity_released", result.QuantityReleased.String()),
			)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
