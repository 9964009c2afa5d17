// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"bondstock/internal/domain/ledger"
	"bondstock/internal/domain/reports"
	"bondstock/internal/infrastructure/http/v1/handlers"
	"bondstock/internal/infrastructure/http/v1/middleware"
	"bondstock/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// Development enables gin debug mode
	Development bool

	// Version reported by /health/info
	Version string

	// HealthChecks are probed by /health/ready, keyed by dependency name
	HealthChecks map[string]handlers.ReadinessCheck

	Ledger  *ledger.Service
	Reports *reports.Service
	Stock   handlers.StockDeps

	// Idempotency guards ledger mutations; nil disables it
	Idempotency middleware.IdempotencyStore

	// CORSOrigins lists browser origins allowed to call the API
	CORSOrigins []string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.HealthChecks, cfg.Stock.Pending, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	var mutating []gin.HandlerFunc
	if cfg.Idempotency != nil {
		mutating = append(mutating, middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()

	v1 := router.Group("/api/v1")
	{
		RegisterLedgerRoutes(v1.Group("/ledger/entries"), handlers.NewLedgerHandler(base, cfg.Ledger), mutating...)
		RegisterStockRoutes(v1.Group("/stock"), handlers.NewStockHandler(base, cfg.Stock), mutating...)

		reportsHandler := handlers.NewReportsHandler(base, cfg.Reports)
		reportsGroup := v1.Group("/reports")
		reportsGroup.GET("/position", reportsHandler.GetStockPosition)
		reportsGroup.GET("/mutation", reportsHandler.GetMutation)
	}

	return router
}
