package v1

import (
	"github.com/gin-gonic/gin"
)

// LedgerRouteHandler defines the interface for ledger entry handlers.
type LedgerRouteHandler interface {
	List(c *gin.Context)
	Post(c *gin.Context)
	Get(c *gin.Context)
	Replace(c *gin.Context)
	Void(c *gin.Context)
}

// StockRouteHandler defines the interface for stock handlers.
type StockRouteHandler interface {
	RecordCount(c *gin.Context)
	Availability(c *gin.Context)
	ListSnapshots(c *gin.Context)
	Recalculate(c *gin.Context)
	RecalcStatus(c *gin.Context)
	RunHistory(c *gin.Context)
}

// RegisterLedgerRoutes registers posting, correction and void routes.
// Mutations pass through the optional idempotency middleware.
func RegisterLedgerRoutes(group *gin.RouterGroup, handler LedgerRouteHandler, mutating ...gin.HandlerFunc) {
	group.GET("", handler.List)
	group.GET("/:id", handler.Get)
	group.POST("", chain(mutating, handler.Post)...)
	group.PUT("/:id", chain(mutating, handler.Replace)...)
	group.DELETE("/:id", handler.Void)
}

// RegisterStockRoutes registers stock count, availability and recalculation routes.
func RegisterStockRoutes(group *gin.RouterGroup, handler StockRouteHandler, mutating ...gin.HandlerFunc) {
	group.POST("/counts", chain(mutating, handler.RecordCount)...)
	group.GET("/availability", handler.Availability)
	group.GET("/snapshots", handler.ListSnapshots)
	group.POST("/recalculate", handler.Recalculate)
	group.GET("/recalculations", handler.RecalcStatus)
	group.GET("/recalculations/history", handler.RunHistory)
}

// chain returns middleware followed by h without sharing the middleware slice.
func chain(middleware []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(middleware)+1)
	out = append(out, middleware...)
	return append(out, h)
}
