// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck interface {
	Ready(ctx context.Context) error
}

// PendingCounter reports queued background recalculations.
type PendingCounter interface {
	Pending() int
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	checks  map[string]ReadinessCheck
	pending PendingCounter
	version string
}

// NewHealthHandler creates a new health handler. checks are keyed by
// dependency name (database, redis); pending may be nil.
func NewHealthHandler(checks map[string]ReadinessCheck, pending PendingCounter, version string) *HealthHandler {
	return &HealthHandler{checks: checks, pending: pending, version: version}
}

// Live handles liveness probe (is the process alive?).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready handles readiness probe (is the service ready to accept traffic?).
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Ready(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = "unhealthy: " + err.Error()
			continue
		}
		results[name] = "healthy"
	}

	body := gin.H{
		"status": "ok",
		"checks": results,
	}
	if status != http.StatusOK {
		body["status"] = "error"
	}
	c.JSON(status, body)
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	body := gin.H{
		"app":     "bondstock",
		"version": h.version,
	}
	if h.pending != nil {
		body["pending_recalculations"] = h.pending.Pending()
	}
	c.JSON(http.StatusOK, body)
}
