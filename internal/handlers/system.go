package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"clowdy/internal/logging"
	"clowdy/internal/middleware"
)

// healthProbeTimeout bounds the docker ping so a wedged engine socket
// cannot hang the health endpoint.
const healthProbeTimeout = 2 * time.Second

// Health reports whether the record store and the container engine are
// reachable. Either one down degrades the whole check to 503.
func (h *Handler) Health(c *gin.Context) {
	dbStatus, dockerStatus := "ok", "ok"

	if err := h.DB.Health(); err != nil {
		logging.S().Warnw("health: database unreachable", "error", err)
		dbStatus = "unavailable"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()
	if err := h.Host.Ping(ctx); err != nil {
		logging.S().Warnw("health: container engine unreachable", "error", err)
		dockerStatus = "unavailable"
	}

	status, code := "ok", http.StatusOK
	if dbStatus != "ok" || dockerStatus != "ok" {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"database": dbStatus,
		"docker":   dockerStatus,
	})
}

// GetStats returns the owner's aggregate invocation statistics.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.DB.AggregateStats(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		logging.S().Errorw("stats aggregation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
