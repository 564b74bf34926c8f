package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"clowdy/internal/db"
	"clowdy/internal/gateway"
	"clowdy/internal/logging"
	"clowdy/pkg/models"
)

// ListRoutes returns a project's gateway routes in creation order, the
// order the route compiler uses for ties.
func (h *Handler) ListRoutes(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	routes, err := h.DB.RoutesForProject(c.Request.Context(), project.ID)
	if err != nil {
		logging.S().Errorw("route list failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}
	c.JSON(http.StatusOK, routes)
}

// CreateRoute maps a method and path pattern to one of the project's own
// functions. The stored pattern is the normalized form, so equivalent
// spellings collide instead of coexisting.
func (h *Handler) CreateRoute(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	ctx := c.Request.Context()

	var req struct {
		FunctionID  string `json:"function_id"`
		Method      string `json:"method"`
		Path        string `json:"path"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if !models.ValidRouteMethods[method] {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid method: " + req.Method})
		return
	}
	pattern, err := gateway.ValidatePathPattern(req.Path)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid path pattern: " + err.Error()})
		return
	}

	fn, err := h.DB.FunctionByID(ctx, req.FunctionID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && fn.OwnerID != project.OwnerID) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Function not found"})
		return
	}
	if err != nil {
		logging.S().Errorw("function lookup failed", "function", req.FunctionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}
	if fn.ProjectID == nil || *fn.ProjectID != project.ID {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Function belongs to a different project"})
		return
	}

	exists, err := h.DB.RouteExists(ctx, project.ID, method, pattern)
	if err != nil {
		logging.S().Errorw("route check failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, gin.H{"detail": "A route for this method and path already exists"})
		return
	}

	route := &models.Route{
		ProjectID:   project.ID,
		FunctionID:  fn.ID,
		Method:      method,
		PathPattern: pattern,
		Description: req.Description,
	}
	if err := h.DB.CreateRoute(ctx, route); err != nil {
		logging.S().Errorw("route create failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create route"})
		return
	}

	h.Dispatcher.InvalidateRoutes(project.ID)
	c.JSON(http.StatusCreated, route)
}

// DeleteRoute removes one route.
func (h *Handler) DeleteRoute(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	err := h.DB.DeleteRoute(c.Request.Context(), project.ID, c.Param("route_id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Route not found"})
		return
	}
	if err != nil {
		logging.S().Errorw("route delete failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to delete route"})
		return
	}

	h.Dispatcher.InvalidateRoutes(project.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Route deleted"})
}
