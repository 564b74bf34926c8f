package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"clowdy/internal/db"
	"clowdy/internal/logging"
	"clowdy/internal/middleware"
	"clowdy/pkg/models"
)

var validFunctionStatuses = map[string]bool{
	models.FunctionStatusActive:   true,
	models.FunctionStatusDisabled: true,
}

// checkFunctionName enforces name uniqueness within its scope: the project
// when the function has one, otherwise the owner's project-less functions.
// Writes the 409 and returns false on conflict.
func (h *Handler) checkFunctionName(c *gin.Context, projectID *string, ownerID, name, excludeID string) bool {
	taken, err := h.DB.FunctionNameTaken(c.Request.Context(), projectID, ownerID, name, excludeID)
	if err != nil {
		logging.S().Errorw("function name check failed", "name", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return false
	}
	if taken {
		c.JSON(http.StatusConflict, gin.H{"detail": "A function with this name already exists"})
		return false
	}
	return true
}

// CreateFunction creates a function, optionally attached to a project the
// owner controls.
func (h *Handler) CreateFunction(c *gin.Context) {
	var req struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Code        string  `json:"code"`
		ProjectID   *string `json:"project_id"`
		Runtime     string  `json:"runtime"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Function name is required"})
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Function code is required"})
		return
	}
	if req.Runtime != "" && req.Runtime != models.DefaultRuntime {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Unsupported runtime: " + req.Runtime})
		return
	}

	ownerID := middleware.OwnerID(c)
	ctx := c.Request.Context()

	if req.ProjectID != nil && *req.ProjectID != "" {
		project, err := h.DB.ProjectByID(ctx, *req.ProjectID)
		if errors.Is(err, db.ErrNotFound) || (err == nil && project.OwnerID != ownerID) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Project not found"})
			return
		}
		if err != nil {
			logging.S().Errorw("project lookup failed", "project", *req.ProjectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
			return
		}
	} else {
		req.ProjectID = nil
	}

	if !h.checkFunctionName(c, req.ProjectID, ownerID, req.Name, "") {
		return
	}

	fn := &models.Function{
		ProjectID:   req.ProjectID,
		OwnerID:     ownerID,
		Name:        req.Name,
		Description: req.Description,
		Code:        req.Code,
		Runtime:     models.DefaultRuntime,
		Status:      models.FunctionStatusActive,
	}
	if err := h.DB.CreateFunction(ctx, fn); err != nil {
		logging.S().Errorw("function create failed", "name", req.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create function"})
		return
	}
	c.JSON(http.StatusCreated, fn)
}

// ListFunctions returns every function the owner has, project-scoped and
// project-less alike, newest first.
func (h *Handler) ListFunctions(c *gin.Context) {
	functions, err := h.DB.ListFunctions(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		logging.S().Errorw("function list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}
	c.JSON(http.StatusOK, functions)
}

// GetFunction returns one function.
func (h *Handler) GetFunction(c *gin.Context) {
	fn := h.ownedFunction(c)
	if fn == nil {
		return
	}
	c.JSON(http.StatusOK, fn)
}

// UpdateFunction updates name, description, code or status. Renames stay
// subject to the same scope uniqueness as creation.
func (h *Handler) UpdateFunction(c *gin.Context) {
	fn := h.ownedFunction(c)
	if fn == nil {
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Code        *string `json:"code"`
		Status      *string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Function name cannot be empty"})
			return
		}
		if name != fn.Name && !h.checkFunctionName(c, fn.ProjectID, fn.OwnerID, name, fn.ID) {
			return
		}
		fn.Name = name
	}
	if req.Description != nil {
		fn.Description = *req.Description
	}
	if req.Code != nil {
		if strings.TrimSpace(*req.Code) == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Function code cannot be empty"})
			return
		}
		fn.Code = *req.Code
	}
	if req.Status != nil {
		if !validFunctionStatuses[*req.Status] {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid status: " + *req.Status})
			return
		}
		fn.Status = *req.Status
	}

	if err := h.DB.SaveFunction(c.Request.Context(), fn); err != nil {
		logging.S().Errorw("function update failed", "function", fn.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to update function"})
		return
	}
	c.JSON(http.StatusOK, fn)
}

// DeleteFunction removes a function along with its invocation records and
// any gateway routes pointing at it.
func (h *Handler) DeleteFunction(c *gin.Context) {
	fn := h.ownedFunction(c)
	if fn == nil {
		return
	}
	if err := h.DB.DeleteFunction(c.Request.Context(), fn.ID); err != nil {
		logging.S().Errorw("function delete failed", "function", fn.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to delete function"})
		return
	}
	if fn.ProjectID != nil {
		h.Dispatcher.InvalidateRoutes(*fn.ProjectID)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Function deleted"})
}
