package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"clowdy/internal/db"
	"clowdy/internal/logging"
	"clowdy/internal/middleware"
	"clowdy/pkg/models"
)

var (
	slugStripRe   = regexp.MustCompile(`[^\w\s-]`)
	slugHyphenRe  = regexp.MustCompile(`[\s_]+`)
	slugRepeatRe  = regexp.MustCompile(`-+`)
	validStatuses = map[string]bool{
		models.ProjectStatusActive:   true,
		models.ProjectStatusArchived: true,
	}
)

// slugify derives a URL-safe slug from a project name. Names that reduce
// to nothing (all symbols) fall back to "project"; uniqueness is handled
// by the caller.
func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStripRe.ReplaceAllString(s, "")
	s = slugHyphenRe.ReplaceAllString(s, "-")
	s = slugRepeatRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "project"
	}
	return s
}

// uniqueSlug resolves a slug collision by appending a short random suffix.
func (h *Handler) uniqueSlug(c *gin.Context, base string) (string, bool) {
	taken, err := h.DB.SlugTaken(c.Request.Context(), base)
	if err != nil {
		logging.S().Errorw("slug check failed", "slug", base, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return "", false
	}
	if taken {
		base = base + "-" + models.NewID()[:6]
	}
	return base, true
}

// CreateProject creates a project for the authenticated owner.
func (h *Handler) CreateProject(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Project name is required"})
		return
	}

	slug, ok := h.uniqueSlug(c, slugify(req.Name))
	if !ok {
		return
	}

	project := &models.Project{
		OwnerID:     middleware.OwnerID(c),
		Name:        req.Name,
		Slug:        slug,
		Description: req.Description,
		Status:      models.ProjectStatusActive,
	}
	if err := h.DB.CreateProject(c.Request.Context(), project); err != nil {
		logging.S().Errorw("project create failed", "name", req.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create project"})
		return
	}
	c.JSON(http.StatusCreated, db.ProjectWithCount{Project: *project})
}

// ListProjects returns the owner's projects, newest first, each with its
// function count.
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.DB.ListProjects(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		logging.S().Errorw("project list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}
	c.JSON(http.StatusOK, projects)
}

// GetProject returns one project with its function count.
func (h *Handler) GetProject(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	count, err := h.DB.CountProjectFunctions(c.Request.Context(), project.ID)
	if err != nil {
		logging.S().Errorw("function count failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}
	c.JSON(http.StatusOK, db.ProjectWithCount{Project: *project, FunctionCount: count})
}

// UpdateProject updates name, description or status. A rename re-derives
// the slug only when the name actually produces a different one, so
// saving an unchanged name never moves the project's gateway URL.
func (h *Handler) UpdateProject(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}

	oldSlug := project.Slug
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Project name cannot be empty"})
			return
		}
		project.Name = name
		if newSlug := slugify(name); newSlug != project.Slug {
			slug, ok := h.uniqueSlug(c, newSlug)
			if !ok {
				return
			}
			project.Slug = slug
		}
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.Status != nil {
		if !validStatuses[*req.Status] {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid status: " + *req.Status})
			return
		}
		project.Status = *req.Status
	}

	if err := h.DB.SaveProject(c.Request.Context(), project); err != nil {
		logging.S().Errorw("project update failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to update project"})
		return
	}

	h.Projects.Invalidate(c.Request.Context(), oldSlug)
	if project.Slug != oldSlug {
		h.Projects.Invalidate(c.Request.Context(), project.Slug)
	}

	count, err := h.DB.CountProjectFunctions(c.Request.Context(), project.ID)
	if err != nil {
		count = 0
	}
	c.JSON(http.StatusOK, db.ProjectWithCount{Project: *project, FunctionCount: count})
}

// DeleteProject removes a project and everything under it: functions,
// their invocation records, env vars, routes, and the managed database if
// one was provisioned. Deprovisioning is best-effort; a provider failure
// is logged and the local delete proceeds.
func (h *Handler) DeleteProject(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	ctx := c.Request.Context()

	if project.HasDatabase() && h.Provisioner.Enabled() {
		if err := h.Provisioner.Deprovision(ctx, project.DBProviderID); err != nil {
			logging.S().Warnw("database deprovision failed during project delete",
				"project", project.ID, "provider_id", project.DBProviderID, "error", err)
		}
	}

	if err := h.DB.DeleteProject(ctx, project.ID); err != nil {
		logging.S().Errorw("project delete failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to delete project"})
		return
	}

	h.Projects.Invalidate(ctx, project.Slug)
	h.Dispatcher.InvalidateRoutes(project.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Project deleted"})
}

// ListProjectFunctions returns the functions belonging to one project.
func (h *Handler) ListProjectFunctions(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	functions, err := h.DB.ListProjectFunctions(c.Request.Context(), project.ID)
	if err != nil {
		logging.S().Errorw("function list failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}
	c.JSON(http.StatusOK, functions)
}
