package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"clowdy/internal/docker"
	"clowdy/internal/images"
	"clowdy/internal/logging"
	"clowdy/pkg/models"
)

func requirementsView(p *models.Project) gin.H {
	return gin.H{
		"requirements_text":  p.RequirementsText,
		"requirements_hash":  p.RequirementsHash,
		"image_build_status": p.ImageBuildStatus,
		"image_build_error":  p.ImageBuildError,
		"has_custom_image":   p.HasCustomImage(),
	}
}

// GetRequirements returns the project's dependency manifest and the state
// of the image built from it.
func (h *Handler) GetRequirements(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	c.JSON(http.StatusOK, requirementsView(project))
}

// UpdateRequirements replaces the dependency manifest and builds the
// project image synchronously. The canonicalized text is persisted before
// the build, so a failed build keeps the manifest and its failure detail
// while invocations continue on the previous image. An empty manifest
// clears the project back to the shared base runtime.
func (h *Handler) UpdateRequirements(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	ctx := c.Request.Context()

	var req struct {
		RequirementsText string `json:"requirements_text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}

	canonical := images.Canonicalize(req.RequirementsText)
	if err := h.DB.SetRequirementsText(ctx, project.ID, canonical); err != nil {
		logging.S().Errorw("manifest persist failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to save requirements"})
		return
	}

	if canonical == "" {
		if err := h.DB.ClearProjectImage(ctx, project.ID); err != nil {
			logging.S().Errorw("image state clear failed", "project", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to save requirements"})
			return
		}
		h.respondRequirements(c, project.ID)
		return
	}

	if _, err := h.Images.Rebuild(ctx, project, canonical); err != nil {
		detail := err.Error()
		var be *docker.BuildError
		if errors.As(err, &be) {
			detail = be.Detail()
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Failed to build image: " + detail})
		return
	}
	h.respondRequirements(c, project.ID)
}

// respondRequirements re-reads the project so the response reflects the
// state the build just wrote.
func (h *Handler) respondRequirements(c *gin.Context, projectID string) {
	project, err := h.DB.ProjectByID(c.Request.Context(), projectID)
	if err != nil {
		logging.S().Errorw("project reload failed", "project", projectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}
	c.JSON(http.StatusOK, requirementsView(project))
}
