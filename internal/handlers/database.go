package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clowdy/internal/logging"
	"clowdy/internal/provision"
	"clowdy/pkg/models"
)

func databaseView(p *models.Project) gin.H {
	return gin.H{
		"has_database": p.HasDatabase(),
		"provider_id":  p.DBProviderID,
		"database_url": provision.MaskConnectionString(p.DatabaseURL),
	}
}

// ProvisionDatabase creates a managed database for the project through the
// external provisioning API and stores the connection string server-side.
// The string is injected into invocations as DATABASE_URL; the API only
// ever shows it masked.
func (h *Handler) ProvisionDatabase(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	if !h.Provisioner.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Database provisioning is not configured"})
		return
	}
	if project.HasDatabase() {
		c.JSON(http.StatusConflict, gin.H{"detail": "Project already has a database"})
		return
	}
	ctx := c.Request.Context()

	database, err := h.Provisioner.Provision(ctx, project.Slug)
	if err != nil {
		logging.S().Errorw("database provision failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to provision database: " + err.Error()})
		return
	}

	if err := h.DB.SetProjectDatabase(ctx, project.ID, database.ProviderID, database.ConnectionURI); err != nil {
		logging.S().Errorw("database record failed", "project", project.ID,
			"provider_id", database.ProviderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to record database"})
		return
	}

	project.DBProviderID = database.ProviderID
	project.DatabaseURL = database.ConnectionURI
	c.JSON(http.StatusCreated, databaseView(project))
}

// GetDatabase returns the project's managed-database status with the
// connection string masked.
func (h *Handler) GetDatabase(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	c.JSON(http.StatusOK, databaseView(project))
}

// DeprovisionDatabase deletes the managed database at the provider and
// clears the stored connection.
func (h *Handler) DeprovisionDatabase(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	if !project.HasDatabase() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Project does not have a database"})
		return
	}
	if !h.Provisioner.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Database provisioning is not configured"})
		return
	}
	ctx := c.Request.Context()

	if err := h.Provisioner.Deprovision(ctx, project.DBProviderID); err != nil {
		logging.S().Errorw("database deprovision failed", "project", project.ID,
			"provider_id", project.DBProviderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to deprovision database: " + err.Error()})
		return
	}

	if err := h.DB.ClearProjectDatabase(ctx, project.ID); err != nil {
		logging.S().Errorw("database clear failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to clear database record"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Database deprovisioned"})
}
