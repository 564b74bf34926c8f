package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"clowdy/internal/db"
	"clowdy/internal/logging"
	"clowdy/pkg/models"
)

// maskedValue replaces secret values in API responses. Injection into
// containers always uses the stored value.
const maskedValue = "********"

// envKeyRe is the shape of a POSIX environment variable name. Keys outside
// it would corrupt the KEY=VALUE lines handed to the container.
var envKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func maskEnvVar(v models.EnvVar) models.EnvVar {
	if v.IsSecret {
		v.Value = maskedValue
	}
	return v
}

// ListEnvVars returns a project's environment variables with secret values
// masked.
func (h *Handler) ListEnvVars(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	vars, err := h.DB.ListEnvVars(c.Request.Context(), project.ID)
	if err != nil {
		logging.S().Errorw("env list failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}
	out := make([]models.EnvVar, 0, len(vars))
	for _, v := range vars {
		out = append(out, maskEnvVar(v))
	}
	c.JSON(http.StatusOK, out)
}

// SetEnvVar creates or replaces one variable. Setting an existing key
// keeps the row: same id, same created_at, new value.
func (h *Handler) SetEnvVar(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}

	var req struct {
		Key      string `json:"key"`
		Value    string `json:"value"`
		IsSecret bool   `json:"is_secret"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	if !envKeyRe.MatchString(req.Key) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid environment variable key"})
		return
	}

	v, err := h.DB.SetEnvVar(c.Request.Context(), project.ID, req.Key, req.Value, req.IsSecret)
	if err != nil {
		logging.S().Errorw("env upsert failed", "project", project.ID, "key", req.Key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to save environment variable"})
		return
	}
	c.JSON(http.StatusOK, maskEnvVar(*v))
}

// DeleteEnvVar removes one variable by key.
func (h *Handler) DeleteEnvVar(c *gin.Context) {
	project := h.ownedProject(c)
	if project == nil {
		return
	}
	key := c.Param("key")
	err := h.DB.DeleteEnvVar(c.Request.Context(), project.ID, key)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("Env var '%s' not found", key)})
		return
	}
	if err != nil {
		logging.S().Errorw("env delete failed", "project", project.ID, "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to delete environment variable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Env var '%s' deleted", key)})
}
