// Package handlers implements the REST API: the public invocation surface
// and the bearer-authenticated control plane for projects, functions,
// environment variables, dependency manifests, gateway routes and managed
// databases. Error bodies are {"detail": <string>} throughout.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"clowdy/internal/cache"
	"clowdy/internal/db"
	"clowdy/internal/execution"
	"clowdy/internal/gateway"
	"clowdy/internal/images"
	"clowdy/internal/logging"
	"clowdy/internal/middleware"
	"clowdy/internal/provision"
	"clowdy/pkg/models"
)

// Invoker is the slice of the execution engine the handlers use.
type Invoker interface {
	Invoke(ctx context.Context, req execution.Request) *execution.Result
}

// Pinger is the slice of the container host the health endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler carries the dependencies shared by all API handlers.
type Handler struct {
	DB          *db.Database
	Engine      Invoker
	Images      *images.Manager
	Projects    *cache.ProjectCache
	Dispatcher  *gateway.Dispatcher
	Provisioner *provision.Client
	Host        Pinger
}

// NewHandler wires a handler set over its dependencies.
func NewHandler(store *db.Database, engine Invoker, imgs *images.Manager, projects *cache.ProjectCache, dispatcher *gateway.Dispatcher, provisioner *provision.Client, host Pinger) *Handler {
	return &Handler{
		DB:          store,
		Engine:      engine,
		Images:      imgs,
		Projects:    projects,
		Dispatcher:  dispatcher,
		Provisioner: provisioner,
		Host:        host,
	}
}

// RegisterRoutes mounts the API. public carries the unauthenticated
// surface, protected the owner control plane; both groups share the /api
// prefix and differ only in middleware.
func (h *Handler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.POST("/invoke/:function_id", h.DirectInvoke)
	public.GET("/functions/:id/invocations", h.ListFunctionInvocations)
	public.Any("/gateway/:slug", h.Dispatcher.Handle)
	public.Any("/gateway/:slug/*path", h.Dispatcher.Handle)

	protected.POST("/projects", h.CreateProject)
	protected.GET("/projects", h.ListProjects)
	protected.GET("/projects/:id", h.GetProject)
	protected.PUT("/projects/:id", h.UpdateProject)
	protected.DELETE("/projects/:id", h.DeleteProject)
	protected.GET("/projects/:id/functions", h.ListProjectFunctions)
	protected.GET("/projects/:id/requirements", h.GetRequirements)
	protected.PUT("/projects/:id/requirements", h.UpdateRequirements)
	protected.GET("/projects/:id/env", h.ListEnvVars)
	protected.PUT("/projects/:id/env", h.SetEnvVar)
	protected.DELETE("/projects/:id/env/:key", h.DeleteEnvVar)
	protected.GET("/projects/:id/routes", h.ListRoutes)
	protected.POST("/projects/:id/routes", h.CreateRoute)
	protected.DELETE("/projects/:id/routes/:route_id", h.DeleteRoute)
	protected.POST("/projects/:id/database", h.ProvisionDatabase)
	protected.GET("/projects/:id/database", h.GetDatabase)
	protected.DELETE("/projects/:id/database", h.DeprovisionDatabase)

	protected.POST("/functions", h.CreateFunction)
	protected.GET("/functions", h.ListFunctions)
	protected.GET("/functions/:id", h.GetFunction)
	protected.PUT("/functions/:id", h.UpdateFunction)
	protected.DELETE("/functions/:id", h.DeleteFunction)

	protected.GET("/stats", h.GetStats)
}

// ownedProject loads the project from the :id parameter and enforces
// ownership. Someone else's project is indistinguishable from a missing
// one. On failure the response is already written and nil is returned.
func (h *Handler) ownedProject(c *gin.Context) *models.Project {
	project, err := h.DB.ProjectByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			logging.S().Errorw("project lookup failed", "project", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
			return nil
		}
		c.JSON(http.StatusNotFound, gin.H{"detail": "Project not found"})
		return nil
	}
	if project.OwnerID != middleware.OwnerID(c) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Project not found"})
		return nil
	}
	return project
}

// ownedFunction is ownedProject for the function under :id.
func (h *Handler) ownedFunction(c *gin.Context) *models.Function {
	fn, err := h.DB.FunctionByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			logging.S().Errorw("function lookup failed", "function", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
			return nil
		}
		c.JSON(http.StatusNotFound, gin.H{"detail": "Function not found"})
		return nil
	}
	if fn.OwnerID != middleware.OwnerID(c) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Function not found"})
		return nil
	}
	return fn
}
