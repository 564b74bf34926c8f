package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"clowdy/internal/cache"
	"clowdy/internal/db"
	"clowdy/internal/execution"
	"clowdy/internal/logging"
	"clowdy/internal/metrics"
	"clowdy/pkg/models"
)

// compiledTTL bounds how long a compiled route table is served without a
// re-read. Route mutations invalidate eagerly; the TTL covers changes made
// behind the server's back.
const compiledTTL = 30 * time.Second

// Invoker is the slice of the invocation engine the dispatcher needs.
type Invoker interface {
	Invoke(ctx context.Context, req execution.Request) *execution.Result
}

// HTTPEvent is the input object a gateway-dispatched function receives.
type HTTPEvent struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Params  map[string]string `json:"params"`
	Query   map[string]string `json:"query"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// skipHeaders never reach the function: hop-by-hop fields and the caller's
// platform credentials.
var skipHeaders = map[string]bool{
	"host":           true,
	"connection":     true,
	"content-length": true,
	"authorization":  true,
}

var errBodyTooLarge = errors.New("request body too large")

type compiledEntry struct {
	routes    *CompiledRoutes
	expiresAt time.Time
}

// Dispatcher serves /api/gateway traffic: slug resolution, route matching,
// event construction, engine dispatch, response shaping. The compiled
// route table per project lives in a lock-free cache so the hot path does
// one sync.Map read.
type Dispatcher struct {
	store    *db.Database
	projects *cache.ProjectCache
	engine   Invoker
	maxBody  int64

	compiled sync.Map // project id -> *compiledEntry
}

// NewDispatcher wires the gateway over the record store, the slug cache,
// and the invocation engine. maxBody caps forwarded request bodies.
func NewDispatcher(store *db.Database, projects *cache.ProjectCache, engine Invoker, maxBody int64) *Dispatcher {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Dispatcher{store: store, projects: projects, engine: engine, maxBody: maxBody}
}

// Handle serves one gateway request. Bound under both /api/gateway/:slug
// and /api/gateway/:slug/*path; gin's wildcard keeps its leading slash and
// is empty for the bare form.
func (d *Dispatcher) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	slug := c.Param("slug")
	target := NormalizePath(c.Param("path"))

	project, err := d.resolveProject(ctx, slug)
	if errors.Is(err, db.ErrNotFound) {
		metrics.Get().RecordGatewayDispatch("project_not_found")
		c.JSON(http.StatusNotFound, gin.H{"detail": "Project not found"})
		return
	}
	if err != nil {
		metrics.Get().RecordGatewayDispatch("error")
		logging.S().Errorw("gateway project lookup failed", "slug", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Project lookup failed"})
		return
	}

	compiled, err := d.routesFor(ctx, project.ID)
	if err != nil {
		metrics.Get().RecordGatewayDispatch("error")
		logging.S().Errorw("gateway route load failed", "project", project.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Route lookup failed"})
		return
	}
	if compiled.Empty() {
		metrics.Get().RecordGatewayDispatch("no_routes")
		c.JSON(http.StatusNotFound, gin.H{"detail": "No routes configured for this project"})
		return
	}

	match := compiled.Match(c.Request.Method, target)
	if match == nil {
		metrics.Get().RecordGatewayDispatch("no_route")
		c.JSON(http.StatusNotFound, gin.H{
			"detail": fmt.Sprintf("No route matches %s %s", c.Request.Method, target),
		})
		return
	}

	fn, err := d.store.FunctionByID(ctx, match.Route.FunctionID)
	if err != nil || fn.Status != models.FunctionStatusActive {
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			logging.S().Errorw("gateway function lookup failed",
				"function", match.Route.FunctionID, "error", err)
		}
		metrics.Get().RecordGatewayDispatch("function_unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "The function for this route is not available"})
		return
	}

	event, err := d.buildEvent(c, target, match.Params)
	if errors.Is(err, errBodyTooLarge) {
		metrics.Get().RecordGatewayDispatch("body_too_large")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Request body too large"})
		return
	}
	if err != nil {
		metrics.Get().RecordGatewayDispatch("error")
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Failed to read request body"})
		return
	}

	metrics.Get().RecordGatewayDispatch("dispatched")
	res := d.engine.Invoke(ctx, execution.Request{
		Function: fn,
		Input:    event,
		Source:   models.SourceGateway,
		Method:   c.Request.Method,
		Path:     target,
	})
	writeResult(c, res)
}

// InvalidateRoutes drops the compiled table for a project. Route mutations
// call this so the next dispatch recompiles.
func (d *Dispatcher) InvalidateRoutes(projectID string) {
	d.compiled.Delete(projectID)
}

func (d *Dispatcher) resolveProject(ctx context.Context, slug string) (*cache.CachedProject, error) {
	return d.projects.GetOrLoad(ctx, slug, func() (*cache.CachedProject, error) {
		project, err := d.store.ProjectBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		return &cache.CachedProject{
			ID:      project.ID,
			OwnerID: project.OwnerID,
			Name:    project.Name,
			Slug:    project.Slug,
			Status:  project.Status,
		}, nil
	})
}

func (d *Dispatcher) routesFor(ctx context.Context, projectID string) (*CompiledRoutes, error) {
	if cached, ok := d.compiled.Load(projectID); ok {
		e := cached.(*compiledEntry)
		if time.Now().Before(e.expiresAt) {
			return e.routes, nil
		}
	}

	routes, err := d.store.RoutesForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	compiled := Compile(routes)
	d.compiled.Store(projectID, &compiledEntry{
		routes:    compiled,
		expiresAt: time.Now().Add(compiledTTL),
	})
	return compiled, nil
}

// buildEvent assembles the HTTP event from the live request: last
// occurrence wins for repeated query parameters, header names are
// lowercased, and the body is decoded per its declared content type.
func (d *Dispatcher) buildEvent(c *gin.Context, path string, params map[string]string) (*HTTPEvent, error) {
	query := make(map[string]string)
	for name, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			query[name] = values[len(values)-1]
		}
	}

	headers := make(map[string]string)
	for name, values := range c.Request.Header {
		lower := strings.ToLower(name)
		if skipHeaders[lower] || len(values) == 0 {
			continue
		}
		headers[lower] = values[0]
	}

	body, err := d.readBody(c)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = map[string]string{}
	}
	return &HTTPEvent{
		Method:  c.Request.Method,
		Path:    path,
		Params:  params,
		Query:   query,
		Headers: headers,
		Body:    body,
	}, nil
}

// readBody reads up to maxBody bytes. An application/json body that parses
// is forwarded as the decoded value; anything else is forwarded as raw
// text; an absent body is null.
func (d *Dispatcher) readBody(c *gin.Context) (any, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	reader := http.MaxBytesReader(c.Writer, c.Request.Body, d.maxBody)
	raw, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errBodyTooLarge
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if c.ContentType() == "application/json" {
		var value any
		if err := json.Unmarshal(raw, &value); err == nil {
			return value, nil
		}
	}
	return string(raw), nil
}

// writeResult maps the engine's classification onto HTTP: timeouts are
// 504, errors 500, success goes through response shaping.
func writeResult(c *gin.Context, res *execution.Result) {
	switch res.Status {
	case models.InvocationTimeout:
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": res.ErrorMessage()})
	case models.InvocationError:
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.ErrorMessage()})
	default:
		shapeResponse(c, res.Output)
	}
}

// shapeResponse renders a function's return value. An object carrying a
// statusCode key uses the {statusCode, headers, body} contract: string
// bodies go out verbatim (text/plain unless the function set a content
// type), everything else is serialized as JSON. Any other value is a
// plain 200 JSON response.
func shapeResponse(c *gin.Context, output any) {
	obj, ok := output.(map[string]any)
	if !ok {
		c.JSON(http.StatusOK, output)
		return
	}
	rawStatus, shaped := obj["statusCode"]
	if !shaped {
		c.JSON(http.StatusOK, output)
		return
	}

	status := http.StatusOK
	if f, ok := rawStatus.(float64); ok {
		if code := int(f); code >= 100 && code <= 599 {
			status = code
		}
	}

	if headers, ok := obj["headers"].(map[string]any); ok {
		for name, value := range headers {
			if s, ok := value.(string); ok {
				c.Header(name, s)
			}
		}
	}

	body, hasBody := obj["body"]
	if !hasBody || body == nil {
		c.Status(status)
		return
	}
	if text, ok := body.(string); ok {
		contentType := c.Writer.Header().Get("Content-Type")
		if contentType == "" {
			contentType = "text/plain"
		}
		c.Data(status, contentType, []byte(text))
		return
	}
	c.JSON(status, body)
}
