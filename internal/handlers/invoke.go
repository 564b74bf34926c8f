package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"clowdy/internal/db"
	"clowdy/internal/execution"
	"clowdy/internal/logging"
	"clowdy/pkg/models"
)

// invokeRequest is the direct-invocation body. The whole body is optional;
// a missing or null input means the function runs with an empty object.
type invokeRequest struct {
	Input any `json:"input"`
}

// invocationResponse is one stored invocation with its input and output
// decoded back out of the record.
type invocationResponse struct {
	ID         string    `json:"id"`
	FunctionID string    `json:"function_id"`
	Status     string    `json:"status"`
	Input      any       `json:"input"`
	Output     any       `json:"output"`
	DurationMS int64     `json:"duration_ms"`
	Source     string    `json:"source"`
	HTTPMethod *string   `json:"http_method"`
	HTTPPath   *string   `json:"http_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// DirectInvoke runs a function synchronously and returns the engine's
// classification as a flat envelope. Function failures (including
// timeouts) are 200s with success=false; only an unavailable container
// engine is a server error.
func (h *Handler) DirectInvoke(c *gin.Context) {
	fn, err := h.DB.FunctionByID(c.Request.Context(), c.Param("function_id"))
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			logging.S().Errorw("function lookup failed", "function", c.Param("function_id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"detail": "Function not found"})
		return
	}
	if fn.Status != models.FunctionStatusActive {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": fmt.Sprintf("Function is not active (status: %s)", fn.Status),
		})
		return
	}

	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	input := req.Input
	if input == nil {
		input = map[string]any{}
	}

	res := h.Engine.Invoke(c.Request.Context(), execution.Request{
		Function: fn,
		Input:    input,
		Source:   models.SourceDirect,
	})
	if res.EngineUnavailable() {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": res.ErrorMessage()})
		return
	}

	resp := gin.H{
		"success":       res.Success(),
		"output":        res.Output,
		"duration_ms":   res.DurationMS,
		"invocation_id": res.InvocationID,
	}
	if !res.Success() {
		resp["error"] = res.ErrorMessage()
	}
	c.JSON(http.StatusOK, resp)
}

// ListFunctionInvocations returns the newest invocation records for a
// function, most recent first.
func (h *Handler) ListFunctionInvocations(c *gin.Context) {
	ctx := c.Request.Context()
	fn, err := h.DB.FunctionByID(ctx, c.Param("id"))
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			logging.S().Errorw("function lookup failed", "function", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"detail": "Function not found"})
		return
	}

	invocations, err := h.DB.ListInvocations(ctx, fn.ID, 0)
	if err != nil {
		logging.S().Errorw("invocation list failed", "function", fn.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error"})
		return
	}

	out := make([]invocationResponse, 0, len(invocations))
	for _, inv := range invocations {
		out = append(out, invocationResponse{
			ID:         inv.ID,
			FunctionID: inv.FunctionID,
			Status:     inv.Status,
			Input:      decodeRecorded(inv.InputJSON),
			Output:     decodeRecorded(inv.OutputJSON),
			DurationMS: inv.DurationMS,
			Source:     inv.Source,
			HTTPMethod: inv.HTTPMethod,
			HTTPPath:   inv.HTTPPath,
			CreatedAt:  inv.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// decodeRecorded turns a stored JSON column back into a value. Records
// predating a format change (or hand-edited rows) come back as raw text.
func decodeRecorded(raw string) any {
	if raw == "" {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}
