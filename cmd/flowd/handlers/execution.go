package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/container"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/registry"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/ws"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
	"github.com/goranjovic55/NOP-sub008/common/store"
)

// ExecutionHandler handles execution lifecycle requests
type ExecutionHandler struct {
	container *container.Container
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{container: c}
}

// startRequest is the POST /executions body.
type startRequest struct {
	WorkflowID string              `json:"workflow_id"`
	Overrides  *registry.Overrides `json:"overrides,omitempty"`
}

// controlRequest is the POST /executions/:id/control body.
type controlRequest struct {
	Command string `json:"command"`
}

// StartExecution launches a workflow run
// POST /api/v1/executions
func (h *ExecutionHandler) StartExecution(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkflowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow_id is required")
	}

	if h.container.Limiter != nil {
		// Fail open: a limiter error must not block run starts.
		if res, err := h.container.Limiter.CheckWorkflowLimit(c.Request().Context(), req.WorkflowID); err == nil && !res.Allowed {
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"error":               "workflow_rate_limit_exceeded",
				"workflow_id":         req.WorkflowID,
				"limit":               res.Limit,
				"retry_after_seconds": res.RetryAfterSeconds,
			})
		}
	}

	execID, err := h.container.Registry.Start(c.Request().Context(), req.WorkflowID, req.Overrides)
	switch {
	case errors.Is(err, store.ErrWorkflowNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	case errors.Is(err, registry.ErrCompileFailed):
		// The failed execution record carries the issues.
		snap, gerr := h.container.Registry.Get(c.Request().Context(), execID)
		if gerr != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, gerr.Error())
		}
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"execution_id": execID,
			"status":       snap.Status,
			"errors":       snap.Errors,
		})
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]string{"execution_id": execID})
}

// GetExecution returns the execution snapshot
// GET /api/v1/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	snap, err := h.container.Registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrExecutionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

// ListExecutions lists executions, optionally filtered by workflow
// GET /api/v1/executions?workflow_id=...
func (h *ExecutionHandler) ListExecutions(c echo.Context) error {
	executions, err := h.container.Registry.List(c.Request().Context(), c.QueryParam("workflow_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"executions": executions})
}

// ControlExecution applies pause, resume, or cancel to a running execution
// POST /api/v1/executions/:id/control
func (h *ExecutionHandler) ControlExecution(c echo.Context) error {
	var req controlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cmd := sdk.ControlCommand(req.Command)
	if !cmd.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "command must be pause, resume, or cancel")
	}

	err := h.container.Registry.SendControl(c.Param("id"), cmd)
	switch {
	case errors.Is(err, store.ErrExecutionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	case errors.Is(err, registry.ErrExecutionFinished):
		return echo.NewHTTPError(http.StatusConflict, "execution already finished")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": c.Param("id"),
		"command":      req.Command,
		"applied":      true,
	})
}

// StreamEvents upgrades to WebSocket and streams run events; inbound frames
// carry control commands
// GET /api/v1/executions/:id/events
func (h *ExecutionHandler) StreamEvents(c echo.Context) error {
	executionID := c.Param("id")

	sub, err := h.container.Registry.Subscribe(executionID)
	if err != nil {
		if errors.Is(err, store.ErrExecutionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	conn, err := ws.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		sub.Close()
		return err
	}

	ws.NewClient(conn, executionID, sub, h.container.Registry, h.container.Components.Logger).Serve()
	return nil
}
