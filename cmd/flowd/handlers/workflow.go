package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/compiler"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/container"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
	"github.com/goranjovic55/NOP-sub008/common/store"
)

// WorkflowHandler handles workflow document requests
type WorkflowHandler struct {
	container *container.Container
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{container: c}
}

// CreateWorkflow stores a new workflow document
// POST /api/v1/workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	var wf sdk.Workflow
	if err := c.Bind(&wf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow document")
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.Version == 0 {
		wf.Version = 1
	}

	if err := h.container.Store.PutWorkflow(c.Request().Context(), &wf); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, &wf)
}

// GetWorkflow retrieves a workflow by id
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	wf, err := h.container.Store.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrWorkflowNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, wf)
}

// ListWorkflows lists all workflow documents
// GET /api/v1/workflows
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	workflows, err := h.container.Store.ListWorkflows(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"workflows": workflows})
}

// UpdateWorkflow replaces a workflow document
// PUT /api/v1/workflows/:id
func (h *WorkflowHandler) UpdateWorkflow(c echo.Context) error {
	var wf sdk.Workflow
	if err := c.Bind(&wf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow document")
	}
	wf.ID = c.Param("id")

	existing, err := h.container.Store.GetWorkflow(c.Request().Context(), wf.ID)
	if err != nil {
		if errors.Is(err, store.ErrWorkflowNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	wf.Version = existing.Version + 1

	if err := h.container.Store.PutWorkflow(c.Request().Context(), &wf); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, &wf)
}

// PatchWorkflow applies an RFC-6902 JSON Patch to a workflow document so
// canvas editors can send diffs instead of whole documents
// PATCH /api/v1/workflows/:id
func (h *WorkflowHandler) PatchWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	wf, err := h.container.Store.GetWorkflow(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrWorkflowNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unable to read request body")
	}
	patch, err := jsonpatch.DecodePatch(body)
	if err != nil {
		// DecodePatch rejects both malformed JSON and well-formed JSON that
		// is not a valid patch. Only the former is a bad request.
		if !json.Valid(body) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON patch: "+err.Error())
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid patch operation: "+err.Error())
	}

	original, err := json.Marshal(wf)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	modified, err := patch.Apply(original)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "patch failed: "+err.Error())
	}

	var patched sdk.Workflow
	if err := json.Unmarshal(modified, &patched); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "patched document is not a workflow: "+err.Error())
	}
	patched.ID = id
	patched.Version = wf.Version + 1

	if err := h.container.Store.PutWorkflow(ctx, &patched); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, &patched)
}

// DeleteWorkflow removes a workflow document
// DELETE /api/v1/workflows/:id
func (h *WorkflowHandler) DeleteWorkflow(c echo.Context) error {
	err := h.container.Store.DeleteWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrWorkflowNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ValidateWorkflow compiles a workflow document without executing it,
// returning the full issue list
// POST /api/v1/workflows/validate
func (h *WorkflowHandler) ValidateWorkflow(c echo.Context) error {
	var wf sdk.Workflow
	if err := c.Bind(&wf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow document")
	}

	result := compiler.New(h.container.Blocks, h.container.Conditions).Compile(&wf)
	status := http.StatusOK
	if !result.IsValid {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, map[string]interface{}{
		"is_valid": result.IsValid,
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}
