package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/container"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/routes"
	"github.com/goranjovic55/NOP-sub008/common/bootstrap"
	"github.com/goranjovic55/NOP-sub008/common/config"
	"github.com/goranjovic55/NOP-sub008/common/logger"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

func newTestServer(t *testing.T) (*echo.Echo, *container.Container) {
	t.Helper()

	cfg, err := config.Load("flowd-test")
	require.NoError(t, err)

	components := &bootstrap.Components{
		Config: cfg,
		Logger: logger.New("error", "text"),
	}
	c, err := container.NewContainer(context.Background(), components)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	e := echo.New()
	routes.RegisterWorkflowRoutes(e, c)
	routes.RegisterExecutionRoutes(e, c)
	routes.RegisterBlockRoutes(e, c)
	return e, c
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const pingWorkflowJSON = `{
	"id": "wf-1",
	"name": "ping sweep",
	"nodes": [
		{"id": "start", "type": "control.start", "config": {}},
		{"id": "ping", "type": "traffic.ping", "config": {"host": "8.8.8.8"}},
		{"id": "end", "type": "control.end", "config": {}}
	],
	"edges": [
		{"id": "e1", "source": "start", "source_handle": "out", "target": "ping", "target_handle": "in"},
		{"id": "e2", "source": "ping", "source_handle": "out", "target": "end", "target_handle": "in"}
	]
}`

func TestWorkflowCRUD(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/workflows", pingWorkflowJSON)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(e, http.MethodGet, "/api/v1/workflows/wf-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var wf sdk.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
	assert.Equal(t, "ping sweep", wf.Name)
	assert.Len(t, wf.Nodes, 3)

	rec = doJSON(e, http.MethodGet, "/api/v1/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wf-1")

	rec = doJSON(e, http.MethodDelete, "/api/v1/workflows/wf-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v1/workflows/wf-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkflowJSONPatch(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/workflows", pingWorkflowJSON)
	require.Equal(t, http.StatusCreated, rec.Code)

	patch := `[
		{"op": "replace", "path": "/name", "value": "renamed sweep"},
		{"op": "replace", "path": "/nodes/1/config/host", "value": "1.1.1.1"}
	]`
	rec = doJSON(e, http.MethodPatch, "/api/v1/workflows/wf-1", patch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var wf sdk.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
	assert.Equal(t, "renamed sweep", wf.Name)
	assert.Equal(t, "1.1.1.1", wf.Nodes[1].Config["host"])
	assert.Equal(t, 2, wf.Version, "patch bumps the version")

	rec = doJSON(e, http.MethodPatch, "/api/v1/workflows/wf-1", `[{"op": "bogus"}]`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(e, http.MethodPatch, "/api/v1/workflows/wf-1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkflowValidate(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/workflows/validate", pingWorkflowJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_valid":true`)

	bad := `{
		"id": "wf-bad",
		"nodes": [{"id": "a", "type": "traffic.ping", "config": {}}],
		"edges": [{"id": "e1", "source": "a", "source_handle": "out", "target": "ghost", "target_handle": "in"}]
	}`
	rec = doJSON(e, http.MethodPost, "/api/v1/workflows/validate", bad)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "dangling_edge")
}

func waitExecutionDone(t *testing.T, e *echo.Echo, execID string) *sdk.ExecutionSnapshot {
	t.Helper()
	var snap sdk.ExecutionSnapshot
	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/api/v1/executions/"+execID, "")
		if rec.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		return snap.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)
	return &snap
}

func TestExecutionLifecycle(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/workflows", pingWorkflowJSON)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/executions", `{"workflow_id": "wf-1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	execID := started["execution_id"]
	require.NotEmpty(t, execID)

	snap := waitExecutionDone(t, e, execID)
	assert.Equal(t, sdk.RunStatusCompleted, snap.Status)
	assert.Equal(t, sdk.NodeStatusCompleted, snap.NodeStatuses["ping"])

	rec = doJSON(e, http.MethodGet, "/api/v1/executions?workflow_id=wf-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), execID)

	// Controls on a finished run conflict.
	rec = doJSON(e, http.MethodPost, fmt.Sprintf("/api/v1/executions/%s/control", execID), `{"command": "cancel"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartExecutionErrors(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/executions", `{"workflow_id": "missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/executions", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := `{
		"id": "wf-cycle",
		"nodes": [
			{"id": "a", "type": "traffic.ping", "config": {"host": "h"}},
			{"id": "b", "type": "traffic.ping", "config": {"host": "h"}}
		],
		"edges": [
			{"id": "e1", "source": "a", "source_handle": "out", "target": "b", "target_handle": "in"},
			{"id": "e2", "source": "b", "source_handle": "out", "target": "a", "target_handle": "in"}
		]
	}`
	rec = doJSON(e, http.MethodPost, "/api/v1/workflows", bad)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/executions", `{"workflow_id": "wf-cycle"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "cycle")
}

func TestInvalidControlCommand(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/executions/whatever/control", `{"command": "explode"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockCatalog(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/api/v1/blocks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "control.condition")
	assert.Contains(t, rec.Body.String(), "traffic.ping")
}
