package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/container"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/handlers"
)

// RegisterWorkflowRoutes registers all workflow document routes
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c)

	workflows := e.Group("/api/v1/workflows")
	{
		workflows.POST("", h.CreateWorkflow)           // POST /api/v1/workflows
		workflows.GET("", h.ListWorkflows)             // GET /api/v1/workflows
		workflows.POST("/validate", h.ValidateWorkflow) // POST /api/v1/workflows/validate
		workflows.GET("/:id", h.GetWorkflow)           // GET /api/v1/workflows/{id}
		workflows.PUT("/:id", h.UpdateWorkflow)        // PUT /api/v1/workflows/{id}
		workflows.PATCH("/:id", h.PatchWorkflow)       // PATCH /api/v1/workflows/{id}
		workflows.DELETE("/:id", h.DeleteWorkflow)     // DELETE /api/v1/workflows/{id}
	}
}
