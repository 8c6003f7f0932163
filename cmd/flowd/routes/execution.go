package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/container"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/handlers"
	"github.com/goranjovic55/NOP-sub008/common/middleware"
)

// RegisterExecutionRoutes registers all execution lifecycle routes
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c)

	executions := e.Group("/api/v1/executions")
	{
		// Starting runs is throttled; reads and controls are not.
		executions.POST("", h.StartExecution, middleware.GlobalRateLimitMiddleware(c.Limiter)) // POST /api/v1/executions
		executions.GET("", h.ListExecutions)                // GET /api/v1/executions?workflow_id=...
		executions.GET("/:id", h.GetExecution)              // GET /api/v1/executions/{id}
		executions.POST("/:id/control", h.ControlExecution) // POST /api/v1/executions/{id}/control
		executions.GET("/:id/events", h.StreamEvents)       // GET /api/v1/executions/{id}/events (WebSocket)
	}
}
