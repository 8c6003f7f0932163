package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/container"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/handlers"
)

// RegisterBlockRoutes registers the block catalog route
func RegisterBlockRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewBlockHandler(c)

	e.GET("/api/v1/blocks", h.ListBlocks) // GET /api/v1/blocks
}
