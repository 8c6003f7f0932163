package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/container"
)

// BlockHandler serves the block catalog the canvas builds palettes from
type BlockHandler struct {
	container *container.Container
}

// NewBlockHandler creates a new block handler
func NewBlockHandler(c *container.Container) *BlockHandler {
	return &BlockHandler{container: c}
}

// ListBlocks returns every registered block definition
// GET /api/v1/blocks
func (h *BlockHandler) ListBlocks(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"blocks": h.container.Blocks.Definitions(),
	})
}
