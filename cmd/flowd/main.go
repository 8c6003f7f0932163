package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/container"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/routes"
	"github.com/goranjovic55/NOP-sub008/common/bootstrap"
	"github.com/goranjovic55/NOP-sub008/common/metrics"
	"github.com/goranjovic55/NOP-sub008/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (DB, logger, redis, queue, cache, telemetry)
	components, err := bootstrap.Setup(ctx, "flowd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap flowd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}
	defer serviceContainer.Close()

	// Initialize Echo server
	e := setupEcho()

	// Setup middleware
	setupMiddleware(e)

	// Setup health check and diagnostics
	setupHealthCheck(e, components)
	setupDiagnostics(e)

	// Register all routes
	registerRoutes(e, serviceContainer)

	// Start server with graceful shutdown
	srv := server.New("flowd", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"service": "flowd",
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "flowd",
		})
	})
}

// setupDiagnostics exposes host information for debugging traffic blocks.
// Captured once at startup since the host does not change under us.
func setupDiagnostics(e *echo.Echo) {
	info := metrics.Capture()
	e.GET("/api/v1/system", func(c echo.Context) error {
		return c.JSON(http.StatusOK, info)
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterWorkflowRoutes(e, serviceContainer)
	routes.RegisterExecutionRoutes(e, serviceContainer)
	routes.RegisterBlockRoutes(e, serviceContainer)
}
