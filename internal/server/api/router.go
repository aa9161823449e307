package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"squash/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. The returned limiter should be stopped on shutdown.
func SetupRouter(handler *Handler, cfg *config.Config) (*echo.Echo, *RateLimiter) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(RequestID())
	e.Use(RequestLogger())
	e.Use(Metrics())

	// Rate limiter on the compress endpoint only
	compressLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Health, stats & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Compress (rate-limited)
	e.POST("/compress", handler.HandleCompress, compressLimiter.Middleware())

	// Download
	e.GET("/download/:id", handler.HandleDownload)

	return e, compressLimiter
}
