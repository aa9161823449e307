package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"squash/internal/core"
	"squash/internal/server/logging"
	"squash/internal/server/service"
)

// multipartOverhead is the slack allowed on top of the file size for
// multipart boundaries and part headers.
const multipartOverhead = 1 << 20

// HealthChecker reports whether an optional dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the compression API.
type Handler struct {
	svc           *service.CompressService
	db            HealthChecker
	maxUploadSize int64
}

// NewHandler creates a new handler. db may be nil when the ledger is
// disabled.
func NewHandler(svc *service.CompressService, db HealthChecker, maxUploadSize int64) *Handler {
	return &Handler{svc: svc, db: db, maxUploadSize: maxUploadSize}
}

// HandleCompress handles POST /compress.
// Accepts a multipart form with a "file" field.
func (h *Handler) HandleCompress(c echo.Context) error {
	req := c.Request()
	limit := h.maxUploadSize + multipartOverhead

	if req.ContentLength > limit {
		return mapServiceError(c, service.ErrFileTooLarge)
	}
	req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return mapServiceError(c, service.ErrFileTooLarge)
		case errors.Is(err, http.ErrMissingFile):
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "file is required (use form field 'file')",
			})
		default:
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "invalid multipart form",
			})
		}
	}

	src, err := fileHeader.Open()
	if err != nil {
		logging.FromContext(req.Context()).Error("failed to open uploaded part", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	result, err := h.svc.Compress(req.Context(), fileHeader.Filename, src, fileHeader.Size)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// HandleDownload handles GET /download/:id.
// Streams the output as an attachment, then deletes it.
func (h *Handler) HandleDownload(c echo.Context) error {
	d, err := h.svc.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer d.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", d.Filename))
	header.Set(echo.HeaderXContentTypeOptions, "nosniff")
	header.Set("Cache-Control", "no-store")
	header.Set(echo.HeaderContentLength, strconv.FormatInt(d.Size, 10))

	return c.Stream(http.StatusOK, d.ContentType, d)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "disabled"

	if h.db != nil {
		dbStatus = "connected"
		if err := h.db.HealthCheck(c.Request().Context()); err != nil {
			status = "degraded"
			dbStatus = "unreachable"
			logging.FromContext(c.Request().Context()).Warn("database health check failed", "error", err)
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		logging.FromContext(c.Request().Context()).Error("failed to retrieve stats", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_compressions": stats.TotalCompressions,
		"total_downloads":    stats.TotalDownloads,
		"fallbacks":          stats.Fallbacks,
		"bytes_in":           stats.BytesIn,
		"bytes_in_human":     core.HumanizeBytes(stats.BytesIn),
		"bytes_out":          stats.BytesOut,
		"bytes_out_human":    core.HumanizeBytes(stats.BytesOut),
		"average_ratio":      stats.AverageRatio,
	})
}

// mapServiceError translates service-layer errors into HTTP responses.
// Messages for server-side failures never carry the underlying error.
func mapServiceError(c echo.Context, err error) error {
	var verr *service.ValidationError
	var cerr *core.CompressionError

	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": verr.Cause})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found or already downloaded"})
	case errors.As(err, &cerr):
		logging.FromContext(c.Request().Context()).Error("compression failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "compression failed"})
	default:
		logging.FromContext(c.Request().Context()).Error("request failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
