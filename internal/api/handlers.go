package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Lllllllleong/uploadsanitizer/internal/models"
	"github.com/Lllllllleong/uploadsanitizer/internal/services"
)

// DefaultMaxUploadBytes bounds the multipart body accepted from callers.
const DefaultMaxUploadBytes int64 = 32 << 20

// UploadHandler is the part of the orchestrator the routes depend on.
type UploadHandler interface {
	Handle(ctx context.Context, serviceID, filename string, data []byte) (*models.UploadResponse, error)
}

// ServiceValidator reports whether a service id is registered.
type ServiceValidator interface {
	Known(id string) bool
}

// Handler wires HTTP routes to the upload pipeline.
type Handler struct {
	uploads        UploadHandler
	services       ServiceValidator
	maxUploadBytes int64
	gatherer       prometheus.Gatherer
	logger         *slog.Logger
}

// NewHandler constructs a Handler. A nil gatherer disables /metrics.
func NewHandler(uploads UploadHandler, known ServiceValidator, maxUploadBytes int64, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		uploads:        uploads,
		services:       known,
		maxUploadBytes: maxUploadBytes,
		gatherer:       gatherer,
		logger:         logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.root)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	api := router.Group("/api/v1")
	api.POST("/upload/:serviceId", h.uploadFile)
}

// NewRouter returns a gin engine with recovery and the handler's routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	h.RegisterRoutes(router)
	return router
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "Server alive"})
}

func (h *Handler) uploadFile(c *gin.Context) {
	serviceID := c.Param("serviceId")
	// Checked before the body is parsed so nothing reaches the disk for unknown ids.
	if !h.services.Known(serviceID) {
		h.logger.Error("Invalid service id.", "serviceId", serviceID)
		c.JSON(http.StatusBadRequest, models.ErrorDetail{Detail: "Invalid service id"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorDetail{Detail: "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, models.ErrorDetail{Detail: "file is required"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorDetail{Detail: "open file failed"})
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorDetail{Detail: "read file failed"})
		return
	}

	resp, err := h.uploads.Handle(c.Request.Context(), serviceID, file.Filename, data)
	if err != nil {
		if services.KindOf(err) == services.KindInvalidService {
			c.JSON(http.StatusBadRequest, models.ErrorDetail{Detail: "Invalid service id"})
			return
		}
		// Handle never returns other errors; keep the ok:false contract regardless.
		c.JSON(http.StatusOK, models.UploadResponse{OK: false, Error: err.Error(), ErrorKind: string(services.KindOf(err))})
		return
	}
	c.JSON(http.StatusOK, resp)
}
