package captures

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"breva-backend/internal/analyses"
	"breva-backend/internal/shared/server/middleware"
	"breva-backend/internal/shared/server/respond"
)

// DefaultMaxBodyBytes fits base64 RGB and depth frames.
const DefaultMaxBodyBytes int64 = 50 << 20

// Handler wires HTTP handlers to the captures service.
type Handler struct {
	Svc          *Service
	MaxBodyBytes int64
}

// NewHandler constructs a Handler; maxBodyBytes <= 0 uses DefaultMaxBodyBytes.
func NewHandler(svc *Service, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{Svc: svc, MaxBodyBytes: maxBodyBytes}
}

// RegisterRoutes attaches capture routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/captures", h.submit)
	rg.GET("/captures/status", h.status)
}

// RegisterAdminRoutes expects rg to be guarded by RequireRole("admin").
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/captures/:id/archive", h.archive)
}

func (h *Handler) archive(c *gin.Context) {
	captureID := c.Param("id")
	c.Set("captureId", captureID)
	rc, capture, err := h.Svc.OpenArchive(c.Request.Context(), captureID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()
	c.Set("measurementId", capture.MeasurementID)
	c.DataFromReader(http.StatusOK, -1, "application/json", rc, map[string]string{
		"Content-Disposition": `attachment; filename="` + capture.ID + `.json"`,
	})
}

func (h *Handler) submit(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBodyBytes)
	var payload Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "capture payload is too large", nil)
			return
		}
		writeError(c, BindIssues(err))
		return
	}
	if payload.MeasurementID != "" {
		c.Set("measurementId", payload.MeasurementID)
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	result, err := h.Svc.Submit(ctx, userID, payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("captureId", result.CaptureID)
	c.Set("statusTransition", "->PENDING")
	respond.OK(c, result)
}

func (h *Handler) status(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	measurementID := strings.TrimSpace(c.Query("measurementId"))
	verr := &ValidationError{}
	if measurementID == "" {
		verr.add("measurementId", "required")
	}
	side, err := analyses.ParseSide(c.Query("side"))
	if err != nil {
		verr.add("side", "must be left or right")
	}
	if err := verr.orNil(); err != nil {
		writeError(c, err)
		return
	}
	c.Set("measurementId", measurementID)

	capture, err := h.Svc.Status(c.Request.Context(), userID, measurementID, side)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("captureId", capture.ID)
	respond.OK(c, capture.View())
}

func writeError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid capture request", verr.Issues)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "capture not found", nil)
	case errors.Is(err, ErrNoArchive):
		respond.Error(c, http.StatusNotFound, "not_archived", "capture payload was not archived", nil)
	case errors.Is(err, ErrUpstream):
		respond.Error(c, http.StatusInternalServerError, "upstream_error", "estimation service rejected the capture", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "capture request failed", nil)
	}
}
