package dashboard

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"breva-backend/internal/shared/server/middleware"
	"breva-backend/internal/shared/server/respond"
	"breva-backend/internal/shared/telemetry"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/dashboard/stats", h.userStats)
}

// RegisterAdminRoutes expects rg to be guarded by RequireRole("admin").
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", h.globalStats)
}

func (h *Handler) userStats(c *gin.Context) {
	stats, err := h.Svc.ForUser(c.Request.Context(), middleware.UserIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, stats)
}

func (h *Handler) globalStats(c *gin.Context) {
	stats, err := h.Svc.Global(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, stats)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNoUser):
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing user", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
	default:
		telemetry.Error("dashboard.stats_failed", map[string]any{"error": err.Error()})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load stats", nil)
	}
}
