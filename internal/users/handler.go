package users

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"breva-backend/internal/shared/pagination"
	"breva-backend/internal/shared/server/middleware"
	"breva-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.me)
}

// RegisterAdminRoutes expects rg to be guarded by RequireRole("admin").
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/users", h.list)
	rg.PATCH("/users/:id/role", h.setRole)
}

func (h *Handler) me(c *gin.Context) {
	if h.Svc == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "service unavailable", nil)
		return
	}
	userID := middleware.UserIDFromContext(c)
	user, err := h.Svc.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "user not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load user", nil)
		return
	}
	respond.JSON(c, http.StatusOK, user)
}

func (h *Handler) list(c *gin.Context) {
	p := pagination.FromQuery(c)
	items, total, err := h.Svc.List(c.Request.Context(), ListFilter{
		Search: p.Search,
		Offset: p.Offset(),
		Limit:  p.Limit(),
	})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list users", nil)
		return
	}
	respond.JSON(c, http.StatusOK, pagination.NewPage(items, p, total))
}

type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *Handler) setRole(c *gin.Context) {
	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "role is required", nil)
		return
	}
	targetID := c.Param("id")
	role := Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if targetID == middleware.UserIDFromContext(c) && role != RoleAdmin {
		respond.Error(c, http.StatusBadRequest, "validation_error", "admins cannot demote themselves", nil)
		return
	}

	user, err := h.Svc.SetRole(c.Request.Context(), targetID, role)
	switch {
	case errors.Is(err, ErrInvalidRole):
		respond.Error(c, http.StatusBadRequest, "validation_error", "role must be user or admin", nil)
		return
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "user not found", nil)
		return
	case err != nil:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to update role", nil)
		return
	}
	respond.JSON(c, http.StatusOK, user)
}
