package measurements

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"breva-backend/internal/analyses"
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
	rg.POST("/measurements", h.create)
	rg.POST("/measurements/manual", h.createManual)
	rg.GET("/measurements", h.list)
	rg.GET("/measurements/:id", h.get)
	rg.PATCH("/measurements/:id", h.update)
	rg.DELETE("/measurements/:id", h.delete)
	rg.PUT("/measurements/:id/manual-analysis", h.setManualAnalysis)
}

// RegisterAdminRoutes expects rg to be guarded by RequireRole("admin").
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/measurements", h.adminList)
}

type createRequest struct {
	Name string `json:"name" binding:"required"`
	Note string `json:"note"`
}

type manualRequest struct {
	Name          string   `json:"name" binding:"required"`
	Note          string   `json:"note"`
	LeftVolumeMl  *float64 `json:"leftVolumeMl"`
	RightVolumeMl *float64 `json:"rightVolumeMl"`
}

type updateRequest struct {
	Name *string `json:"name"`
	Note *string `json:"note"`
}

type manualAnalysisRequest struct {
	LeftVolumeMl  *float64 `json:"leftVolumeMl"`
	RightVolumeMl *float64 `json:"rightVolumeMl"`
}

func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "name is required", nil)
		return
	}
	m, err := h.Svc.Create(c.Request.Context(), middleware.UserIDFromContext(c), CreateInput{Name: req.Name, Note: req.Note})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("measurementId", m.ID)
	respond.Created(c, m)
}

func (h *Handler) createManual(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	detail, err := h.Svc.CreateManual(c.Request.Context(), middleware.UserIDFromContext(c), ManualInput{
		Name:          req.Name,
		Note:          req.Note,
		LeftVolumeMl:  req.LeftVolumeMl,
		RightVolumeMl: req.RightVolumeMl,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("measurementId", detail.ID)
	respond.Created(c, detail)
}

func (h *Handler) list(c *gin.Context) {
	h.respondList(c, middleware.UserIDFromContext(c))
}

func (h *Handler) adminList(c *gin.Context) {
	h.respondList(c, strings.TrimSpace(c.Query("userId")))
}

func (h *Handler) respondList(c *gin.Context, userID string) {
	p := pagination.FromQuery(c)
	items, total, err := h.Svc.List(c.Request.Context(), ListFilter{
		UserID: userID,
		Search: p.Search,
		Source: analyses.Source(strings.ToUpper(strings.TrimSpace(c.Query("source")))),
		Sort:   ParseSort(strings.ToLower(c.Query("sort"))),
		Offset: p.Offset(),
		Limit:  p.Limit(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, pagination.NewPage(items, p, total))
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	c.Set("measurementId", id)
	detail, err := h.Svc.Get(c.Request.Context(), id, middleware.UserIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, detail)
}

func (h *Handler) update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	id := c.Param("id")
	c.Set("measurementId", id)
	m, err := h.Svc.Update(c.Request.Context(), id, middleware.UserIDFromContext(c), Update{Name: req.Name, Note: req.Note})
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, m)
}

func (h *Handler) delete(c *gin.Context) {
	id := c.Param("id")
	c.Set("measurementId", id)
	if err := h.Svc.Delete(c.Request.Context(), id, middleware.UserIDFromContext(c)); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) setManualAnalysis(c *gin.Context) {
	var req manualAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	id := c.Param("id")
	c.Set("measurementId", id)
	a, err := h.Svc.SetManualAnalysis(c.Request.Context(), id, middleware.UserIDFromContext(c), req.LeftVolumeMl, req.RightVolumeMl)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, a)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "measurement not found", nil)
	case errors.Is(err, ErrValidation):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "measurement request failed", nil)
	}
}
