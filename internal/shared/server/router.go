package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	googleauth "breva-backend/internal/auth"
	"breva-backend/internal/captures"
	"breva-backend/internal/dashboard"
	"breva-backend/internal/measurements"
	"breva-backend/internal/shared/config"
	"breva-backend/internal/shared/metrics"
	"breva-backend/internal/shared/server/middleware"
	"breva-backend/internal/shared/server/respond"
	"breva-backend/internal/uploads"
	"breva-backend/internal/users"
)

const (
	rateGroupDefault = "DEFAULT"
	rateGroupPolling = "POLLING"
	rateGroupCapture = "CAPTURE"
)

// DefaultRateLimits gives status polling a larger budget than ordinary calls.
var DefaultRateLimits = map[string]middleware.RateLimitRule{
	rateGroupDefault: {Rate: 5, Burst: 30},
	rateGroupPolling: {Rate: 10, Burst: 60},
	rateGroupCapture: {Rate: 1, Burst: 10},
}

// RouterDeps carries the handlers mounted by NewRouter. Nil handlers are skipped.
type RouterDeps struct {
	Config             config.Config
	CaptureHandler     *captures.Handler
	MeasurementHandler *measurements.Handler
	UserHandler        *users.Handler
	DashboardHandler   *dashboard.Handler
	UploadHandler      *uploads.Handler
	GoogleAuth         *googleauth.GoogleService
	Credentials        *googleauth.CredentialsHandler
	RateLimits         map[string]middleware.RateLimitRule
	RateLimiter        *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env != "dev" && deps.Config.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	health := func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	}
	r.GET("/health", health)
	r.GET("/metrics", metrics.Handler())

	rules := deps.RateLimits
	if rules == nil {
		rules = DefaultRateLimits
	}

	api := r.Group("/api/v1")
	api.GET("/health", health)
	api.Use(
		middleware.Auth(),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:        rules,
			DefaultGroup: rateGroupDefault,
			GroupFor:     rateGroupFor,
			Limiter:      deps.RateLimiter,
		}),
	)

	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(api)
	}
	if deps.Credentials != nil {
		deps.Credentials.RegisterRoutes(api)
	}
	if deps.UserHandler != nil {
		deps.UserHandler.RegisterRoutes(api)
	}
	if deps.MeasurementHandler != nil {
		deps.MeasurementHandler.RegisterRoutes(api)
	}
	if deps.CaptureHandler != nil {
		deps.CaptureHandler.RegisterRoutes(api)
	}
	if deps.DashboardHandler != nil {
		deps.DashboardHandler.RegisterRoutes(api)
	}
	if deps.UploadHandler != nil {
		deps.UploadHandler.RegisterRoutes(api)
	}

	admin := api.Group("/admin", middleware.RequireRole("admin"))
	if deps.UserHandler != nil {
		deps.UserHandler.RegisterAdminRoutes(admin)
	}
	if deps.MeasurementHandler != nil {
		deps.MeasurementHandler.RegisterAdminRoutes(admin)
	}
	if deps.DashboardHandler != nil {
		deps.DashboardHandler.RegisterAdminRoutes(admin)
	}
	if deps.CaptureHandler != nil {
		deps.CaptureHandler.RegisterAdminRoutes(admin)
	}

	return r
}

func rateGroupFor(c *gin.Context) string {
	path := c.FullPath()
	switch {
	case c.Request.Method == http.MethodGet && (path == "/api/v1/captures/status" || path == "/api/v1/measurements/:id"):
		return rateGroupPolling
	case c.Request.Method == http.MethodPost && path == "/api/v1/captures":
		return rateGroupCapture
	}
	return rateGroupDefault
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
