package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"breva-backend/internal/dashboard"
	"breva-backend/internal/shared/config"
	"breva-backend/internal/shared/server/middleware"
)

func TestRouterPublicEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(RouterDeps{Config: config.Config{Env: "dev"}})

	for _, path := range []string{"/health", "/api/v1/health"} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"ok":true`) {
			t.Fatalf("%s: expected ok, got %d %s", path, resp.Code, resp.Body.String())
		}
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "captures_submitted_total") {
		t.Fatalf("expected metrics text, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestRouterRequiresBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	// Group middleware only runs for matched routes, so mount a handler. Auth rejects
	// before the handler is reached, so it needs no service.
	r := NewRouter(RouterDeps{
		Config:           config.Config{Env: "dev"},
		DashboardHandler: dashboard.NewHandler(nil),
	})

	for _, header := range []string{"", "Basic dXNlcjpwdw==", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/stats", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized || !strings.Contains(resp.Body.String(), `"unauthorized"`) {
			t.Fatalf("%q: expected 401 envelope, got %d %s", header, resp.Code, resp.Body.String())
		}
	}
}

func TestRateGroupFor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var got string
	record := func(c *gin.Context) { got = rateGroupFor(c) }
	r.GET("/api/v1/captures/status", record)
	r.GET("/api/v1/measurements/:id", record)
	r.POST("/api/v1/captures", record)
	r.GET("/api/v1/measurements", record)

	cases := map[string]string{
		"GET /api/v1/captures/status?measurementId=x&side=left": rateGroupPolling,
		"GET /api/v1/measurements/abc":                          rateGroupPolling,
		"POST /api/v1/captures":                                 rateGroupCapture,
		"GET /api/v1/measurements":                              rateGroupDefault,
	}
	for req, want := range cases {
		parts := strings.SplitN(req, " ", 2)
		got = ""
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(parts[0], parts[1], nil))
		if got != want {
			t.Fatalf("%s: expected %s, got %s", req, want, got)
		}
	}
}

func TestDefaultRateLimitsFavourPolling(t *testing.T) {
	poll, def := DefaultRateLimits[rateGroupPolling], DefaultRateLimits[rateGroupDefault]
	if poll.Rate <= def.Rate || poll.Burst <= def.Burst {
		t.Fatalf("expected polling budget above default: %+v vs %+v", poll, def)
	}
	limiter := middleware.NewRateLimiter(nil)
	for i := 0; i < def.Burst; i++ {
		if ok, _ := limiter.Allow("u|DEFAULT", def); !ok {
			t.Fatalf("request %d should fit the burst", i)
		}
	}
	if ok, _ := limiter.Allow("u|DEFAULT", def); ok {
		t.Fatalf("expected burst exhausted")
	}
}

func TestAddr(t *testing.T) {
	if Addr("") != ":8080" || Addr("9000") != ":9000" || Addr(":7000") != ":7000" {
		t.Fatalf("unexpected Addr normalization")
	}
}
