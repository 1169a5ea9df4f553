package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"breva-backend/internal/shared/telemetry"
)

// Routes too chatty to log on success.
var quietRoutes = map[string]bool{
	"/health":        true,
	"/api/v1/health": true,
	"/metrics":       true,
}

// Logging emits one structured line per request, at warn for 4xx and error for 5xx.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		route := c.FullPath()
		if quietRoutes[route] && status < http.StatusBadRequest {
			return
		}

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"route":       route,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		for _, key := range []string{userIDKey, "measurementId", "captureId", "statusTransition"} {
			if v := c.GetString(key); v != "" {
				fields[logFieldName(key)] = v
			}
		}

		switch {
		case status >= http.StatusInternalServerError:
			telemetry.Error("request.complete", fields)
		case status >= http.StatusBadRequest:
			telemetry.Warn("request.complete", fields)
		default:
			telemetry.Info("request.complete", fields)
		}
	}
}

func logFieldName(key string) string {
	switch key {
	case userIDKey:
		return "user_id"
	case "measurementId":
		return "measurement_id"
	case "captureId":
		return "capture_id"
	case "statusTransition":
		return "status_transition"
	}
	return key
}
