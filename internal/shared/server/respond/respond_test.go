package respond

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"breva-backend/internal/shared/telemetry"
)

func TestErrorWritesEnvelopeAndLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logs bytes.Buffer
	telemetry.SetOutput(&logs)
	defer telemetry.SetOutput(nil)

	r := gin.New()
	r.GET("/captures/:id", func(c *gin.Context) {
		c.Set("captureId", c.Param("id"))
		Error(c, http.StatusNotFound, "not_found", "capture not found", nil)
	})
	r.GET("/upstream", func(c *gin.Context) {
		Error(c, http.StatusBadGateway, "upstream_error", "estimator unavailable", gin.H{"status": 503})
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/captures/cap-1", nil))
	var body ErrorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != http.StatusNotFound || body.Error.Code != "not_found" {
		t.Fatalf("unexpected response %d %+v", resp.Code, body)
	}
	if strings.Contains(resp.Body.String(), "details") {
		t.Fatalf("expected details omitted, got %s", resp.Body.String())
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/upstream", nil))

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two log lines, got %d", len(lines))
	}
	var first, second map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)
	if first["level"] != "warn" || first["capture_id"] != "cap-1" || first["route"] != "/captures/:id" {
		t.Fatalf("unexpected 4xx log %v", first)
	}
	if second["level"] != "error" {
		t.Fatalf("expected error level for 502, got %v", second["level"])
	}
}
