package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"

	"breva-backend/internal/measurements"
	"breva-backend/internal/shared/util"
)

func TestPresignSignedHeadersExcludeContentLength(t *testing.T) {
	cfg := aws.Config{
		Region:      "us-east-1",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider("AKID", "SECRET", "")),
	}
	client := s3.NewFromConfig(cfg)
	presigner := s3.NewPresignClient(client)

	input := presignInput("bucket", "scans/user/measurement/file.ply")
	out, err := presigner.PresignPutObject(context.Background(), input)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}

	parsed, err := url.Parse(out.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}

	signed := parsed.Query().Get("X-Amz-SignedHeaders")
	if signed == "" {
		t.Fatalf("expected X-Amz-SignedHeaders")
	}
	if strings.Contains(signed, "content-length") {
		t.Fatalf("unexpected content-length in signed headers: %s", signed)
	}
	if !strings.Contains(signed, "host") {
		t.Fatalf("expected host in signed headers: %s", signed)
	}
}

type fakePresigner struct {
	keys []string
	err  error
}

func (f *fakePresigner) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := aws.ToString(params.Key)
	f.keys = append(f.keys, key)
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + key, Method: http.MethodPut}, nil
}

type fakeOwner struct {
	owned map[string]string
}

func (f fakeOwner) Owned(ctx context.Context, measurementID, userID string) (measurements.Measurement, error) {
	if f.owned[measurementID] != userID {
		return measurements.Measurement{}, measurements.ErrNotFound
	}
	return measurements.Measurement{ID: measurementID, UserID: userID}, nil
}

func newRouter(h *Handler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userId", userID)
		c.Next()
	})
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func post(r *gin.Engine, payload map[string]any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/presign", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestPresignBuildsScopedKey(t *testing.T) {
	presigner := &fakePresigner{}
	h := NewHandler(presigner, "bucket", "scans", fakeOwner{owned: map[string]string{"m-1": "u-1"}})
	r := newRouter(h, "u-1")

	resp := post(r, map[string]any{
		"measurementId": "m-1",
		"fileName":      "left side.PLY",
		"contentType":   "application/x-ply",
		"sizeBytes":     150 << 20,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out presignResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	prefix := "scans/" + util.HashUserKey("u-1") + "/m-1/"
	if !strings.HasPrefix(out.S3Key, prefix) || !strings.HasSuffix(out.S3Key, "-left side.PLY") {
		t.Fatalf("unexpected key %q", out.S3Key)
	}
	if out.ExpiresInSeconds != 900 || !strings.HasSuffix(out.UploadURL, out.S3Key) {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestPresignValidation(t *testing.T) {
	presigner := &fakePresigner{}
	h := NewHandler(presigner, "bucket", "", fakeOwner{owned: map[string]string{"m-1": "u-1"}})
	r := newRouter(h, "u-1")

	cases := []struct {
		name    string
		payload map[string]any
		want    int
	}{
		{"missing measurement", map[string]any{"fileName": "a.ply", "contentType": "application/x-ply", "sizeBytes": 10}, http.StatusBadRequest},
		{"pdf rejected", map[string]any{"measurementId": "m-1", "fileName": "a.pdf", "contentType": "application/pdf", "sizeBytes": 10}, http.StatusBadRequest},
		{"extension mismatch", map[string]any{"measurementId": "m-1", "fileName": "a.png", "contentType": "image/jpeg", "sizeBytes": 10}, http.StatusBadRequest},
		{"too large", map[string]any{"measurementId": "m-1", "fileName": "a.zip", "contentType": "application/zip", "sizeBytes": 201 << 20}, http.StatusBadRequest},
		{"traversal", map[string]any{"measurementId": "m-1", "fileName": "../a.zip", "contentType": "application/zip", "sizeBytes": 10}, http.StatusBadRequest},
		{"foreign measurement", map[string]any{"measurementId": "m-2", "fileName": "a.heic", "contentType": "image/heic", "sizeBytes": 10}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := post(r, tc.payload); resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
	if len(presigner.keys) != 0 {
		t.Fatalf("expected no presign calls, got %v", presigner.keys)
	}
}

func TestPresignFailureIsInternal(t *testing.T) {
	h := NewHandler(&fakePresigner{err: errors.New("no credentials")}, "bucket", "", fakeOwner{owned: map[string]string{"m-1": "u-1"}})
	r := newRouter(h, "u-1")

	resp := post(r, map[string]any{"measurementId": "m-1", "fileName": "scan.usdz", "contentType": "model/vnd.usdz+zip", "sizeBytes": 1024})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}
