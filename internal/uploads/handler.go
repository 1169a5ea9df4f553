package uploads

import (
	"context"
	"errors"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"breva-backend/internal/measurements"
	"breva-backend/internal/shared/server/middleware"
	"breva-backend/internal/shared/server/respond"
	"breva-backend/internal/shared/telemetry"
	"breva-backend/internal/shared/util"
)

const (
	maxUploadBytes       = 200 << 20
	presignExpires       = 15 * time.Minute
	defaultUploadsPrefix = "scans/"
)

// Raw scan formats; the extension must agree with the declared content type.
var allowedContentTypes = map[string][]string{
	"application/octet-stream": {".ply", ".obj"},
	"application/x-ply":        {".ply"},
	"model/obj":                {".obj"},
	"text/plain":               {".obj"},
	"model/vnd.usdz+zip":       {".usdz"},
	"image/jpeg":               {".jpg", ".jpeg"},
	"image/png":                {".png"},
	"image/heic":               {".heic"},
	"application/zip":          {".zip"},
}

// Presigner is the subset of s3.PresignClient the handler uses.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// MeasurementOwner verifies the caller owns the target measurement.
type MeasurementOwner interface {
	Owned(ctx context.Context, measurementID, userID string) (measurements.Measurement, error)
}

var _ Presigner = (*s3.PresignClient)(nil)

type Handler struct {
	presign Presigner
	bucket  string
	prefix  string
	owner   MeasurementOwner
}

// NewHandler builds a handler around an existing presigner.
func NewHandler(presign Presigner, bucket, prefix string, owner MeasurementOwner) *Handler {
	if prefix == "" {
		prefix = defaultUploadsPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Handler{presign: presign, bucket: bucket, prefix: prefix, owner: owner}
}

type presignRequest struct {
	MeasurementID string `json:"measurementId"`
	FileName      string `json:"fileName"`
	ContentType   string `json:"contentType"`
	SizeBytes     int64  `json:"sizeBytes"`
}

type presignResponse struct {
	UploadURL        string `json:"uploadUrl"`
	S3Key            string `json:"s3Key"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/uploads/presign", h.presignUpload)
}

func (h *Handler) presignUpload(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	req.MeasurementID = strings.TrimSpace(req.MeasurementID)
	req.FileName = strings.TrimSpace(req.FileName)
	req.ContentType = strings.ToLower(strings.TrimSpace(req.ContentType))

	if req.MeasurementID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "measurementId is required", nil)
		return
	}
	if req.FileName == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "fileName is required", nil)
		return
	}
	if !allowedFile(req.ContentType, req.FileName) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "contentType is not allowed", nil)
		return
	}
	if req.SizeBytes <= 0 || req.SizeBytes > maxUploadBytes {
		respond.Error(c, http.StatusBadRequest, "validation_error", "sizeBytes exceeds limit", nil)
		return
	}

	userID := middleware.UserIDFromContext(c)
	if h.owner != nil {
		if _, err := h.owner.Owned(c.Request.Context(), req.MeasurementID, userID); err != nil {
			if errors.Is(err, measurements.ErrNotFound) {
				respond.Error(c, http.StatusNotFound, "not_found", "measurement not found", nil)
				return
			}
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load measurement", nil)
			return
		}
	}

	sanitized, err := util.SanitizeFileName(req.FileName)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid fileName", nil)
		return
	}

	key := path.Join(h.prefix, util.HashUserKey(userID), req.MeasurementID, uuid.NewString()+"-"+sanitized)

	expires := presignExpires
	out, err := h.presign.PresignPutObject(c.Request.Context(), presignInput(h.bucket, key), func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		telemetry.Error("uploads.presign.failed", map[string]any{
			"err":            err.Error(),
			"bucket":         h.bucket,
			"key":            key,
			"contentType":    req.ContentType,
			"sizeBytes":      req.SizeBytes,
			"measurement_id": req.MeasurementID,
			"request_id":     c.GetString("requestId"),
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to generate upload url", nil)
		return
	}

	respond.JSON(c, http.StatusOK, presignResponse{
		UploadURL:        out.URL,
		S3Key:            key,
		ExpiresInSeconds: int64(expires.Seconds()),
	})
}

func allowedFile(contentType, fileName string) bool {
	exts, ok := allowedContentTypes[contentType]
	if !ok {
		return false
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

func presignInput(bucket, key string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
}
