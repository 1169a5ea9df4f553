package captures

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"breva-backend/internal/analyses"
)

// Payload is the capture submission body. It is forwarded to the estimator as received.
type Payload struct {
	Side             string            `json:"side" validate:"required"`
	MeasurementID    string            `json:"measurementId" validate:"required"`
	Background       *BackgroundFrame  `json:"background" validate:"required"`
	Object           *ObjectFrame      `json:"object" validate:"required"`
	CameraIntrinsics *CameraIntrinsics `json:"cameraIntrinsics" validate:"required"`
	Metadata         *DeviceInfo       `json:"metadata" validate:"required"`
}

// BackgroundFrame is the empty-scene RGB and depth pair.
type BackgroundFrame struct {
	RGB       string   `json:"rgb" validate:"required,base64|datauri"`
	Depth     string   `json:"depth" validate:"required,base64|datauri"`
	Timestamp *float64 `json:"timestamp" validate:"required,gt=0"`
}

// ObjectFrame is the subject RGB and depth pair with its segmentation mask.
type ObjectFrame struct {
	RGB       string   `json:"rgb" validate:"required,base64|datauri"`
	Depth     string   `json:"depth" validate:"required,base64|datauri"`
	Mask      string   `json:"mask" validate:"required,base64|datauri"`
	Timestamp *float64 `json:"timestamp" validate:"required,gt=0"`
}

// CameraIntrinsics are the pinhole parameters of the depth camera.
type CameraIntrinsics struct {
	Fx     *float64 `json:"fx" validate:"required,gt=0"`
	Fy     *float64 `json:"fy" validate:"required,gt=0"`
	Cx     *float64 `json:"cx" validate:"required,gte=0"`
	Cy     *float64 `json:"cy" validate:"required,gte=0"`
	Width  *int     `json:"width" validate:"required,gt=0"`
	Height *int     `json:"height" validate:"required,gt=0"`
}

// DeviceInfo identifies the capturing device and app build.
type DeviceInfo struct {
	DeviceModel string `json:"deviceModel" validate:"required"`
	IOSVersion  string `json:"iosVersion" validate:"required"`
	AppVersion  string `json:"appVersion" validate:"required"`
}

// Frames arrive as padded standard base64, optionally wrapped in a data URL.
const imageEncodingTag = "base64|datauri"

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks shape, ranges and frame encodings. It returns a *ValidationError listing every issue.
func (p *Payload) Validate() (analyses.Side, error) {
	verr := &ValidationError{}
	if err := payloadValidator().Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return "", err
		}
		for _, fe := range fieldErrs {
			verr.add(fieldPath(fe.Namespace()), describe(fe))
		}
	}

	var side analyses.Side
	if strings.TrimSpace(p.Side) != "" {
		parsed, err := analyses.ParseSide(p.Side)
		if err != nil {
			verr.add("side", "must be left or right")
		}
		side = parsed
	}
	if err := verr.orNil(); err != nil {
		return "", err
	}
	return side, nil
}

// Snapshot is the metadata persisted alongside the capture.
func (p *Payload) Snapshot() Metadata {
	var m Metadata
	if p.Metadata != nil {
		m.Device = *p.Metadata
	}
	if p.CameraIntrinsics != nil {
		m.CameraIntrinsics = *p.CameraIntrinsics
	}
	return m
}

// BindIssues converts a JSON decoding error into validation issues.
func BindIssues(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return &ValidationError{Issues: []Issue{{Field: field, Issue: fmt.Sprintf("must be %s", typeErr.Type.String())}}}
	case errors.As(err, &syntaxErr):
		return &ValidationError{Issues: []Issue{{Field: "body", Issue: "malformed JSON"}}}
	}
	return &ValidationError{Issues: []Issue{{Field: "body", Issue: "invalid JSON body"}}}
}

func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case imageEncodingTag:
		return "must be base64 encoded"
	}
	return "failed " + fe.Tag()
}
