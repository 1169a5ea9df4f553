package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultMaxCaptureBodyBytes = 50 << 20

// Config holds application configuration.
type Config struct {
	Port                string
	CORSAllowOrigin     []string
	ObjectStoreType     string
	LocalStoreDir       string
	AWSRegion           string
	S3Bucket            string
	S3Prefix            string
	SSEKMSKeyID         string
	MinioEndpoint       string
	MinioAccessKey      string
	MinioSecretKey      string
	MinioBucket         string
	MinioUseSSL         bool
	DatabaseURL         string
	Env                 string
	GoogleClientID      string
	GoogleClientSecret  string
	GoogleRedirectURL   string
	UIRedirectURL       string
	AppRedirectURL      string
	EstimatorEnqueueURL string
	EstimatorStatusURL  string
	EstimatorAPIKey     string
	EstimatorTimeout    time.Duration
	PollInterval        time.Duration
	PollMaxAttempts     int
	SweepInterval       time.Duration
	CaptureQueueURL     string
	// CaptureVisibility is how long SQS hides a received poll job from other workers.
	CaptureVisibility   time.Duration
	MaxCaptureBodyBytes int64
	UploadsBucket       string
	UploadsPrefix       string
	// ProcessRole is set by the binary, not the environment: "api" or "worker".
	ProcessRole string
}

// fileConfig mirrors the env keys so a YAML file can provide defaults.
type fileConfig map[string]string

// Load reads configuration from an optional YAML file and environment variables.
// Environment variables win over file values, which win over built-in defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	file := loadFile(os.Getenv("CONFIG_FILE"))
	get := func(key, def string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		if val, ok := file[key]; ok && strings.TrimSpace(val) != "" {
			return val
		}
		return def
	}

	env := normalizeEnv(get("ENV", "dev"))
	dbURL := get("DATABASE_URL", "")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:                get("PORT", "8080"),
		CORSAllowOrigin:     splitAndTrim(get("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		ObjectStoreType:     normalizeStoreType(get("OBJECT_STORE", "local")),
		LocalStoreDir:       get("LOCAL_STORE_DIR", "./data"),
		AWSRegion:           get("AWS_REGION", ""),
		S3Bucket:            get("S3_BUCKET", ""),
		S3Prefix:            get("S3_PREFIX", ""),
		SSEKMSKeyID:         get("SSE_KMS_KEY_ID", ""),
		MinioEndpoint:       get("MINIO_ENDPOINT", ""),
		MinioAccessKey:      get("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:      get("MINIO_SECRET_KEY", ""),
		MinioBucket:         get("MINIO_BUCKET", "breva-captures"),
		MinioUseSSL:         parseBool(get("MINIO_USE_SSL", "false")),
		DatabaseURL:         dbURL,
		Env:                 env,
		GoogleClientID:      get("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  get("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:   get("GOOGLE_REDIRECT_URL", ""),
		UIRedirectURL:       get("UI_REDIRECT_URL", ""),
		AppRedirectURL:      get("APP_REDIRECT_URL", "breva://auth/callback"),
		EstimatorEnqueueURL: get("ESTIMATOR_ENQUEUE_URL", "http://localhost:8090/enqueue"),
		EstimatorStatusURL:  get("ESTIMATOR_STATUS_URL", "http://localhost:8090/status"),
		EstimatorAPIKey:     get("ESTIMATOR_API_KEY", ""),
		EstimatorTimeout:    parseDuration("ESTIMATOR_TIMEOUT", get("ESTIMATOR_TIMEOUT", ""), 30*time.Second),
		PollInterval:        parseDuration("POLL_INTERVAL", get("POLL_INTERVAL", ""), 5*time.Second),
		PollMaxAttempts:     parseInt("POLL_MAX_ATTEMPTS", get("POLL_MAX_ATTEMPTS", ""), 60),
		SweepInterval:       parseDuration("SWEEP_INTERVAL", get("SWEEP_INTERVAL", ""), time.Minute),
		CaptureQueueURL:     get("CAPTURE_QUEUE_URL", ""),
		CaptureVisibility:   time.Duration(parseInt("CAPTURE_VISIBILITY_TIMEOUT_SECONDS", get("CAPTURE_VISIBILITY_TIMEOUT_SECONDS", ""), 60)) * time.Second,
		MaxCaptureBodyBytes: int64(parseInt("MAX_CAPTURE_BODY_BYTES", get("MAX_CAPTURE_BODY_BYTES", ""), defaultMaxCaptureBodyBytes)),
		UploadsBucket:       get("UPLOADS_S3_BUCKET", ""),
		UploadsPrefix:       get("UPLOADS_S3_PREFIX", "scans/"),
		ProcessRole:         "api",
	}
}

// loadEnvFiles loads KEY=VALUE pairs from the given files if they exist.
// Variables already present in the environment are not overwritten.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Printf("config: skipping %s: %v", path, err)
		}
	}
}

func loadFile(path string) fileConfig {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("config: read %s: %v", path, err)
		return nil
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		log.Printf("config: parse %s: %v", path, err)
		return nil
	}
	out := make(fileConfig, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			out[strings.ToUpper(k)] = val
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, strings.TrimSpace(toString(item)))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(k)] = toString(val)
		}
	}
	return out
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDuration(key, raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid duration %q, using %s", key, raw, def)
		return def
	}
	return val
}

func parseInt(key, raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func parseBool(raw string) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && val
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "minio":
		return "minio"
	default:
		return "local"
	}
}
