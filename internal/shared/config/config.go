package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	DatabaseURL     string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIAssistantID string
	OpenAIBaseURL     string
	OpenAITimeout     time.Duration

	SQSQueueURL string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	UIRedirectURL      string

	Ingestion  IngestionConfig
	Evaluation EvaluationConfig
	Cleanup    CleanupConfig
}

// IngestionConfig bounds the ingestion pipeline.
type IngestionConfig struct {
	MaxUploadBytes    int64
	RetentionDays     int
	ReadinessInterval time.Duration
	ReadinessTimeout  time.Duration
	RemoteAttempts    int
}

// EvaluationConfig bounds the evaluation orchestrator.
type EvaluationConfig struct {
	BatchSize       int
	BatchAttempts   int
	OuterAttempts   int
	RunWaitTimeout  time.Duration
	RunPollInterval time.Duration
	InterBatchDelay time.Duration
}

// CleanupConfig bounds the lifecycle cleanup sweep.
type CleanupConfig struct {
	BatchSize       int
	InterBatchDelay time.Duration
	DeleteAttempts  int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("S3_SSE_KMS_KEY_ID", ""),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIAssistantID: getEnv("OPENAI_ASSISTANT_ID", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		OpenAITimeout:     getEnvDuration("OPENAI_TIMEOUT", 120*time.Second),

		SQSQueueURL: getEnv("CB_SQS_QUEUE_URL", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		UIRedirectURL:      getEnv("UI_REDIRECT_URL", ""),

		Ingestion: IngestionConfig{
			MaxUploadBytes:    getEnvInt64("MAX_UPLOAD_BYTES", 20<<20),
			RetentionDays:     getEnvInt("DOCUMENT_RETENTION_DAYS", 7),
			ReadinessInterval: getEnvDuration("INDEX_POLL_INTERVAL", 3*time.Second),
			ReadinessTimeout:  getEnvDuration("INDEX_POLL_TIMEOUT", 600*time.Second),
			RemoteAttempts:    3,
		},
		Evaluation: EvaluationConfig{
			BatchSize:       getEnvInt("EVALUATION_BATCH_SIZE", 3),
			BatchAttempts:   3,
			OuterAttempts:   3,
			RunWaitTimeout:  getEnvDuration("RUN_WAIT_TIMEOUT", 420*time.Second),
			RunPollInterval: getEnvDuration("RUN_POLL_INTERVAL", 2*time.Second),
			InterBatchDelay: getEnvDuration("INTER_BATCH_DELAY", 5*time.Second),
		},
		Cleanup: CleanupConfig{
			BatchSize:       getEnvInt("CLEANUP_BATCH_SIZE", 10),
			InterBatchDelay: getEnvDuration("CLEANUP_BATCH_DELAY", 2*time.Second),
			DeleteAttempts:  2,
		},
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		log.Printf("config %s invalid int %q, using default", key, raw)
		return def
	}
	return val
}

func getEnvInt64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val <= 0 {
		log.Printf("config %s invalid int %q, using default", key, raw)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("config %s invalid duration %q, using default", key, raw)
		return def
	}
	return val
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

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
