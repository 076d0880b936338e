package internal

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Application base URL (for local evidence links)
	BaseURL string

	// Origins allowed to call the proxy from a browser. "*" allows any.
	CORSAllowedOrigins []string

	// Maximum accepted proxy request body in bytes
	ProxyMaxBodyBytes int64

	// Proxy rate limit per client IP
	ProxyRateLimit  int
	ProxyRateWindow time.Duration

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string // Base directory for local file storage
	LocalStorageURL  string // Base URL for accessing local files

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string // Optional custom domain URL
	R2Endpoint        string // Optional; overrides the account endpoint, e.g. a jurisdictional one
	R2Region          string

	// Draft store
	DraftDriver     string // "sqlite" or "postgres"
	DraftSQLitePath string
	DatabaseUrl     string

	// Evidence intake
	EvidenceMaxBytes       int64
	EvidenceMaxUploadBytes int64

	// Sessions idle longer than this are dropped from memory; their drafts stay
	SessionIdleTimeout time.Duration

	// Worker Configuration
	WorkerEnabled     bool
	WorkerConcurrency int
	WorkerQueueSize   int
	WorkerJobTimeout  time.Duration

	// AI Provider Configuration
	AIProvider       string // "none", "mock", "anthropic" or "gemini"
	AnthropicAPIKey  string
	AnthropicModel   string
	GeminiAPIKey     string
	GeminiModel      string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration

	// Report generation
	AIReportTimeout time.Duration
	ReportNextSteps bool

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string

	// Warnings collected while loading. Logged once the logger exists.
	Warnings []string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// Base URL defaults to localhost for development
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		ProxyMaxBodyBytes:  getEnvInt64("PROXY_MAX_BODY_BYTES", 1_000_000),
		ProxyRateLimit:     getEnvInt("PROXY_RATE_LIMIT", 30),
		ProxyRateWindow:    getEnvDuration("PROXY_RATE_WINDOW", time.Minute),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),
		R2Endpoint:        strings.TrimSuffix(getEnv("R2_ENDPOINT", ""), "/"),
		R2Region:          getEnv("R2_REGION", "auto"),

		// Drafts default to an embedded SQLite file
		DraftDriver:     getEnv("DRAFT_DRIVER", "sqlite"),
		DraftSQLitePath: getEnv("DRAFT_SQLITE_PATH", "./data/custodybuddy.db"),
		DatabaseUrl:     os.Getenv("DATABASE_URL"),

		EvidenceMaxBytes:       getEnvInt64("EVIDENCE_MAX_BYTES", 25<<20),
		EvidenceMaxUploadBytes: getEnvInt64("EVIDENCE_MAX_UPLOAD_BYTES", 100<<20),

		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 2*time.Hour),

		// Worker defaults
		WorkerEnabled:     getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerQueueSize:   getEnvInt("WORKER_QUEUE_SIZE", 64),
		WorkerJobTimeout:  getEnvDuration("WORKER_JOB_TIMEOUT", 2*time.Minute),

		// AI provider defaults
		AIProvider:       strings.ToLower(getEnv("AI_PROVIDER", "none")),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),

		AIReportTimeout: getEnvDuration("AI_REPORT_TIMEOUT", 25*time.Second),
		ReportNextSteps: getEnvBool("REPORT_NEXT_STEPS", true),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" && cfg.R2Endpoint == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID or R2_ENDPOINT is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	// Validate draft store configuration
	switch cfg.DraftDriver {
	case "sqlite":
	case "postgres":
		if cfg.DatabaseUrl == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when DRAFT_DRIVER is 'postgres'")
		}
	default:
		return nil, fmt.Errorf("DRAFT_DRIVER must be either 'sqlite' or 'postgres', got: %s", cfg.DraftDriver)
	}

	// Missing credentials degrade to placeholder reports instead of failing
	switch cfg.AIProvider {
	case "none", "mock":
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			cfg.Warnings = append(cfg.Warnings, "ANTHROPIC_API_KEY is empty; reports will use placeholder content")
			cfg.AIProvider = "none"
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			cfg.Warnings = append(cfg.Warnings, "GEMINI_API_KEY is empty; reports will use placeholder content")
			cfg.AIProvider = "none"
		}
	default:
		return nil, fmt.Errorf("AI_PROVIDER must be one of 'none', 'mock', 'anthropic' or 'gemini', got: %s", cfg.AIProvider)
	}

	if cfg.ProxyMaxBodyBytes <= 0 {
		return nil, fmt.Errorf("PROXY_MAX_BODY_BYTES must be positive")
	}
	if cfg.EvidenceMaxBytes <= 0 {
		return nil, fmt.Errorf("EVIDENCE_MAX_BYTES must be positive")
	}
	if cfg.EvidenceMaxUploadBytes < cfg.EvidenceMaxBytes {
		return nil, fmt.Errorf("EVIDENCE_MAX_UPLOAD_BYTES must be at least EVIDENCE_MAX_BYTES")
	}
	if cfg.SessionIdleTimeout <= 0 {
		return nil, fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}

	return cfg, nil
}

// LogWarnings emits any warnings collected while loading.
func (c *Config) LogWarnings(logger *slog.Logger) {
	for _, w := range c.Warnings {
		logger.Warn(w)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
