package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Inbound event queue
	UseMemoryQueue bool
	WorkerCount    int
	EventQueueURL  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Classification
	BedrockModelID   string
	ClassifyTimeout  time.Duration
	ClassifyMaxRetry int

	// Triage
	TriageMaxAttempts      int
	TriageBackoffBase      time.Duration
	TriageBackoffCap       time.Duration
	IdentifierScanLimit    int
	DefaultQueueID         string
	FallbackPriority       int
	MessagingWindow        time.Duration
	WindowClosingThreshold time.Duration

	// Distribution
	MatchMaxRetries      int
	PresenceTTL          time.Duration
	WalletAllowsOverflow bool

	// Sweeper
	SweepInterval       time.Duration
	QueueStaleAfter     time.Duration
	SLAThreshold        time.Duration
	BAMRefreshInterval  time.Duration
	SentimentWindowDays int

	// Notifications
	NotifyFromEmail string
	NotifyFromName  string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		EventQueueURL:  getEnv("EVENT_QUEUE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		BedrockModelID:   getEnv("BEDROCK_MODEL_ID", ""),
		ClassifyTimeout:  getEnvAsDuration("CLASSIFY_TIMEOUT", 15*time.Second),
		ClassifyMaxRetry: getEnvAsInt("CLASSIFY_MAX_RETRY", 2),

		TriageMaxAttempts:      getEnvAsInt("TRIAGE_MAX_ATTEMPTS", 5),
		TriageBackoffBase:      getEnvAsDuration("TRIAGE_BACKOFF_BASE", 30*time.Second),
		TriageBackoffCap:       getEnvAsDuration("TRIAGE_BACKOFF_CAP", 30*time.Minute),
		IdentifierScanLimit:    getEnvAsInt("IDENTIFIER_SCAN_LIMIT", 3),
		DefaultQueueID:         getEnv("DEFAULT_QUEUE_ID", ""),
		FallbackPriority:       getEnvAsInt("FALLBACK_PRIORITY", 80),
		MessagingWindow:        getEnvAsDuration("MESSAGING_WINDOW", 24*time.Hour),
		WindowClosingThreshold: getEnvAsDuration("WINDOW_CLOSING_THRESHOLD", time.Hour),

		MatchMaxRetries:      getEnvAsInt("MATCH_MAX_RETRIES", 3),
		PresenceTTL:          getEnvAsDuration("PRESENCE_TTL", 90*time.Second),
		WalletAllowsOverflow: getEnvAsBool("WALLET_ALLOWS_OVERFLOW", true),

		SweepInterval:       getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		QueueStaleAfter:     getEnvAsDuration("QUEUE_STALE_AFTER", 10*time.Minute),
		SLAThreshold:        getEnvAsDuration("SLA_THRESHOLD", 5*time.Minute),
		BAMRefreshInterval:  getEnvAsDuration("BAM_REFRESH_INTERVAL", 15*time.Second),
		SentimentWindowDays: getEnvAsInt("SENTIMENT_WINDOW_DAYS", 7),

		NotifyFromEmail: getEnv("NOTIFY_FROM_EMAIL", ""),
		NotifyFromName:  getEnv("NOTIFY_FROM_NAME", "Intake Engine"),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
