package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// Signed-access gateway.
	SigningSecret string
	SignedURLBase string
	SignedURLTTL  time.Duration

	// Dispatcher.
	MaxConcurrency    int
	ActiveWindow      time.Duration
	StaleJobCeiling   time.Duration
	CleanupInterval   time.Duration
	DispatchQueueSize int

	// Image-synthesis provider.
	ProviderBaseURL       string
	ProviderAPIKey        string
	ProviderSubmitTimeout time.Duration
	ProviderPollTimeout   time.Duration

	// Vision LLM.
	VisionBaseURL string
	VisionAPIKey  string
	VisionModel   string
	VisionTimeout time.Duration

	// Prompt queue.
	PromptBatchSize  int
	PromptMaxRetries int
	PromptTick       time.Duration

	// Poll worker pool.
	PollWorkers      int
	PollScanInterval time.Duration

	StoragePath    string
	AllowedOrigins []string
	DefaultLocale  string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		SigningSecret: os.Getenv("SIGNING_SECRET"),
		SignedURLBase: getEnv("SIGNED_URL_BASE", "http://localhost:8080/files"),
		SignedURLTTL:  time.Second * time.Duration(getEnvInt("SIGNED_URL_TTL_SECONDS", 600)),

		MaxConcurrency:    getEnvInt("MAX_CONCURRENCY", 3),
		ActiveWindow:      time.Minute * time.Duration(getEnvInt("ACTIVE_WINDOW_MINUTES", 30)),
		StaleJobCeiling:   time.Minute * time.Duration(getEnvInt("STALE_JOB_CEILING_MINUTES", 60)),
		CleanupInterval:   time.Second * time.Duration(getEnvInt("CLEANUP_INTERVAL_SECONDS", 60)),
		DispatchQueueSize: getEnvInt("DISPATCH_QUEUE_SIZE", 16),

		ProviderBaseURL:       getEnv("PROVIDER_BASE_URL", "https://api.wavespeed.ai"),
		ProviderAPIKey:        os.Getenv("PROVIDER_API_KEY"),
		ProviderSubmitTimeout: time.Minute * time.Duration(getEnvInt("PROVIDER_SUBMIT_TIMEOUT_MINUTES", 10)),
		ProviderPollTimeout:   time.Second * time.Duration(getEnvInt("PROVIDER_POLL_TIMEOUT_SECONDS", 30)),

		VisionBaseURL: getEnv("VISION_BASE_URL", "https://api.openai.com/v1"),
		VisionAPIKey:  os.Getenv("VISION_API_KEY"),
		VisionModel:   getEnv("VISION_MODEL", "gpt-4o"),
		VisionTimeout: time.Minute * time.Duration(getEnvInt("VISION_TIMEOUT_MINUTES", 25)),

		PromptBatchSize:  getEnvInt("PROMPT_BATCH_SIZE", 3),
		PromptMaxRetries: getEnvInt("PROMPT_MAX_RETRIES", 3),
		PromptTick:       time.Second * time.Duration(getEnvInt("PROMPT_TICK_SECONDS", 5)),

		PollWorkers:      getEnvInt("POLL_WORKERS", 4),
		PollScanInterval: time.Second * time.Duration(getEnvInt("POLL_SCAN_INTERVAL_SECONDS", 2)),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "")),
		DefaultLocale:  getEnv("DEFAULT_LOCALE", "en"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("SIGNING_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
