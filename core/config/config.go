package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OTel      OTelConfig
	Pipeline  PipelineConfig
	Platform  PlatformConfig
	LLM       LLMConfig
	Planner   PlannerConfig
	RateLimit RateLimitConfig
	Env       string
	Port      string
	NodeID    int64
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
}

type PipelineConfig struct {
	RedisURL        string
	RedisStream     string
	RedisGroup      string
	RedisDLQStream  string
	RedisConsumer   string
	TraceHeaderName string
	MaxAttempts     int
	ReclaimIdle     time.Duration
	ReclaimInterval time.Duration
}

// PlatformConfig selects and authenticates the code-hosting platform.
type PlatformConfig struct {
	Provider      string // "gitlab" or "github"
	Token         string
	BaseURL       string // Optional: self-hosted GitLab or GitHub Enterprise
	BotUsername   string // Mention token, also used to ignore the bot's own comments
	WebhookSecret string
	CallTimeout   time.Duration
}

type LLMConfig struct {
	Provider  string // "openai" or "anthropic"
	APIKey    string
	BaseURL   string // Optional: for custom endpoints
	Model     string
	MaxTokens int
}

// PlannerConfig bounds one planning run. Every value has a default and can be
// overridden individually.
type PlannerConfig struct {
	MaxItems          int
	MaxFilesAnalyzed  int
	MaxFileChars      int
	MaxSummaryChars   int
	AITimeout         time.Duration
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	RefinementPasses  int
	IngestBatchSize   int
	IngestBatchDelay  time.Duration
	CreateBatchSize   int
	CreateBatchDelay  time.Duration
	MaxThreadScan     int
	ClassifierEnabled bool
	ClassifierCache   int
}

type RateLimitConfig struct {
	Backend string // "memory" or "redis"
	Limit   int
	Window  time.Duration
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
)

// Load loads configuration from environment variables.
// In development it first loads .env.{service}, falling back to .env.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("PLANNER_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:    getEnv("PLANNER_ENV", "development"),
		Port:   getEnv("PORT", "8080"),
		NodeID: int64(getEnvInt("NODE_ID", 1)),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "planner-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			SampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
		Pipeline: PipelineConfig{
			RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
			RedisStream:     getEnv("REDIS_STREAM", "planner_triggers"),
			RedisGroup:      getEnv("REDIS_CONSUMER_GROUP", "planner_group"),
			RedisDLQStream:  getEnv("REDIS_DLQ_STREAM", "planner_triggers_dlq"),
			RedisConsumer:   getEnv("REDIS_CONSUMER_NAME", string(serviceType)),
			TraceHeaderName: getEnv("TRACE_HEADER_NAME", "X-Trace-Id"),
			MaxAttempts:     getEnvInt("PIPELINE_MAX_ATTEMPTS", 3),
			ReclaimIdle:     getEnvDuration("PIPELINE_RECLAIM_IDLE", 10*time.Minute),
			ReclaimInterval: getEnvDuration("PIPELINE_RECLAIM_INTERVAL", time.Minute),
		},
		Platform: PlatformConfig{
			Provider:      strings.ToLower(getEnv("PLATFORM_PROVIDER", "gitlab")),
			Token:         getEnv("PLATFORM_TOKEN", ""),
			BaseURL:       getEnv("PLATFORM_BASE_URL", ""),
			BotUsername:   getEnv("BOT_USERNAME", "l"),
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
			CallTimeout:   getEnvDuration("PLATFORM_CALL_TIMEOUT", 30*time.Second),
		},
		LLM: LLMConfig{
			Provider:  strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			APIKey:    getEnv("LLM_API_KEY", ""),
			BaseURL:   getEnv("LLM_BASE_URL", ""),
			Model:     getEnv("LLM_MODEL", "gpt-4.1-mini"),
			MaxTokens: getEnvInt("LLM_MAX_TOKENS", 4096),
		},
		Planner: PlannerConfig{
			MaxItems:          getEnvInt("PLANNER_MAX_ITEMS", 25),
			MaxFilesAnalyzed:  getEnvInt("PLANNER_MAX_FILES", 5),
			MaxFileChars:      getEnvInt("PLANNER_MAX_FILE_CHARS", 2000),
			MaxSummaryChars:   getEnvInt("PLANNER_MAX_SUMMARY_CHARS", 8000),
			AITimeout:         getEnvDuration("PLANNER_AI_TIMEOUT", 120*time.Second),
			RetryAttempts:     getEnvInt("PLANNER_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:    getEnvDuration("PLANNER_RETRY_BASE_DELAY", time.Second),
			RefinementPasses:  getEnvInt("PLANNER_REFINEMENT_PASSES", 1),
			IngestBatchSize:   getEnvInt("PLANNER_INGEST_BATCH_SIZE", 3),
			IngestBatchDelay:  getEnvDuration("PLANNER_INGEST_BATCH_DELAY", 500*time.Millisecond),
			CreateBatchSize:   getEnvInt("PLANNER_CREATE_BATCH_SIZE", 3),
			CreateBatchDelay:  getEnvDuration("PLANNER_CREATE_BATCH_DELAY", 2*time.Second),
			MaxThreadScan:     getEnvInt("PLANNER_MAX_THREAD_SCAN", 100),
			ClassifierEnabled: getEnvBool("PLANNER_AI_CLASSIFIER", true),
			ClassifierCache:   getEnvInt("PLANNER_CLASSIFIER_CACHE", 512),
		},
		RateLimit: RateLimitConfig{
			Backend: strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "redis")),
			Limit:   getEnvInt("RATE_LIMIT_PER_WINDOW", 3),
			Window:  getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		},
	}

	if err := cfg.validate(serviceType); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate(serviceType ServiceType) error {
	if c.Platform.Provider != "gitlab" && c.Platform.Provider != "github" {
		return fmt.Errorf("PLATFORM_PROVIDER must be gitlab or github, got %q", c.Platform.Provider)
	}
	if serviceType != ServiceTypeWorker {
		return nil
	}
	if c.Platform.Token == "" {
		return fmt.Errorf("PLATFORM_TOKEN is required")
	}
	if !c.LLM.Enabled() {
		return fmt.Errorf("LLM_API_KEY is required and LLM_PROVIDER must be openai or anthropic")
	}
	if c.Planner.RetryAttempts < 1 || c.Planner.IngestBatchSize < 1 || c.Planner.CreateBatchSize < 1 {
		return fmt.Errorf("planner retry attempts and batch sizes must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

func (c PlatformConfig) WebhookAuthEnabled() bool {
	return c.WebhookSecret != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or bare milliseconds ("1500").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
