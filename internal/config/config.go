package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"stockpulse/internal/scoring"

	"github.com/rs/zerolog/log"
)

type Config struct {
	HTTPAddr    string
	APIKey      string
	CORSOrigins []string

	LogLevel  string
	LogPretty bool
	LogFile   string

	DatabaseURL    string
	RedisURL       string
	RedisEnabled   bool
	TracingEnabled bool

	OpenAIAPIKey        string
	OpenAIModel         string
	OpenAIBaseURL       string
	AIMaxTokens         int
	AITemperature       float64
	AITimeout           time.Duration
	SentimentLLMEnabled bool

	MaxConcurrentTasks int
	TaskQueueSize      int
	TaskRetain         time.Duration

	EventBufferSize  int
	EventOverflow    string
	EventHistorySize int
	SSEHeartbeat     time.Duration

	PriceTTL        time.Duration
	FundamentalTTL  time.Duration
	NewsTTL         time.Duration
	CacheMaxEntries int

	FetchAttemptTimeout time.Duration
	PriceLookbackDays   int
	NewsLookbackDays    int
	NewsMaxItems        int

	WeightTechnical   float64
	WeightFundamental float64
	WeightSentiment   float64

	ProvidersFile string
	Watchlist     []string
	WatchlistPoll time.Duration

	ReportRetentionDays int
	S3Bucket            string
	S3Region            string
	S3Endpoint          string
	S3PathStyle         bool
	S3AccessKeyID       string
	S3SecretAccessKey   string

	TelegramBotToken string

	SSHPort                   int
	SSHHostKeyPath            string
	SSHAuthorizedFingerprints []string

	MCPTransport string
	MCPHTTPBind  string
	MCPHTTPPort  int
	MCPAuthToken string
}

func Load() *Config {
	cfg := &Config{
		HTTPAddr:         envString("HTTP_ADDR", ":8080"),
		APIKey:           strings.TrimSpace(os.Getenv("API_KEY")),
		CORSOrigins:      envList("CORS_ORIGINS"),
		LogLevel:         envString("LOG_LEVEL", "info"),
		LogPretty:        envBool("LOG_PRETTY", false),
		LogFile:          strings.TrimSpace(os.Getenv("LOG_FILE")),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisEnabled:     envBool("REDIS_ENABLED", true),
		TracingEnabled:   envBool("TRACING_ENABLED", true),
		OpenAIAPIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:      envString("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:    strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		ProvidersFile:    strings.TrimSpace(os.Getenv("PROVIDERS_FILE")),
		Watchlist:        envList("WATCHLIST"),
		S3Bucket:         strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Region:         envString("S3_REGION", "us-east-1"),
		S3Endpoint:       strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		S3PathStyle:      envBool("S3_PATH_STYLE", false),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		SSHHostKeyPath:   envString("SSH_HOST_KEY_PATH", ".ssh/stockpulse_ed25519"),
		MCPHTTPBind:      envString("MCP_HTTP_BIND", "127.0.0.1"),
		MCPAuthToken:     os.Getenv("MCP_AUTH_TOKEN"),

		SSHAuthorizedFingerprints: envList("SSH_AUTHORIZED_FINGERPRINTS"),

		AIMaxTokens:         envInt("AI_MAX_TOKENS", 4000),
		AITemperature:       envFloat("AI_TEMPERATURE", 0.7),
		AITimeout:           envSecs("AI_TIMEOUT_SECS", 120),
		SentimentLLMEnabled: envBool("SENTIMENT_LLM_ENABLED", false),
		MaxConcurrentTasks:  envInt("MAX_CONCURRENT_TASKS", 4),
		TaskRetain:          envSecs("TASK_RETAIN_SECS", 300),
		EventBufferSize:     envInt("EVENT_BUFFER_SIZE", 256),
		EventHistorySize:    envInt("EVENT_HISTORY_SIZE", 2048),
		SSEHeartbeat:        envSecs("SSE_HEARTBEAT_SECS", 30),
		PriceTTL:            envSecs("CACHE_PRICE_TTL_SECS", 3600),
		FundamentalTTL:      envSecs("CACHE_FUNDAMENTAL_TTL_SECS", 21600),
		NewsTTL:             envSecs("CACHE_NEWS_TTL_SECS", 7200),
		CacheMaxEntries:     envInt("CACHE_MAX_ENTRIES", 2048),
		FetchAttemptTimeout: envSecs("FETCH_ATTEMPT_TIMEOUT_SECS", 15),
		PriceLookbackDays:   envInt("PRICE_LOOKBACK_DAYS", 180),
		NewsLookbackDays:    envInt("NEWS_LOOKBACK_DAYS", 15),
		NewsMaxItems:        envInt("NEWS_MAX_ITEMS", 100),
		WeightTechnical:     envFloat("WEIGHT_TECHNICAL", 0.4),
		WeightFundamental:   envFloat("WEIGHT_FUNDAMENTAL", 0.4),
		WeightSentiment:     envFloat("WEIGHT_SENTIMENT", 0.2),
		WatchlistPoll:       envSecs("WATCHLIST_POLL_SECS", 900),
		ReportRetentionDays: envInt("REPORT_RETENTION_DAYS", 30),
		SSHPort:             envInt("SSH_PORT", 23234),
		MCPHTTPPort:         envInt("MCP_HTTP_PORT", 8090),
		S3AccessKeyID:       strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID")),
		S3SecretAccessKey:   strings.TrimSpace(os.Getenv("S3_SECRET_ACCESS_KEY")),
	}

	// Zero is a valid queue size: no task waits for a worker slot.
	cfg.TaskQueueSize = 0
	if v := strings.TrimSpace(os.Getenv("TASK_QUEUE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.TaskQueueSize = n
		}
	}

	cfg.EventOverflow = strings.ToLower(strings.TrimSpace(os.Getenv("EVENT_OVERFLOW")))
	if cfg.EventOverflow == "" {
		cfg.EventOverflow = "drop_oldest"
	}
	if cfg.EventOverflow != "drop_oldest" && cfg.EventOverflow != "block" {
		log.Warn().Str("value", cfg.EventOverflow).Msg("unsupported EVENT_OVERFLOW, defaulting to drop_oldest")
		cfg.EventOverflow = "drop_oldest"
	}

	cfg.MCPTransport = strings.ToLower(strings.TrimSpace(os.Getenv("MCP_TRANSPORT")))
	if cfg.MCPTransport == "" {
		cfg.MCPTransport = "stdio"
	}
	if cfg.MCPTransport != "stdio" && cfg.MCPTransport != "http" {
		log.Warn().Str("value", cfg.MCPTransport).Msg("unsupported MCP_TRANSPORT, defaulting to stdio")
		cfg.MCPTransport = "stdio"
	}

	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, reports will not be persisted")
	}
	if cfg.RedisEnabled && cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set, reports will use the rule-based template")
	}
	if cfg.TelegramBotToken == "" {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set")
	}

	return cfg
}

// Weights returns the composite weights keyed by component name.
func (c *Config) Weights() scoring.Weights {
	return scoring.Weights{
		Technical:   c.WeightTechnical,
		Fundamental: c.WeightFundamental,
		Sentiment:   c.WeightSentiment,
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envInt returns def for unset, malformed or non-positive values.
func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid number, using default")
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envSecs(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
