package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBMetricsEnabled  bool

	Auth         AuthConfig
	Push         PushConfig
	Dispatcher   DispatcherConfig
	RateLimit    RateLimitConfig
	QStash       QStashConfig
	AgentWebhook AgentWebhookConfig
	MetricsPush  MetricsPushConfig
}

// ObservabilityConfig covers logging and OpenTelemetry export.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64
	DBSlowQuery       time.Duration
}

// AuthConfig configures verification of identity provider tokens.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// PushConfig carries the VAPID key pair and delivery tuning.
type PushConfig struct {
	VAPIDSubject    string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTLSeconds      int
	Urgency         string
	Timeout         time.Duration
}

type DispatcherConfig struct {
	Enabled           bool
	RunInterval       time.Duration
	BatchSize         int
	JobConcurrency    int
	FanOutConcurrency int
	JobTimeout        time.Duration
	LockTTL           time.Duration
	PolicyFile        string
	TriggerToken      string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WebhookTenantRate  float64
	WebhookTenantBurst int
}

type QStashConfig struct {
	CurrentSigningKey string
	NextSigningKey    string
	URL               string
}

// AgentWebhookConfig holds the fallback shared secret for agent webhooks.
// Per-agent secrets are looked up as AGENT_WEBHOOK_SECRET_<agentId>.
type AgentWebhookConfig struct {
	DefaultSecret string
	lookup        func(string) string
}

type MetricsPushConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "pushrelay"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            int64(getenvInt("NODE_ID", 1)),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "pushrelay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "pushrelay.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		DBMetricsEnabled:  getenvBool("DATABASE_METRICS_ENABLED", false),
		Observability: ObservabilityConfig{
			LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:         strings.ToLower(getenv("LOG_FORMAT", "json")),
			OtelEnabled:       getenvBool("OTEL_ENABLED", false),
			OtelEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol:      strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			DBSlowQuery:       getenvDuration("DATABASE_SLOW_QUERY", 200*time.Millisecond),
		},
		Auth: AuthConfig{
			JWTSecret:   strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			JWTIssuer:   strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
			JWTAudience: strings.TrimSpace(getenv("AUTH_JWT_AUDIENCE", "")),
		},
		Push: PushConfig{
			VAPIDSubject:    strings.TrimSpace(getenv("VAPID_SUBJECT", "")),
			VAPIDPublicKey:  strings.TrimSpace(getenv("VAPID_PUBLIC_KEY", "")),
			VAPIDPrivateKey: strings.TrimSpace(getenv("VAPID_PRIVATE_KEY", "")),
			TTLSeconds:      getenvInt("PUSH_TTL_SECONDS", 60),
			Urgency:         strings.ToLower(getenv("PUSH_URGENCY", "normal")),
			Timeout:         getenvDuration("PUSH_TIMEOUT", 10*time.Second),
		},
		Dispatcher: DispatcherConfig{
			Enabled:           getenvBool("DISPATCHER_ENABLED", true),
			RunInterval:       getenvDuration("DISPATCHER_RUN_INTERVAL", 5*time.Second),
			BatchSize:         getenvInt("DISPATCHER_BATCH_SIZE", 50),
			JobConcurrency:    getenvInt("DISPATCHER_JOB_CONCURRENCY", 4),
			FanOutConcurrency: getenvInt("DISPATCHER_FANOUT_CONCURRENCY", 8),
			JobTimeout:        getenvDuration("DISPATCHER_JOB_TIMEOUT", time.Minute),
			LockTTL:           getenvDuration("DISPATCHER_LOCK_TTL", 30*time.Second),
			PolicyFile:        strings.TrimSpace(getenv("DISPATCH_POLICY_FILE", "")),
			TriggerToken:      strings.TrimSpace(getenv("DISPATCH_TOKEN", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:            getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:          strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:      getenv("REDIS_PASSWORD", ""),
			RedisDB:            getenvInt("REDIS_DB", 0),
			WebhookTenantRate:  getenvFloat("RATE_LIMIT_WEBHOOK_TENANT_RATE", 5),
			WebhookTenantBurst: getenvInt("RATE_LIMIT_WEBHOOK_TENANT_BURST", 20),
		},
		QStash: QStashConfig{
			CurrentSigningKey: strings.TrimSpace(getenv("QSTASH_CURRENT_SIGNING_KEY", "")),
			NextSigningKey:    strings.TrimSpace(getenv("QSTASH_NEXT_SIGNING_KEY", "")),
			URL:               strings.TrimSpace(getenv("QSTASH_DESTINATION_URL", "")),
		},
		AgentWebhook: AgentWebhookConfig{
			DefaultSecret: getenv("AGENT_WEBHOOK_SECRET", ""),
			lookup:        os.Getenv,
		},
		MetricsPush: MetricsPushConfig{
			Enabled:   getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// SecretFor returns the shared webhook secret for the given agent, preferring
// the agent-specific variable over the default.
func (c AgentWebhookConfig) SecretFor(agentID string) string {
	agentID = strings.TrimSpace(agentID)
	if c.lookup != nil && agentID != "" {
		if v := strings.TrimSpace(c.lookup("AGENT_WEBHOOK_SECRET_" + agentID)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.DefaultSecret)
}

// WithSecretLookup returns a copy that resolves per-agent secrets through fn.
func (c AgentWebhookConfig) WithSecretLookup(fn func(string) string) AgentWebhookConfig {
	c.lookup = fn
	return c
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
