package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewCompanyConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Payment     PaymentConfig
	Email       EmailConfig
	Redis       RedisConfig
	Fulfillment FulfillmentConfig
	Scheduler   SchedulerConfig
	RateLimit   RateLimitConfig
	MetricsPush MetricsPushConfig

	CompanyConfigPath string
	SeedDemoCatalog   bool
}

type PaymentConfig struct {
	// SigningSecret keys the HMAC over gateway callbacks. Startup fails when empty.
	SigningSecret string
	TTL           time.Duration
	NodeID        int64
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	TemplateDir  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type FulfillmentConfig struct {
	Queue         string
	AttachmentCap int64
	MaxAttempts   int
	PollInterval  time.Duration
	BatchSize     int
	StorageRoot   string
	LockTTL       time.Duration
	InlineWorker  bool
}

// ObservabilityConfig drives logging, tracing and the OTLP metric exporter.
type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	OTLPEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

// MetricsPushConfig ships the local prometheus registry to a collector.
// Processes without an HTTP listener rely on it to publish metrics.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

func (c MetricsPushConfig) Enabled() bool {
	return strings.TrimSpace(c.Exporter) != "" && strings.TrimSpace(c.Endpoint) != ""
}

type SchedulerConfig struct {
	Enabled           bool
	RunInterval       time.Duration
	BatchSize         int
	RecoveryThreshold time.Duration
	EnabledJobs       []string
}

// RateLimitConfig throttles checkout calls per client IP. Requires redis.
type RateLimitConfig struct {
	Enabled       bool
	CheckoutRate  float64
	CheckoutBurst int
}

const (
	QueueDatabase = "database"
	QueueRedis    = "redis"
)

// DefaultAttachmentCap is the largest total attachment size sent in one delivery email.
const DefaultAttachmentCap int64 = 18 * 1024 * 1024

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "paysettle"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("DEPLOYMENT_ENV", getenv("ENVIRONMENT", "development")),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "paysettle"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		CompanyConfigPath: strings.TrimSpace(getenv("COMPANY_CONFIG_PATH", "")),
		SeedDemoCatalog:   getenvBool("SEED_DEMO_CATALOG", false),
		Observability: ObservabilityConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OTLPEnabled:   getenvBool("OTEL_ENABLED", true),
			OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
			OTLPProtocol:  otlpProtocol(),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Payment: PaymentConfig{
			SigningSecret: strings.TrimSpace(os.Getenv("PAYMENT_SIGNING_SECRET")),
			TTL:           getenvDuration("PAYMENT_TTL", time.Hour),
			NodeID:        getenvInt64("SNOWFLAKE_NODE_ID", 1),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 1025),
			SMTPUsername: strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			SMTPPassword: strings.TrimSpace(getenv("SMTP_PASSWORD", "")),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@paysettle.local"),
			TemplateDir:  strings.TrimSpace(getenv("EMAIL_TEMPLATE_DIR", "")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Fulfillment: FulfillmentConfig{
			Queue:         normalizeQueue(getenv("FULFILLMENT_QUEUE", QueueDatabase)),
			AttachmentCap: getenvInt64("FULFILLMENT_ATTACHMENT_CAP", DefaultAttachmentCap),
			MaxAttempts:   getenvInt("FULFILLMENT_MAX_ATTEMPTS", 5),
			PollInterval:  getenvDuration("FULFILLMENT_POLL_INTERVAL", 2*time.Second),
			BatchSize:     getenvInt("FULFILLMENT_BATCH_SIZE", 10),
			StorageRoot:   getenv("STORAGE_ROOT", "storage"),
			LockTTL:       getenvDuration("FULFILLMENT_LOCK_TTL", 2*time.Minute),
			InlineWorker:  getenvBool("FULFILLMENT_INLINE_WORKER", true),
		},
		Scheduler: SchedulerConfig{
			Enabled:           getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:       getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			BatchSize:         getenvInt("SCHEDULER_BATCH_SIZE", 100),
			RecoveryThreshold: getenvDuration("SCHEDULER_RECOVERY_THRESHOLD", 15*time.Minute),
			EnabledJobs:       getenvList("SCHEDULER_ENABLED_JOBS"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			CheckoutRate:  getenvFloat("RATE_LIMIT_CHECKOUT_RATE", 2),
			CheckoutBurst: getenvInt("RATE_LIMIT_CHECKOUT_BURST", 10),
		},
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", time.Minute),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// otlpProtocol lets the traces-specific variable override the shared one.
func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return strings.ToLower(strings.TrimSpace(protocol))
}

func normalizeQueue(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case QueueRedis:
		return QueueRedis
	default:
		return QueueDatabase
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
