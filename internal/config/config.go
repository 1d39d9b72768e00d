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

	OTLPEndpoint string

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

	Stripe StripeConfig
	Email  EmailConfig
	Redis  RedisConfig
	AMQP   AMQPConfig
	Admin  AdminConfig

	Scheduler SchedulerConfig
}

type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	// WebhookTolerance bounds the age of a signed delivery.
	WebhookTolerance time.Duration
}

type EmailConfig struct {
	Provider     string
	From         string
	ResendAPIKey string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

func (c AMQPConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// AdminConfig maps static bearer tokens to roles, e.g. "tok1:operator,tok2:viewer".
type AdminConfig struct {
	Tokens map[string]string
}

type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	EnabledJobs []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "billmirror"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       getenvInt64("SNOWFLAKE_NODE_ID", 1),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billmirror"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		Stripe: StripeConfig{
			APIKey:           strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance: time.Duration(getenvInt64("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second,
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(strings.TrimSpace(getenv("EMAIL_PROVIDER", "noop"))),
			From:         getenv("EMAIL_FROM", "billing@localhost"),
			ResendAPIKey: strings.TrimSpace(getenv("RESEND_API_KEY", "")),
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     int(getenvInt64("SMTP_PORT", 587)),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
			LockTTL:  time.Duration(getenvInt64("EVENT_LOCK_TTL_SECONDS", 120)) * time.Second,
		},
		AMQP: AMQPConfig{
			URL:      strings.TrimSpace(getenv("AMQP_URL", "")),
			Exchange: getenv("AMQP_EXCHANGE", "billing.notifications"),
		},
		Admin: AdminConfig{
			Tokens: parseTokens(getenv("ADMIN_TOKENS", "")),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", false),
			Interval:    time.Duration(getenvInt64("SCHEDULER_INTERVAL_SECONDS", 300)) * time.Second,
			BatchSize:   int(getenvInt64("SCHEDULER_BATCH_SIZE", 50)),
			EnabledJobs: parseList(getenv("SCHEDULER_JOBS", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
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

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseTokens(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range parseList(raw) {
		token, role, ok := strings.Cut(pair, ":")
		token = strings.TrimSpace(token)
		role = strings.TrimSpace(role)
		if !ok || token == "" || role == "" {
			continue
		}
		out[token] = role
	}
	return out
}
