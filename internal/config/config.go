package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP
	HTTPPort string `validate:"required,numeric"`

	// Postgres (exceptions, remote writes, telemetry history)
	DBHost     string `validate:"required"`
	DBPort     string `validate:"required,numeric"`
	DBUser     string `validate:"required"`
	DBPassword string
	DBName     string `validate:"required"`
	DBMaxConns int32  `validate:"gte=1"`

	// Redis
	RedisAddr     string `validate:"required,hostname_port"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	// Pipeline channels
	DetectChannelSize  int `validate:"gte=1"`
	StateChannelSize   int `validate:"gte=1"`
	HistoryChannelSize int `validate:"gte=1"`

	// Batch writer tuning
	HistoryBatchSize       int `validate:"gte=1"`
	HistoryFlushIntervalMS int `validate:"gte=1"`

	// Worker counts
	DetectWorkers  int `validate:"gte=1"`
	HistoryWorkers int `validate:"gte=1"`
	StateWorkers   int `validate:"gte=1"`

	// Auth
	AuthCacheTTLSeconds int `validate:"gte=0"`
	ValidAPIKeys        []string

	// Rules
	RulesPath string

	// Outbox
	OutboxPath        string        `validate:"required"`
	OutboxMaxRetries  int           `validate:"gte=1,lte=20"`
	OutboxBackoffUnit time.Duration `validate:"gt=0"`
	SyncInterval      time.Duration `validate:"gt=0"`
	ProbeInterval     time.Duration `validate:"gt=0"`

	// Gateways
	GCSBucket          string
	GCSCredentialsFile string
	ChatWebhookURL     string  `validate:"omitempty,url"`
	ChatRatePerSec     float64 `validate:"gt=0"`
	NotifyTimeoutMS    int     `validate:"gte=1"`

	LogLevel string `validate:"omitempty,oneof=debug info warn warning error"`
}

// Load reads .env when present, then the environment, and validates
// the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:               getEnv("HTTP_PORT", "8001"),
		DBHost:                 getEnv("DB_HOST", "localhost"),
		DBPort:                 getEnv("DB_PORT", "5432"),
		DBUser:                 getEnv("DB_USER", "fleet_user"),
		DBPassword:             getEnv("DB_PASSWORD", "fleet_password"),
		DBName:                 getEnv("DB_NAME", "fleet_monitor"),
		DBMaxConns:             int32(getEnvInt("DB_MAX_CONNS", 15)),
		RedisAddr:              getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisDB:                getEnvInt("REDIS_DB", 0),
		DetectChannelSize:      getEnvInt("DETECT_CHANNEL_SIZE", 10000),
		StateChannelSize:       getEnvInt("STATE_CHANNEL_SIZE", 50000),
		HistoryChannelSize:     getEnvInt("HISTORY_CHANNEL_SIZE", 10000),
		HistoryBatchSize:       getEnvInt("HISTORY_BATCH_SIZE", 500),
		HistoryFlushIntervalMS: getEnvInt("HISTORY_FLUSH_INTERVAL_MS", 100),
		DetectWorkers:          getEnvInt("DETECT_WORKERS", 3),
		HistoryWorkers:         getEnvInt("HISTORY_WORKERS", 2),
		StateWorkers:           getEnvInt("STATE_WORKERS", 2),
		AuthCacheTTLSeconds:    getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:           splitList(getEnv("VALID_API_KEYS", "")),
		RulesPath:              getEnv("RULES_PATH", ""),
		OutboxPath:             getEnv("OUTBOX_PATH", "data/outbox"),
		OutboxMaxRetries:       getEnvInt("OUTBOX_MAX_RETRIES", 3),
		OutboxBackoffUnit:      getEnvDuration("OUTBOX_BACKOFF_UNIT", time.Second),
		SyncInterval:           getEnvDuration("SYNC_INTERVAL", 30*time.Second),
		ProbeInterval:          getEnvDuration("PROBE_INTERVAL", 5*time.Second),
		GCSBucket:              getEnv("GCS_BUCKET", "delivery-photos"),
		GCSCredentialsFile:     getEnv("GCS_CREDENTIALS_FILE", ""),
		ChatWebhookURL:         getEnv("CHAT_WEBHOOK_URL", ""),
		ChatRatePerSec:         getEnvFloat("CHAT_RATE_PER_SEC", 5),
		NotifyTimeoutMS:        getEnvInt("NOTIFY_TIMEOUT_MS", 3000),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBMaxConns,
	)
}

func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutMS) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
