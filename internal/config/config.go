package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	DBUrl     string `envconfig:"DB_URL"`
	JWTSecret string `envconfig:"JWT_SECRET"`
	AppEnv    string `envconfig:"APP_ENV" default:"production"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// Empty disables the Redis relay and the asynq delivery queue.
	RedisURL string `envconfig:"REDIS_URL"`

	MaxMessageLength     int           `envconfig:"MAX_MESSAGE_LENGTH" default:"5000"`
	MaxSearchQueryLength int           `envconfig:"MAX_SEARCH_QUERY_LENGTH" default:"100"`
	NotifyTimeout        time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`
	NotifyMaxRetry       int           `envconfig:"NOTIFY_MAX_RETRY" default:"5"`
	RealtimeQueue        string        `envconfig:"REALTIME_QUEUE" default:"realtime"`
	AsynqConcurrency     int           `envconfig:"ASYNQ_CONCURRENCY" default:"10"`

	ReconcileCron   string `envconfig:"RECONCILE_CRON" default:"*/15 * * * *"`
	ReconcileRepair bool   `envconfig:"RECONCILE_REPAIR" default:"false"`

	WSMessagesPerSecond float64 `envconfig:"WS_MESSAGES_PER_SECOND" default:"5"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found")
	}
	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("MAX_MESSAGE_LENGTH must be positive")
	}
	if cfg.MaxSearchQueryLength <= 0 {
		return nil, fmt.Errorf("MAX_SEARCH_QUERY_LENGTH must be positive")
	}
	if cfg.WSMessagesPerSecond < 0 {
		return nil, fmt.Errorf("WS_MESSAGES_PER_SECOND must not be negative")
	}

	cfg.AppEnv = normalizeEnv(cfg.AppEnv)
	return &cfg, nil
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

func (c *Config) RedisEnabled() bool {
	return c != nil && c.RedisURL != ""
}
