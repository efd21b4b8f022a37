package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	RateLimit RateLimitConfig
	SLA       SLAConfig
	WebSocket WebSocketConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// RateLimitConfig holds the fixed-window throttling parameters. Identity and
// network-address dimensions each have their own limit and window.
type RateLimitConfig struct {
	IdentityLimit  int64
	IdentityWindow time.Duration
	AddressLimit   int64
	AddressWindow  time.Duration
}

// SLAConfig holds reminder and auto-close delays.
type SLAConfig struct {
	FirstReminder  time.Duration
	SecondReminder time.Duration
	Escalation     time.Duration
	AutoClose      time.Duration
}

// WebSocketConfig controls the realtime gateway.
type WebSocketConfig struct {
	Port              string
	HeartbeatInterval time.Duration
	DeadMultiplier    int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-relay"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		RateLimit: RateLimitConfig{
			IdentityLimit:  int64(getEnvAsInt("RATE_LIMIT_IDENTITY_MAX", 10)),
			IdentityWindow: getEnvAsDuration("RATE_LIMIT_IDENTITY_WINDOW_SECONDS", 60),
			AddressLimit:   int64(getEnvAsInt("RATE_LIMIT_ADDRESS_MAX", 30)),
			AddressWindow:  getEnvAsDuration("RATE_LIMIT_ADDRESS_WINDOW_SECONDS", 60),
		},
		SLA: SLAConfig{
			FirstReminder:  getEnvAsDuration("SLA_FIRST_REMINDER_SECONDS", 900),
			SecondReminder: getEnvAsDuration("SLA_SECOND_REMINDER_SECONDS", 3600),
			Escalation:     getEnvAsDuration("SLA_ESCALATION_SECONDS", 14400),
			AutoClose:      getEnvAsDuration("AUTO_CLOSE_SECONDS", 259200),
		},
		WebSocket: WebSocketConfig{
			Port:              getEnv("WS_PORT", "8081"),
			HeartbeatInterval: getEnvAsDuration("WS_HEARTBEAT_SECONDS", 30),
			DeadMultiplier:    getEnvAsInt("WS_DEAD_MULTIPLIER", 3),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Addr returns the websocket gateway bind address.
func (w WebSocketConfig) Addr(host string) string {
	return fmt.Sprintf("%s:%s", host, w.Port)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallbackSeconds)) * time.Second
}
