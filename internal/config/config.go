// Package config handles application configuration.
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

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds all configuration for the application.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Rate     RateLimitConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Env      string `validate:"required"`
	LogLevel string `validate:"oneof=debug info warn warning error"`
}

// IsDevelopment returns true if the app is running in development mode.
func (a AppConfig) IsDevelopment() bool {
	return a.Env == "development" || a.Env == "dev"
}

// IsProduction returns true if the app is running in production mode.
func (a AppConfig) IsProduction() bool {
	return a.Env == "production" || a.Env == "prod"
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host            string
	Port            int `validate:"min=0,max=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Address returns the server address in host:port format.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds the connection settings for the violation audit store.
type DatabaseConfig struct {
	Host            string
	Port            int `validate:"min=0,max=65535"`
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int `validate:"min=0"`
	MaxIdleConns    int `validate:"min=0"`
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	Password string
	DB       int `validate:"min=0"`
	Prefix   string
	PoolSize int `validate:"min=0"`
}

// Address returns the Redis address in host:port format.
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Store          string `validate:"oneof=redis memory"`
	Hourly         int64  `validate:"min=0"`
	Minute         int64  `validate:"min=0"`
	Second         int64  `validate:"min=0"`
	TrustProxy     bool
	TrustedProxies []string
	ExemptPrefixes []string
	FailOpen       bool
	Headers        bool
	BlockDuration  time.Duration `validate:"min=0"`
	AdminToken     string
	LogErrors      bool
	ReportStack    bool
	LogBurst       int `validate:"min=0"`
}

// Load reads configuration from an optional .env file and environment variables.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}

	// App config
	cfg.App.Env = getEnvOrDefault("APP_ENV", "development")
	cfg.App.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))

	// Server config
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", "0.0.0.0")

	port, err := getEnvAsInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}
	cfg.Server.Port = port

	readTimeout, err := getEnvAsDuration("SERVER_READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_READ_TIMEOUT: %w", err)
	}
	cfg.Server.ReadTimeout = readTimeout

	writeTimeout, err := getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT: %w", err)
	}
	cfg.Server.WriteTimeout = writeTimeout

	shutdownTimeout, err := getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT: %w", err)
	}
	cfg.Server.ShutdownTimeout = shutdownTimeout

	// Database config
	cfg.Database.Host = getEnvOrDefault("DB_HOST", "localhost")
	dbPort, err := getEnvAsInt("DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	cfg.Database.Port = dbPort
	cfg.Database.User = getEnvOrDefault("DB_USER", "ratewarden")
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", "")
	cfg.Database.DBName = getEnvOrDefault("DB_NAME", "ratewarden")
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	maxOpenConns, err := getEnvAsInt("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}
	cfg.Database.MaxOpenConns = maxOpenConns

	maxIdleConns, err := getEnvAsInt("DB_MAX_IDLE_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}
	cfg.Database.MaxIdleConns = maxIdleConns

	connMaxLifetime, err := getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	cfg.Database.ConnMaxLifetime = connMaxLifetime

	// Redis config
	cfg.Redis.Host = getEnvOrDefault("RATE_LIMITER_REDIS_HOST", "127.0.0.1")
	redisPort, err := getEnvAsInt("RATE_LIMITER_REDIS_PORT", 6379)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_REDIS_PORT: %w", err)
	}
	cfg.Redis.Port = redisPort
	cfg.Redis.Password = getEnvOrDefault("RATE_LIMITER_REDIS_PASSWORD", "")
	redisDB, err := getEnvAsInt("RATE_LIMITER_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_REDIS_DB: %w", err)
	}
	cfg.Redis.DB = redisDB
	cfg.Redis.Prefix = getEnvOrDefault("RATE_LIMITER_REDIS_PREFIX", "rate-limiter:")
	redisPoolSize, err := getEnvAsInt("RATE_LIMITER_REDIS_POOL_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_REDIS_POOL_SIZE: %w", err)
	}
	cfg.Redis.PoolSize = redisPoolSize

	// Rate limit config
	cfg.Rate.Store = strings.ToLower(getEnvOrDefault("RATE_LIMITER_STORE", "redis"))

	hourly, err := getEnvAsInt("RATE_LIMITER_LIMIT_HOURLY", 3000)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_LIMIT_HOURLY: %w", err)
	}
	cfg.Rate.Hourly = int64(hourly)

	minute, err := getEnvAsInt("RATE_LIMITER_LIMIT_MINUTE", 60)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_LIMIT_MINUTE: %w", err)
	}
	cfg.Rate.Minute = int64(minute)

	second, err := getEnvAsInt("RATE_LIMITER_LIMIT_SECOND", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_LIMIT_SECOND: %w", err)
	}
	cfg.Rate.Second = int64(second)

	if cfg.Rate.TrustProxy, err = getEnvAsBool("RATE_LIMITER_TRUST_PROXY", false); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_TRUST_PROXY: %w", err)
	}
	cfg.Rate.TrustedProxies = getEnvAsList("RATE_LIMITER_TRUSTED_PROXIES", nil)
	cfg.Rate.ExemptPrefixes = getEnvAsList("RATE_LIMITER_EXEMPT_PREFIXES", []string{"10.0."})

	if cfg.Rate.FailOpen, err = getEnvAsBool("RATE_LIMITER_FAIL_OPEN", false); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_FAIL_OPEN: %w", err)
	}
	if cfg.Rate.Headers, err = getEnvAsBool("RATE_LIMITER_HEADERS", true); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_HEADERS: %w", err)
	}

	blockDuration, err := getEnvAsDuration("RATE_LIMITER_BLOCK_DURATION", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_BLOCK_DURATION: %w", err)
	}
	cfg.Rate.BlockDuration = blockDuration

	cfg.Rate.AdminToken = getEnvOrDefault("RATE_LIMITER_ADMIN_TOKEN", "")

	if cfg.Rate.LogErrors, err = getEnvAsBool("RATE_LIMITER_LOG_ERRORS", true); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_LOG_ERRORS: %w", err)
	}
	if cfg.Rate.ReportStack, err = getEnvAsBool("RATE_LIMITER_REPORT_STACK", false); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_REPORT_STACK: %w", err)
	}

	logBurst, err := getEnvAsInt("RATE_LIMITER_LOG_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMITER_LOG_BURST: %w", err)
	}
	cfg.Rate.LogBurst = logBurst

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DatabaseEnabled returns true if database configuration is provided.
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != "" && c.Database.Password != ""
}

// AdminEnabled returns true if the admin API has a token configured.
func (c *Config) AdminEnabled() bool {
	return c.Rate.AdminToken != ""
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns the environment variable as an integer.
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(valueStr)
}

// getEnvAsDuration returns the environment variable as a duration.
// Bare integers are read as seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(valueStr)
}

// getEnvAsBool returns the environment variable as a boolean.
func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(valueStr)
}

// getEnvAsList splits a comma separated variable, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
