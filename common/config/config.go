package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EngineConfig holds execution engine settings
type EngineConfig struct {
	Workers          int           // worker goroutines consuming job lanes
	MaxRetries       int           // default per-run retry budget
	RetryDelay       time.Duration // backoff seed for retries
	NodeTimeout      time.Duration // default per-node execution timeout
	RunTimeout       time.Duration // inactivity bound for a whole run
	CancelGrace      time.Duration // wait for strategies to honor cancellation
	LaneWatermark    int           // per-lane in-flight count before backpressure
	ContextRetention time.Duration // how long terminal contexts are kept
	SchedulerTick    time.Duration // scheduled-event dispatcher interval
	Timezone         string        // default cron timezone
}

// WebhookConfig holds inbound webhook verification secrets
type WebhookConfig struct {
	MetaAppSecret         string
	MetaVerifyToken       string
	SlackSigningSecret    string
	TwitterConsumerSecret string
	SlackSkewWindow       time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "flowgrid"),
			User:        getEnv("POSTGRES_USER", "flowgrid"),
			Password:    getEnv("POSTGRES_PASSWORD", "flowgrid"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			Workers:          getEnvInt("ENGINE_WORKERS", 8),
			MaxRetries:       getEnvInt("ENGINE_MAX_RETRIES", 3),
			RetryDelay:       getEnvDuration("ENGINE_RETRY_DELAY", 2*time.Second),
			NodeTimeout:      getEnvDuration("ENGINE_NODE_TIMEOUT", 5*time.Minute),
			RunTimeout:       getEnvDuration("ENGINE_RUN_TIMEOUT", 30*time.Minute),
			CancelGrace:      getEnvDuration("ENGINE_CANCEL_GRACE", 5*time.Second),
			LaneWatermark:    getEnvInt("ENGINE_LANE_WATERMARK", 1000),
			ContextRetention: getEnvDuration("ENGINE_CONTEXT_RETENTION", 10*time.Minute),
			SchedulerTick:    getEnvDuration("SCHEDULER_TICK", 15*time.Second),
			Timezone:         getEnv("SCHEDULER_TIMEZONE", "UTC"),
		},
		Webhook: WebhookConfig{
			MetaAppSecret:         getEnv("META_APP_SECRET", ""),
			MetaVerifyToken:       getEnv("META_VERIFY_TOKEN", ""),
			SlackSigningSecret:    getEnv("SLACK_SIGNING_SECRET", ""),
			TwitterConsumerSecret: getEnv("TWITTER_CONSUMER_SECRET", ""),
			SlackSkewWindow:       getEnvDuration("SLACK_SKEW_WINDOW", 5*time.Minute),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine workers must be >= 1")
	}

	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
