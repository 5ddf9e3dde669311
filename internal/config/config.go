package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Logging     LoggingConfig
	Pipeline    PipelineConfig
	Correlation CorrelationConfig
	Suppression SuppressionConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Environment     string
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// For SQLite
	Path string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// PipelineConfig contains dispatch pipeline configuration
type PipelineConfig struct {
	QueueSize          int
	Workers            int
	ChannelConcurrency int
	ChannelSendsPerSec float64
	SendTimeout        time.Duration
	DefaultMaxRetries  int
	RetrySweepSchedule string
	MaxRetryAge        time.Duration
}

// CorrelationConfig contains correlation/dedup engine configuration
type CorrelationConfig struct {
	Interval         time.Duration
	Window           time.Duration
	SampleLimit      int
	DedupThreshold   float64
	EdgeThreshold    float64
	TextSimThreshold float64
	AutoResolveAfter time.Duration
	TopologyPath     string
}

// SuppressionConfig contains suppression engine configuration
type SuppressionConfig struct {
	CacheRefresh time.Duration
	LogQueueSize int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors as it's optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			Environment:     getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "alarmd"),
			User:            getEnv("DB_USER", "alarmd"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			Path:            getEnv("DB_PATH", "alarmd.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Pipeline: PipelineConfig{
			QueueSize:          getEnvAsInt("PIPELINE_QUEUE_SIZE", 1000),
			Workers:            getEnvAsInt("PIPELINE_WORKERS", 3),
			ChannelConcurrency: getEnvAsInt("PIPELINE_CHANNEL_CONCURRENCY", 3),
			ChannelSendsPerSec: getEnvAsFloat("PIPELINE_CHANNEL_SENDS_PER_SEC", 5),
			SendTimeout:        getEnvAsDuration("PIPELINE_SEND_TIMEOUT", 30*time.Second),
			DefaultMaxRetries:  getEnvAsInt("PIPELINE_DEFAULT_MAX_RETRIES", 3),
			RetrySweepSchedule: getEnv("PIPELINE_RETRY_SWEEP_SCHEDULE", "@every 5m"),
			MaxRetryAge:        getEnvAsDuration("PIPELINE_MAX_RETRY_AGE", 6*time.Hour),
		},
		Correlation: CorrelationConfig{
			Interval:         getEnvAsDuration("CORRELATION_INTERVAL", 60*time.Second),
			Window:           getEnvAsDuration("CORRELATION_WINDOW", time.Hour),
			SampleLimit:      getEnvAsInt("CORRELATION_SAMPLE_LIMIT", 100),
			DedupThreshold:   getEnvAsFloat("CORRELATION_DEDUP_THRESHOLD", 0.8),
			EdgeThreshold:    getEnvAsFloat("CORRELATION_EDGE_THRESHOLD", 0.3),
			TextSimThreshold: getEnvAsFloat("CORRELATION_TEXT_SIM_THRESHOLD", 0.7),
			AutoResolveAfter: getEnvAsDuration("CORRELATION_AUTO_RESOLVE_AFTER", 24*time.Hour),
			TopologyPath:     getEnv("CORRELATION_TOPOLOGY_PATH", "topology.yaml"),
		},
		Suppression: SuppressionConfig{
			CacheRefresh: getEnvAsDuration("SUPPRESSION_CACHE_REFRESH", 60*time.Second),
			LogQueueSize: getEnvAsInt("SUPPRESSION_LOG_QUEUE_SIZE", 256),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be at least 1")
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline queue size must be at least 1")
	}
	if c.Correlation.DedupThreshold <= 0 || c.Correlation.DedupThreshold > 1 {
		return fmt.Errorf("dedup threshold must be in (0, 1]")
	}
	return nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
