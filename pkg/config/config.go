// pkg/config/config.go
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	// Warehouse connection
	Postgres *PostgresConfig

	// Optional staging-warehouse connection for the Snowflake bronze source.
	// Nil when the scheduler supplies records another way.
	Snowflake *SnowflakeConfig

	// Pipeline settings
	Pipeline PipelineConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// PipelineConfig holds tunables of the transformation engine.
type PipelineConfig struct {
	WorkerPoolSize int // 0 means derive from runtime.NumCPU()
	RetryAttempts  int
	RetryDelay     time.Duration

	// Quality policy
	CompletenessThreshold float64 // minimum batch completeness ratio
	ValidityThreshold     float64 // minimum batch validity ratio
	ReportingWindowStart  int     // earliest acceptable reporting year
	ReportingWindowEnd    int     // latest acceptable reporting year
}

// LoadConfig loads configuration from the environment, reading a local .env
// file first when one exists.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; the environment may be set by the scheduler.
	_ = godotenv.Load()

	cfg := &Config{
		Pipeline: PipelineConfig{
			WorkerPoolSize:        getEnvAsInt("WORKER_POOL_SIZE", 0),
			RetryAttempts:         getEnvAsInt("RETRY_ATTEMPTS", 3),
			RetryDelay:            time.Duration(getEnvAsInt("RETRY_DELAY_MS", 500)) * time.Millisecond,
			CompletenessThreshold: getEnvAsFloat("COMPLETENESS_THRESHOLD", 0.7),
			ValidityThreshold:     getEnvAsFloat("VALIDITY_THRESHOLD", 0.7),
			ReportingWindowStart:  getEnvAsInt("REPORTING_WINDOW_START", 2020),
			ReportingWindowEnd:    getEnvAsInt("REPORTING_WINDOW_END", 2030),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	pgConfig, err := LoadPostgresConfig()
	if err != nil {
		return nil, errors.New("failed to load PostgreSQL configuration: " + err.Error())
	}
	cfg.Postgres = pgConfig

	// The Snowflake source is only configured when staging credentials are
	// present.
	if os.Getenv("SNOWFLAKE_USER") != "" {
		snowConfig, err := LoadSnowflakeConfig()
		if err != nil {
			return nil, errors.New("failed to load Snowflake configuration: " + err.Error())
		}
		cfg.Snowflake = snowConfig
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Postgres == nil {
		return errors.New("postgreSQL configuration is required")
	}

	if c.Pipeline.RetryAttempts < 0 {
		return errors.New("retry attempts cannot be negative")
	}

	if c.Pipeline.CompletenessThreshold < 0 || c.Pipeline.CompletenessThreshold > 1 {
		return errors.New("completeness threshold must be within [0,1]")
	}

	if c.Pipeline.ValidityThreshold < 0 || c.Pipeline.ValidityThreshold > 1 {
		return errors.New("validity threshold must be within [0,1]")
	}

	if c.Pipeline.ReportingWindowStart > c.Pipeline.ReportingWindowEnd {
		return errors.New("reporting window start cannot be after its end")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
