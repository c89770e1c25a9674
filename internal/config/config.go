/**
 * Configuration for the searchable-PDF worker
 *
 * Loads configuration from environment variables (godotenv is applied by
 * cmd/worker before this runs).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds worker configuration
type Config struct {
	// Document-management API
	DocstoreURL   string
	DocstoreToken string

	// Relation key used for the export relation. No default: the upsert
	// protocol refuses to run without an explicit key.
	ExportRelationKey string

	// Redis / queue configuration
	RedisURL    string
	QueueName   string
	QueueDriver string // "asynq" or "redis"

	// PostgreSQL run ledger
	DatabaseURL string

	// Worker configuration
	WorkerConcurrency int
	RunTimeoutMs      int64

	// Rendering configuration
	RenderDPI      float64
	MaxPageBytes   int64
	RequestsPerSec float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DocstoreURL:       getEnvOrDefault("DOCSTORE_URL", "http://docstore:8080/api/v1"),
		DocstoreToken:     os.Getenv("DOCSTORE_TOKEN"),
		ExportRelationKey: os.Getenv("EXPORT_RELATION_KEY"),
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://redis:6379"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "searchable-pdf:jobs"),
		QueueDriver:       getEnvOrDefault("QUEUE_DRIVER", "redis"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		RunTimeoutMs:      getEnvAsInt64OrDefault("RUN_TIMEOUT", 300000), // 5 minutes
		RenderDPI:         getEnvAsFloatOrDefault("RENDER_DPI", 72),
		MaxPageBytes:      getEnvAsInt64OrDefault("MAX_PAGE_BYTES", 52428800), // 50MB
		RequestsPerSec:    getEnvAsFloatOrDefault("DOCSTORE_RPS", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.DocstoreURL == "" {
		return fmt.Errorf("DOCSTORE_URL is required")
	}

	if c.DocstoreToken == "" {
		return fmt.Errorf("DOCSTORE_TOKEN is required")
	}

	if c.ExportRelationKey == "" {
		return fmt.Errorf("EXPORT_RELATION_KEY is required and has no default")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueDriver != "asynq" && c.QueueDriver != "redis" {
		return fmt.Errorf("QUEUE_DRIVER must be \"asynq\" or \"redis\", got %q", c.QueueDriver)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.RenderDPI < 18 || c.RenderDPI > 1200 {
		return fmt.Errorf("RENDER_DPI must be between 18 and 1200, got %g", c.RenderDPI)
	}

	if c.MaxPageBytes < 1024 {
		return fmt.Errorf("MAX_PAGE_BYTES must be at least 1KB, got %d", c.MaxPageBytes)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
