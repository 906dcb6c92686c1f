/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. YAML file (optional, -config flag)
  3. .env file in the working directory (optional)
  4. Process environment
  5. Command-line flags (applied by cmd/server)

ENVIRONMENT:
  PORT, DATABASE_DSN, LOG_LEVEL, LOG_FILE, DEVELOPMENT,
  MAX_BATCH_SIZE, PAGE_SIZE, PUBLISH_TIMEOUT,
  REDIS_URL, REDIS_CHANNEL, OPERATOR_WEBHOOK_URL,
  CORS_ALLOWED_ORIGINS (comma separated), SHUTDOWN_TIMEOUT,
  AUDIT_INTERVAL (0 disables the periodic ledger audit)
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            int           `yaml:"port"`
	DatabaseDSN     string        `yaml:"database_dsn"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Log LogConfig `yaml:"log"`

	MaxBatchSize   int           `yaml:"max_batch_size"`
	PageSize       int           `yaml:"page_size"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`

	RedisURL           string `yaml:"redis_url"`
	RedisChannel       string `yaml:"redis_channel"`
	OperatorWebhookURL string `yaml:"operator_webhook_url"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	AuditInterval time.Duration `yaml:"audit_interval"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Port:               8080,
		DatabaseDSN:        "points.db",
		ShutdownTimeout:    30 * time.Second,
		Log:                LogConfig{Level: "info"},
		MaxBatchSize:       100000,
		PageSize:           50,
		PublishTimeout:     5 * time.Second,
		RedisChannel:       "points:notifications",
		CORSAllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AuditInterval:      time.Hour,
	}
}

// Load reads path (if non-empty), then .env and the environment, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.DatabaseDSN = getEnv("DATABASE_DSN", c.DatabaseDSN)
	c.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	c.Log.Development = getEnvAsBool("DEVELOPMENT", c.Log.Development)

	c.MaxBatchSize = getEnvAsInt("MAX_BATCH_SIZE", c.MaxBatchSize)
	c.PageSize = getEnvAsInt("PAGE_SIZE", c.PageSize)
	c.PublishTimeout = getEnvAsDuration("PUBLISH_TIMEOUT", c.PublishTimeout)

	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.RedisChannel = getEnv("REDIS_CHANNEL", c.RedisChannel)
	c.OperatorWebhookURL = getEnv("OPERATOR_WEBHOOK_URL", c.OperatorWebhookURL)

	if origins, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		c.CORSAllowedOrigins = splitList(origins)
	}

	c.AuditInterval = getEnvAsDuration("AUDIT_INTERVAL", c.AuditInterval)
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required"))
	}
	if c.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BATCH_SIZE must be positive, got %d", c.MaxBatchSize))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize))
	}
	if c.AuditInterval < 0 {
		errs = append(errs, fmt.Errorf("AUDIT_INTERVAL must not be negative, got %s", c.AuditInterval))
	}
	if c.RedisURL != "" && c.RedisChannel == "" {
		errs = append(errs, errors.New("REDIS_CHANNEL is required when REDIS_URL is set"))
	}
	return errors.Join(errs...)
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(name string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
