package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"vitalsdash/internal/errors"

	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Database   DatabaseConfig   `yaml:"database"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Prediction PredictionConfig `yaml:"prediction"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port            string        `yaml:"port"`
	GinMode         string        `yaml:"gin_mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig points at the REST backend producing metric documents
type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit int           `yaml:"rate_limit"` // requests per minute
}

// DatabaseConfig holds database connection settings. An empty URL keeps
// snapshots in memory.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	SnapshotKeep int    `yaml:"snapshot_keep"`
}

// RefreshConfig controls the periodic upstream refresh
type RefreshConfig struct {
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PredictionConfig holds regression settings
type PredictionConfig struct {
	Offset int `yaml:"offset"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used before any file or environment overrides
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			GinMode:         "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout:   10 * time.Second,
			RateLimit: 60,
		},
		Database: DatabaseConfig{
			SnapshotKeep: 20,
		},
		Refresh: RefreshConfig{
			Schedule: "@every 5m",
			Timeout:  30 * time.Second,
		},
		Prediction: PredictionConfig{
			Offset: 12,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and environment variables, in that order of precedence, then
// validates it
func Load() (*Config, error) {
	config := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, config); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", path)
		}
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

func applyEnv(config *Config) {
	config.Server.Port = getEnvOrDefault("PORT", config.Server.Port)
	config.Server.GinMode = getEnvOrDefault("GIN_MODE", config.Server.GinMode)
	config.Server.ShutdownTimeout = getEnvDurationOrDefault("SHUTDOWN_TIMEOUT", config.Server.ShutdownTimeout)

	config.Upstream.BaseURL = getEnvOrDefault("API_BASE_URL", config.Upstream.BaseURL)
	config.Upstream.Token = getEnvOrDefault("API_TOKEN", config.Upstream.Token)
	config.Upstream.Timeout = getEnvDurationOrDefault("API_TIMEOUT", config.Upstream.Timeout)
	config.Upstream.RateLimit = getEnvIntOrDefault("API_RATE_LIMIT", config.Upstream.RateLimit)

	config.Database.URL = getEnvOrDefault("DATABASE_URL", config.Database.URL)
	config.Database.SnapshotKeep = getEnvIntOrDefault("SNAPSHOT_KEEP", config.Database.SnapshotKeep)

	config.Refresh.Schedule = getEnvOrDefault("REFRESH_SCHEDULE", config.Refresh.Schedule)
	config.Refresh.Timeout = getEnvDurationOrDefault("REFRESH_TIMEOUT", config.Refresh.Timeout)

	config.Prediction.Offset = getEnvIntOrDefault("PREDICTION_OFFSET", config.Prediction.Offset)

	config.Log.Level = getEnvOrDefault("LOG_LEVEL", config.Log.Level)
	config.Log.Format = getEnvOrDefault("LOG_FORMAT", config.Log.Format)
}

// Validate checks required fields and ranges
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return errors.ConfigInvalid("API_BASE_URL is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.ConfigInvalid("API_BASE_URL must be an absolute URL")
	}
	if c.Upstream.Timeout <= 0 {
		return errors.ConfigInvalid("API_TIMEOUT must be positive")
	}
	if c.Upstream.RateLimit <= 0 {
		return errors.ConfigInvalid("API_RATE_LIMIT must be positive")
	}
	if c.Server.Port == "" {
		return errors.ConfigInvalid("PORT is required")
	}
	if c.Database.SnapshotKeep < 1 {
		return errors.ConfigInvalid("SNAPSHOT_KEEP must be at least 1")
	}
	if c.Prediction.Offset < 1 {
		return errors.ConfigInvalid("PREDICTION_OFFSET must be at least 1")
	}
	if c.Refresh.Timeout <= 0 {
		return errors.ConfigInvalid("REFRESH_TIMEOUT must be positive")
	}
	return nil
}

// BaseURLWithSlash returns the upstream base URL with exactly one trailing slash
func (c UpstreamConfig) BaseURLWithSlash() string {
	return strings.TrimRight(c.BaseURL, "/") + "/"
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
