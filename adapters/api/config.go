package api

import (
	"fmt"
	"net/url"
	"time"
)

// ClientConfig holds configuration for the upstream metrics client
type ClientConfig struct {
	BaseURL   string        `json:"base_url"`
	Token     string        `json:"-"`
	UserAgent string        `json:"user_agent"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per minute
}

// DefaultClientConfig returns sensible defaults for baseURL
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:   baseURL,
		UserAgent: "vitalsdash/1.0",
		Timeout:   10 * time.Second,
		RateLimit: 60,
	}
}

// Validate checks if the configuration is valid
func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ValidationError{Field: "BaseURL", Message: "must be an absolute URL"}
	}

	if c.Timeout <= 0 {
		return &ValidationError{Field: "Timeout", Message: "must be positive"}
	}

	if c.RateLimit <= 0 {
		return &ValidationError{Field: "RateLimit", Message: "must be positive"}
	}

	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}
