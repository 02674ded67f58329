package recognition

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/JaimeStill/arbor/pkg/httpclient"
)

// Config holds recognition service connection and retry settings.
type Config struct {
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Timeout       string   `toml:"timeout"`
	RateLimit     float64  `toml:"rate_limit"`
	Burst         int      `toml:"burst"`
	Language      string   `toml:"language"`
	Details       []string `toml:"details"`
	HealthDetails []string `toml:"health_details"`
	MaxRetries    *int     `toml:"max_retries"`
	RetryBackoff  string   `toml:"retry_backoff"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	BaseURL      string
	APIKey       string
	Timeout      string
	RateLimit    string
	Language     string
	MaxRetries   string
	RetryBackoff string
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Retries returns the number of retries after a failed call. Nil means
// the default of 3; an explicit 0 makes one attempt.
func (c *Config) Retries() int {
	if c.MaxRetries == nil {
		return 3
	}
	return max(*c.MaxRetries, 0)
}

// RetryPolicy returns the retry policy applied to recognition calls.
func (c *Config) RetryPolicy() httpclient.RetryPolicy {
	d, err := time.ParseDuration(c.RetryBackoff)
	if err != nil {
		d = time.Second
	}
	return httpclient.RetryPolicy{
		MaxAttempts: c.Retries(),
		BaseDelay:   d,
	}
}

// ClientConfig converts c into the transport configuration. The API key is
// carried in the Api-Key header.
func (c *Config) ClientConfig() httpclient.Config {
	return httpclient.Config{
		BaseURL:    c.BaseURL,
		Token:      c.APIKey,
		AuthHeader: "Api-Key",
		Timeout:    c.TimeoutDuration(),
		RateLimit:  c.RateLimit,
		Burst:      c.Burst,
	}
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.BaseURL != "" {
		c.BaseURL = overlay.BaseURL
	}
	if overlay.APIKey != "" {
		c.APIKey = overlay.APIKey
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.RateLimit != 0 {
		c.RateLimit = overlay.RateLimit
	}
	if overlay.Burst != 0 {
		c.Burst = overlay.Burst
	}
	if overlay.Language != "" {
		c.Language = overlay.Language
	}
	if overlay.Details != nil {
		c.Details = overlay.Details
	}
	if overlay.HealthDetails != nil {
		c.HealthDetails = overlay.HealthDetails
	}
	if overlay.MaxRetries != nil {
		c.MaxRetries = overlay.MaxRetries
	}
	if overlay.RetryBackoff != "" {
		c.RetryBackoff = overlay.RetryBackoff
	}
}

func (c *Config) loadDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://plant.id/api/v3"
	}
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.Details == nil {
		c.Details = []string{"common_names", "url", "description", "taxonomy", "rank", "synonyms", "watering"}
	}
	if c.HealthDetails == nil {
		c.HealthDetails = []string{"local_name", "description", "treatment", "cause", "common_names"}
	}
	if c.RetryBackoff == "" {
		c.RetryBackoff = "1s"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.BaseURL != "" {
		if v := os.Getenv(env.BaseURL); v != "" {
			c.BaseURL = v
		}
	}
	if env.APIKey != "" {
		if v := os.Getenv(env.APIKey); v != "" {
			c.APIKey = v
		}
	}
	if env.Timeout != "" {
		if v := os.Getenv(env.Timeout); v != "" {
			c.Timeout = v
		}
	}
	if env.RateLimit != "" {
		if v := os.Getenv(env.RateLimit); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.RateLimit = f
			}
		}
	}
	if env.Language != "" {
		if v := os.Getenv(env.Language); v != "" {
			c.Language = strings.TrimSpace(v)
		}
	}
	if env.MaxRetries != "" {
		if v := os.Getenv(env.MaxRetries); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxRetries = &n
			}
		}
	}
	if env.RetryBackoff != "" {
		if v := os.Getenv(env.RetryBackoff); v != "" {
			c.RetryBackoff = v
		}
	}
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key required")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if _, err := time.ParseDuration(c.RetryBackoff); err != nil {
		return fmt.Errorf("invalid retry_backoff: %w", err)
	}
	return nil
}
