package storage

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JaimeStill/arbor/pkg/formatting"
)

const (
	defaultPartSize    = 1024 * 1024
	defaultPartBackoff = time.Second
	defaultRetries     = 3
	defaultURLExpiry   = 24 * time.Hour
)

// Config holds Azure Blob Storage connection parameters and upload tuning.
type Config struct {
	ContainerName    string `toml:"container_name"`
	ConnectionString string `toml:"connection_string"`
	// ServiceURL selects token credential auth (azidentity) when no
	// connection string is configured.
	ServiceURL string `toml:"service_url"`

	PartSize        string `toml:"part_size"`
	MaxRetries      *int   `toml:"max_retries"`
	PartBackoff     string `toml:"part_backoff"`
	Concurrency     int    `toml:"concurrency"`
	SignedURLExpiry string `toml:"signed_url_expiry"`
	CacheSize       int    `toml:"cache_size"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	ContainerName    string
	ConnectionString string
	ServiceURL       string
	PartSize         string
	MaxRetries       string
	PartBackoff      string
	Concurrency      string
	SignedURLExpiry  string
	CacheSize        string
}

// PartSizeBytes returns PartSize in bytes, falling back to 1 MiB.
func (c *Config) PartSizeBytes() int64 {
	size, err := formatting.ParseBytes(c.PartSize)
	if err != nil || size <= 0 {
		return defaultPartSize
	}
	return size
}

// Retries returns how many times a failed part is retried. Nil means the
// default of 3; an explicit 0 disables retry.
func (c *Config) Retries() int {
	if c.MaxRetries == nil {
		return defaultRetries
	}
	return max(*c.MaxRetries, 0)
}

// PartBackoffDuration returns PartBackoff as a time.Duration.
func (c *Config) PartBackoffDuration() time.Duration {
	d, err := time.ParseDuration(c.PartBackoff)
	if err != nil {
		return defaultPartBackoff
	}
	return d
}

// SignedURLExpiryDuration returns SignedURLExpiry as a time.Duration.
func (c *Config) SignedURLExpiryDuration() time.Duration {
	d, err := time.ParseDuration(c.SignedURLExpiry)
	if err != nil || d <= 0 {
		return defaultURLExpiry
	}
	return d
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
	if overlay.ContainerName != "" {
		c.ContainerName = overlay.ContainerName
	}
	if overlay.ConnectionString != "" {
		c.ConnectionString = overlay.ConnectionString
	}
	if overlay.ServiceURL != "" {
		c.ServiceURL = overlay.ServiceURL
	}
	if overlay.PartSize != "" {
		c.PartSize = overlay.PartSize
	}
	if overlay.MaxRetries != nil {
		c.MaxRetries = overlay.MaxRetries
	}
	if overlay.PartBackoff != "" {
		c.PartBackoff = overlay.PartBackoff
	}
	if overlay.Concurrency != 0 {
		c.Concurrency = overlay.Concurrency
	}
	if overlay.SignedURLExpiry != "" {
		c.SignedURLExpiry = overlay.SignedURLExpiry
	}
	if overlay.CacheSize != 0 {
		c.CacheSize = overlay.CacheSize
	}
}

func (c *Config) loadDefaults() {
	if c.ContainerName == "" {
		c.ContainerName = "images"
	}
	if c.PartSize == "" {
		c.PartSize = "1MB"
	}
	if c.PartBackoff == "" {
		c.PartBackoff = "1s"
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.SignedURLExpiry == "" {
		c.SignedURLExpiry = "24h"
	}
	if c.CacheSize == 0 {
		c.CacheSize = 1024
	}
}

func (c *Config) loadEnv(env *Env) {
	setString := func(name string, dst *string) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setIntPtr := func(name string, dst **int) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = &n
			}
		}
	}

	setString(env.ContainerName, &c.ContainerName)
	setString(env.ConnectionString, &c.ConnectionString)
	setString(env.ServiceURL, &c.ServiceURL)
	setString(env.PartSize, &c.PartSize)
	setIntPtr(env.MaxRetries, &c.MaxRetries)
	setString(env.PartBackoff, &c.PartBackoff)
	setInt(env.Concurrency, &c.Concurrency)
	setString(env.SignedURLExpiry, &c.SignedURLExpiry)
	setInt(env.CacheSize, &c.CacheSize)
}

func (c *Config) validate() error {
	if c.ContainerName == "" {
		return fmt.Errorf("container_name required")
	}
	if c.ConnectionString == "" && c.ServiceURL == "" {
		return fmt.Errorf("connection_string or service_url required")
	}
	if size, err := formatting.ParseBytes(c.PartSize); err != nil || size <= 0 {
		return fmt.Errorf("invalid part_size %q", c.PartSize)
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if _, err := time.ParseDuration(c.PartBackoff); err != nil {
		return fmt.Errorf("invalid part_backoff: %w", err)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if _, err := time.ParseDuration(c.SignedURLExpiry); err != nil {
		return fmt.Errorf("invalid signed_url_expiry: %w", err)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("cache_size must be at least 1")
	}
	return nil
}
