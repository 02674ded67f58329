package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/internal/recognition"
	"github.com/JaimeStill/arbor/internal/workflow"
	"github.com/JaimeStill/arbor/pkg/database"
	"github.com/JaimeStill/arbor/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvArborEnv             = "ARBOR_ENV"
	EnvArborShutdownTimeout = "ARBOR_SHUTDOWN_TIMEOUT"
	EnvArborVersion         = "ARBOR_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "ARBOR_DB_HOST",
	Port:            "ARBOR_DB_PORT",
	Name:            "ARBOR_DB_NAME",
	User:            "ARBOR_DB_USER",
	Password:        "ARBOR_DB_PASSWORD",
	SSLMode:         "ARBOR_DB_SSL_MODE",
	ApplicationName: "ARBOR_DB_APPLICATION_NAME",
	MaxOpenConns:    "ARBOR_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "ARBOR_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "ARBOR_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "ARBOR_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	ContainerName:    "ARBOR_STORAGE_CONTAINER_NAME",
	ConnectionString: "ARBOR_STORAGE_CONNECTION_STRING",
	ServiceURL:       "ARBOR_STORAGE_SERVICE_URL",
	PartSize:         "ARBOR_STORAGE_PART_SIZE",
	MaxRetries:       "ARBOR_STORAGE_MAX_RETRIES",
	PartBackoff:      "ARBOR_STORAGE_PART_BACKOFF",
	Concurrency:      "ARBOR_STORAGE_CONCURRENCY",
	SignedURLExpiry:  "ARBOR_STORAGE_SIGNED_URL_EXPIRY",
	CacheSize:        "ARBOR_STORAGE_CACHE_SIZE",
}

var recognitionEnv = &recognition.Env{
	BaseURL:      "ARBOR_RECOGNITION_BASE_URL",
	APIKey:       "ARBOR_RECOGNITION_API_KEY",
	Timeout:      "ARBOR_RECOGNITION_TIMEOUT",
	RateLimit:    "ARBOR_RECOGNITION_RATE_LIMIT",
	Language:     "ARBOR_RECOGNITION_LANGUAGE",
	MaxRetries:   "ARBOR_RECOGNITION_MAX_RETRIES",
	RetryBackoff: "ARBOR_RECOGNITION_RETRY_BACKOFF",
}

var authEnv = &auth.Env{
	Mode:     "ARBOR_AUTH_MODE",
	Issuer:   "ARBOR_AUTH_ISSUER",
	ClientID: "ARBOR_AUTH_CLIENT_ID",
	JWKSURL:  "ARBOR_AUTH_JWKS_URL",
	Header:   "ARBOR_AUTH_HEADER",
}

var workflowEnv = &workflow.Env{
	SpeciesFolder: "ARBOR_WORKFLOW_SPECIES_FOLDER",
	HealthFolder:  "ARBOR_WORKFLOW_HEALTH_FOLDER",
	MaxImages:     "ARBOR_WORKFLOW_MAX_IMAGES",
	MaxImageSize:  "ARBOR_WORKFLOW_MAX_IMAGE_SIZE",
}

// Config is the root configuration for the Arbor service.
type Config struct {
	Server          ServerConfig       `toml:"server"`
	Database        database.Config    `toml:"database"`
	Storage         storage.Config     `toml:"storage"`
	Recognition     recognition.Config `toml:"recognition"`
	Auth            auth.Config        `toml:"auth"`
	Workflow        workflow.Config    `toml:"workflow"`
	API             APIConfig          `toml:"api"`
	Logging         LoggingConfig      `toml:"logging"`
	ShutdownTimeout string             `toml:"shutdown_timeout"`
	Version         string             `toml:"version"`
}

// Env returns the ARBOR_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvArborEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Recognition.Merge(&overlay.Recognition)
	c.Auth.Merge(&overlay.Auth)
	c.Workflow.Merge(&overlay.Workflow)
	c.API.Merge(&overlay.API)
	c.Logging.Merge(&overlay.Logging)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Recognition.Finalize(recognitionEnv); err != nil {
		return fmt.Errorf("recognition: %w", err)
	}
	if err := c.Auth.Finalize(authEnv); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Workflow.Finalize(workflowEnv); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Logging.Finalize(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvArborShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvArborVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvArborEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
