package workflow

import (
	"fmt"
	"os"
	"strconv"

	"github.com/JaimeStill/arbor/pkg/formatting"
)

// Config holds workflow settings.
type Config struct {
	SpeciesFolder string `toml:"species_folder"`
	HealthFolder  string `toml:"health_folder"`
	MaxImages     int    `toml:"max_images"`
	MaxImageSize  string `toml:"max_image_size"`
}

// Env maps config fields to environment variable names.
type Env struct {
	SpeciesFolder string
	HealthFolder  string
	MaxImages     string
	MaxImageSize  string
}

// Finalize applies defaults, environment overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.SpeciesFolder != "" {
		c.SpeciesFolder = overlay.SpeciesFolder
	}
	if overlay.HealthFolder != "" {
		c.HealthFolder = overlay.HealthFolder
	}
	if overlay.MaxImages != 0 {
		c.MaxImages = overlay.MaxImages
	}
	if overlay.MaxImageSize != "" {
		c.MaxImageSize = overlay.MaxImageSize
	}
}

// Folders returns the storage folders for each workflow.
func (c *Config) Folders() Folders {
	return Folders{
		Species: c.SpeciesFolder,
		Health:  c.HealthFolder,
	}
}

// Limits returns the request bounds.
func (c *Config) Limits() Limits {
	size, err := formatting.ParseBytes(c.MaxImageSize)
	if err != nil {
		size = 10 * 1024 * 1024
	}
	return Limits{
		MaxImages:    c.MaxImages,
		MaxImageSize: size,
	}
}

func (c *Config) loadDefaults() {
	if c.SpeciesFolder == "" {
		c.SpeciesFolder = "plants"
	}
	if c.HealthFolder == "" {
		c.HealthFolder = "health"
	}
	if c.MaxImages <= 0 {
		c.MaxImages = 5
	}
	if c.MaxImageSize == "" {
		c.MaxImageSize = "10MB"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.SpeciesFolder != "" {
		if v := os.Getenv(env.SpeciesFolder); v != "" {
			c.SpeciesFolder = v
		}
	}
	if env.HealthFolder != "" {
		if v := os.Getenv(env.HealthFolder); v != "" {
			c.HealthFolder = v
		}
	}
	if env.MaxImages != "" {
		if v := os.Getenv(env.MaxImages); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxImages = n
			}
		}
	}
	if env.MaxImageSize != "" {
		if v := os.Getenv(env.MaxImageSize); v != "" {
			c.MaxImageSize = v
		}
	}
}

func (c *Config) validate() error {
	if c.MaxImages < 1 {
		return fmt.Errorf("max_images must be positive")
	}
	if _, err := formatting.ParseBytes(c.MaxImageSize); err != nil {
		return fmt.Errorf("invalid max_image_size: %w", err)
	}
	return nil
}
