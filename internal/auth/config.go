package auth

import (
	"fmt"
	"os"
)

const (
	ModeOIDC   = "oidc"
	ModeHeader = "header"
)

// Config selects how callers are validated. ModeHeader trusts an upstream
// proxy to set the owner id header and must not face the internet.
type Config struct {
	Mode     string `toml:"mode"`
	Issuer   string `toml:"issuer"`
	ClientID string `toml:"client_id"`
	JWKSURL  string `toml:"jwks_url"`
	Header   string `toml:"header"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Mode     string
	Issuer   string
	ClientID string
	JWKSURL  string
	Header   string
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
	if overlay.Mode != "" {
		c.Mode = overlay.Mode
	}
	if overlay.Issuer != "" {
		c.Issuer = overlay.Issuer
	}
	if overlay.ClientID != "" {
		c.ClientID = overlay.ClientID
	}
	if overlay.JWKSURL != "" {
		c.JWKSURL = overlay.JWKSURL
	}
	if overlay.Header != "" {
		c.Header = overlay.Header
	}
}

func (c *Config) loadDefaults() {
	if c.Mode == "" {
		c.Mode = ModeOIDC
	}
	if c.Header == "" {
		c.Header = "X-Owner-Id"
	}
}

func (c *Config) loadEnv(env *Env) {
	set := func(name string, dst *string) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	set(env.Mode, &c.Mode)
	set(env.Issuer, &c.Issuer)
	set(env.ClientID, &c.ClientID)
	set(env.JWKSURL, &c.JWKSURL)
	set(env.Header, &c.Header)
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeOIDC:
		if c.Issuer == "" {
			return fmt.Errorf("issuer required for oidc mode")
		}
		if c.ClientID == "" {
			return fmt.Errorf("client_id required for oidc mode")
		}
	case ModeHeader:
		if c.Header == "" {
			return fmt.Errorf("header required for header mode")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Mode)
	}
	return nil
}
