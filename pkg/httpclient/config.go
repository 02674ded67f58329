package httpclient

import (
	"maps"
	"time"
)

// Config holds the defaults applied to every request a Client sends.
// A Config is copied into the Client at construction and never shared.
type Config struct {
	BaseURL string
	Headers map[string]string
	// Token is sent on every request. With an empty AuthHeader it is sent as
	// "Authorization: Bearer <token>"; otherwise as the raw AuthHeader value.
	Token      string
	AuthHeader string
	Timeout    time.Duration
	// RateLimit caps outbound requests per second. Zero disables throttling.
	RateLimit float64
	Burst     int
	// Parallelism bounds concurrent requests in Parallel. Zero is unbounded.
	Parallelism int
}

// ConfigOption adjusts a Config when deriving a client with With.
type ConfigOption func(*Config)

// WithToken replaces the credential sent on each request.
func WithToken(token string) ConfigOption {
	return func(c *Config) {
		c.Token = token
	}
}

// WithAuthHeader sets the header name used to carry the token.
func WithAuthHeader(name string) ConfigOption {
	return func(c *Config) {
		c.AuthHeader = name
	}
}

// WithBaseURL replaces the base URL requests are resolved against.
func WithBaseURL(url string) ConfigOption {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithHeader adds or replaces a default header.
func WithHeader(key, value string) ConfigOption {
	return func(c *Config) {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		c.Headers[key] = value
	}
}

func (c Config) clone() Config {
	out := c
	out.Headers = maps.Clone(c.Headers)
	return out
}

func (c *Config) loadDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		c.Burst = max(int(c.RateLimit), 1)
	}
}
