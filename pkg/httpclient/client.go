// Package httpclient provides a resilient JSON-over-HTTP client with a
// normalized error taxonomy, header redaction for logging, retry with
// exponential backoff, and independent-failure parallel batches.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Request describes a single outbound call. Path is resolved against the
// client's BaseURL unless it is an absolute URL.
type Request struct {
	Method string
	Path   string
	// Body is JSON-encoded unless it is a []byte, string, or io.Reader.
	Body   any
	Query  url.Values
	Header map[string]string
}

// Response is a fully read remote response with a non-error status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Observation reports the outcome of a single attempt to an Observer.
type Observation struct {
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Option configures client construction.
type Option func(*Client)

// WithHTTPClient uses a copy of hc as the underlying *http.Client. The
// copy's Timeout is set from Config.Timeout; hc itself is not modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.http = &cp
	}
}

// WithObserver registers a callback invoked after every attempt.
func WithObserver(fn func(Observation)) Option {
	return func(c *Client) {
		c.observer = fn
	}
}

// Client sends requests using an immutable copy of its Config.
type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	limiter  *rate.Limiter
	observer func(Observation)
	logger   *slog.Logger
}

// New creates a Client from cfg. It returns a *ConfigError when the base URL
// cannot be parsed.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	cfg = cfg.clone()
	cfg.loadDefaults()

	var base *url.URL
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, &ConfigError{Err: fmt.Errorf("invalid base url %q", cfg.BaseURL)}
		}
		base = u
	}

	c := &Client{
		cfg:    cfg,
		base:   base,
		http:   &http.Client{},
		logger: logger.With("system", "httpclient"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.http.Timeout = cfg.Timeout

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}

	return c, nil
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() Config {
	return c.cfg.clone()
}

// With derives a new client whose configuration is the receiver's with opts
// applied. The receiver is not modified. The derived client shares the
// underlying transport and rate limiter.
func (c *Client) With(opts ...ConfigOption) (*Client, error) {
	cfg := c.cfg.clone()
	for _, opt := range opts {
		opt(&cfg)
	}

	derived, err := New(cfg, c.logger, WithHTTPClient(&http.Client{Transport: c.http.Transport}))
	if err != nil {
		return nil, err
	}
	derived.observer = c.observer
	if c.limiter != nil && cfg.RateLimit == c.cfg.RateLimit {
		derived.limiter = c.limiter
	}
	return derived, nil
}

// Do sends req and returns the response. Failures are always one of
// *ResponseError, *TransportError, *ConfigError, or *UnknownError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		return nil, &ConfigError{Err: errors.New("nil context")}
	}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	c.logRequest(ctx, httpReq)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{
				Method: httpReq.Method,
				URL:    displayURL(httpReq.URL),
				Err:    err,
			}
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		terr := &TransportError{
			Method: httpReq.Method,
			URL:    displayURL(httpReq.URL),
			Err:    err,
		}
		c.observe(httpReq, 0, time.Since(start), terr)
		return nil, terr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		terr := &TransportError{
			Method: httpReq.Method,
			URL:    displayURL(httpReq.URL),
			Err:    fmt.Errorf("read body: %w", err),
		}
		c.observe(httpReq, resp.StatusCode, time.Since(start), terr)
		return nil, terr
	}

	if resp.StatusCode >= http.StatusBadRequest {
		rerr := &ResponseError{
			Method:     httpReq.Method,
			URL:        displayURL(httpReq.URL),
			StatusCode: resp.StatusCode,
			Body:       body,
		}
		c.observe(httpReq, resp.StatusCode, time.Since(start), rerr)
		return nil, rerr
	}

	c.observe(httpReq, resp.StatusCode, time.Since(start), nil)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// DoWithRetry sends req under policy, retrying transient failures.
func (c *Client) DoWithRetry(ctx context.Context, req Request, policy RetryPolicy) (*Response, error) {
	return Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		return c.Do(ctx, req)
	})
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	body, isJSON, err := encodeBody(req.Body)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	httpReq.Header.Set("Accept", "application/json")
	if isJSON {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	if c.cfg.Token != "" {
		if c.cfg.AuthHeader != "" {
			httpReq.Header.Set(c.cfg.AuthHeader, c.cfg.Token)
		} else {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		}
	}

	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	var u *url.URL

	if abs, err := url.Parse(path); err == nil && abs.IsAbs() {
		u = abs
	} else {
		if c.base == nil {
			return "", fmt.Errorf("relative path %q without base url", path)
		}
		joined := *c.base
		joined.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
		joined.RawPath = ""
		u = &joined
	}

	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

func (c *Client) logRequest(ctx context.Context, req *http.Request) {
	defer func() {
		// logging is best-effort and must never fail the request
		_ = recover()
	}()

	c.logger.DebugContext(
		ctx, "outbound request",
		"method", req.Method,
		"url", displayURL(req.URL),
		"headers", SanitizeHeaders(req.Header),
	)
}

func (c *Client) observe(req *http.Request, status int, d time.Duration, err error) {
	if c.observer == nil {
		return
	}

	defer func() {
		_ = recover()
	}()

	c.observer(Observation{
		Method:     req.Method,
		Path:       req.URL.Path,
		StatusCode: status,
		Duration:   d,
		Err:        err,
	})
}

func encodeBody(body any) ([]byte, bool, error) {
	switch b := body.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return b, false, nil
	case string:
		return []byte(b), false, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, false, fmt.Errorf("read body: %w", err)
		}
		return data, false, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, false, fmt.Errorf("encode body: %w", err)
		}
		return data, true, nil
	}
}

func displayURL(u *url.URL) string {
	return u.Scheme + "://" + u.Host + u.Path
}
