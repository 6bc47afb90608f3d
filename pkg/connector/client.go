// Package connector is the single point through which every outbound call
// to an external enterprise system passes. Domain connectors (payables,
// regulatory, analytics) are thin typed façades over Client; they never
// implement their own transport, so timeout and error-shape policy stays
// centralized here.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cleargrid-labs/conductor/pkg/guard"
)

// Config holds the per-tenant transport configuration for one external
// system.
type Config struct {
	Endpoint     string            `json:"endpoint" yaml:"endpoint"`
	APIKey       string            `json:"apiKey" yaml:"api_key"`
	TenantID     string            `json:"tenantId" yaml:"tenant_id"`
	ExtraHeaders map[string]string `json:"extraHeaders" yaml:"extra_headers"`
	Timeout      time.Duration     `json:"timeoutMs" yaml:"timeout_ms"`
}

// Client is a generic authenticated JSON-over-HTTP transport. Each call
// runs under a timeout guard; the guard abandons an overrunning round trip
// rather than cancelling it.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRateLimit bounds the outbound request rate to the external system.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// NewClient creates a connector client from cfg. The endpoint is required
// and must be an absolute URL.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("connector: endpoint is required")
	}
	parsed, err := url.Parse(cfg.Endpoint)
	if err != nil || !parsed.IsAbs() {
		return nil, fmt.Errorf("connector: invalid endpoint %q", cfg.Endpoint)
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}

	c := &Client{
		cfg: cfg,
		// No transport-level timeout: the guard owns the deadline and an
		// abandoned call is left to finish on its own goroutine.
		http:   &http.Client{},
		logger: slog.Default().With("component", "connector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint reports the configured base endpoint.
func (c *Client) Endpoint() string { return c.cfg.Endpoint }

// Get issues a GET to path with optional query parameters, decoding the
// JSON response into out when out is non-nil.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON-encoded body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT with a JSON-encoded body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("connector: rate limiter: %w", err)
		}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("connector: marshal request body: %w", err)
		}
	}

	start := time.Now()
	raw, err := guard.Do(ctx, c.cfg.Timeout, func(ctx context.Context) ([]byte, error) {
		return c.roundTrip(ctx, method, path, query, payload)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "connector call failed",
			"method", method,
			"path", path,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return err
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("connector: decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	target := strings.TrimRight(c.cfg.Endpoint, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("connector: create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.TenantID != "" {
		req.Header.Set("X-Tenant-ID", c.cfg.TenantID)
	}
	for k, v := range c.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connector: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("connector: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyText := string(raw)
		if len(bodyText) > maxErrorBody {
			bodyText = bodyText[:maxErrorBody]
		}
		return nil, &TransportError{
			Status: resp.StatusCode,
			Body:   bodyText,
			Method: method,
			Path:   path,
		}
	}
	return raw, nil
}
