// Package bridge talks to the strategy/broker bridge service over HTTP. One
// client serves the signal, veto, sizing and order endpoints.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Default configuration values.
const (
	DefaultTimeout = 5 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *log.Logger
}

// Client is a resty-based bridge client.
type Client struct {
	http   *resty.Client
	logger *log.Logger
}

// HTTPError is a non-2xx bridge response.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: bridge returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying (5xx, 429, 408).
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

// New creates a Client. Per-call deadlines come from the caller's context;
// Timeout is the upper bound for any single request.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{http: client, logger: logger}
}

// do executes req and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, op, method, path string, req *resty.Request, out interface{}) error {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if resp.IsError() {
		return &HTTPError{Op: op, StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// IsTemporary reports whether err is a retryable bridge failure. Only
// HTTP statuses outside 5xx/429 are final; transport errors, timeouts and
// undecodable bodies are retried since orders carry an idempotency key.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
