// Package remote holds HTTP clients for the dealer data service and the
// sentiment analyzer.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultBackoff   = 100 * time.Millisecond
	maxErrorBodySize = 4096
)

// APIError represents a non-2xx response from an upstream service.
type APIError struct {
	Service string
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s request failed with status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s request failed (%d): %s", e.Service, e.Status, e.Message)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Option customises client instantiation.
type Option func(*client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRetries sets how many times idempotent requests are retried and the
// initial backoff between attempts.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *client) {
		if n < 0 {
			n = 0
		}
		c.retries = n
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

type client struct {
	service    string
	baseURL    string
	httpClient *http.Client
	retries    int
	backoff    time.Duration
}

func newClient(service, base string, opts ...Option) (*client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return nil, fmt.Errorf("%s base url required", service)
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid %s base url: %w", service, err)
	}
	c := &client{
		service:    service,
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do performs a request, retrying GETs on transport errors and 5xx answers.
func (c *client) do(ctx context.Context, method, path string, body any, v any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var payload []byte
	if body != nil {
		var err error
		if raw, ok := body.(json.RawMessage); ok {
			payload = raw
		} else if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}
	retries := c.retries
	if method != http.MethodGet {
		retries = 0
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(c.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.once(ctx, method, path, payload, v)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *client) once(ctx context.Context, method, path string, payload []byte, v any) error {
	start := time.Now()
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observeUpstream(c.service, method, 0, time.Since(start))
		return transportError{err: fmt.Errorf("perform %s request: %w", c.service, err)}
	}
	defer resp.Body.Close()
	observeUpstream(c.service, method, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Service: c.service, Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", c.service, err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	var tErr transportError
	return errors.As(err, &tErr)
}

// transportError marks failures that happened before a response arrived.
type transportError struct {
	err error
}

func (e transportError) Error() string { return e.err.Error() }

func (e transportError) Unwrap() error { return e.err }

func extractError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	if payload.Error != "" {
		return strings.TrimSpace(payload.Error)
	}
	return strings.TrimSpace(payload.Message)
}
