// Package httputil provides the outbound HTTP client used for
// service-to-service calls, with correlation-id propagation and a
// client-side rate limit.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vesselkit/vessel/internal/logging"
	"github.com/vesselkit/vessel/internal/requestid"
)

// =============================================================================
// Client
// =============================================================================

// Client wraps http.Client for calls to peer services. Every request
// carries the correlation chain of the inbound request that triggered it,
// extended by one hop, and passes through a shared token-bucket limiter so
// a hot loop cannot flood a dependency.
type Client struct {
	httpClient *http.Client
	propagator *requestid.Propagator
	limiter    *rate.Limiter
	baseURL    string
	userAgent  string
	maxRetries int
	log        *logging.Logger
}

// ClientConfig configures the outbound client.
type ClientConfig struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RatePerSec caps outbound request rate; zero disables the limiter.
	RatePerSec float64
	Burst      int
	Propagator *requestid.Propagator
	Logger     *logging.Logger
}

// NewClient creates an outbound client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RatePerSec)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		propagator: cfg.Propagator,
		limiter:    limiter,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		maxRetries: maxRetries,
		log:        log,
	}
}

// Do executes a request against the peer service. A JSON body is marshaled
// automatically; the context's correlation id is forwarded with a new hop
// appended.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	return c.doWithRetry(ctx, method, path, body, 0)
}

// doWithRetry retries transient upstream failures with a short backoff.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body any, attempt int) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("outbound rate limit wait: %w", err)
		}
	}

	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Forward the correlation chain with our own hop appended.
	if c.propagator != nil {
		current := logging.GetRequestID(ctx)
		req.Header.Set(c.propagator.Header(), requestid.Outbound(current))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if transient(resp.StatusCode) && attempt < c.maxRetries {
		resp.Body.Close()
		c.log.WithContext(ctx).WithFields(map[string]any{
			"status":  resp.StatusCode,
			"attempt": attempt + 1,
			"path":    path,
		}).Debug("retrying transient upstream failure")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
		return c.doWithRetry(ctx, method, path, body, attempt+1)
	}

	return resp, nil
}

func transient(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// DecodeResponse decodes a JSON response into the target struct. Error
// statuses surface the (truncated) upstream body in the returned error.
func DecodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, msg)
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// ReadAllWithLimit reads at most limit bytes and reports whether the body
// was truncated.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// ReadAllStrict reads the body and errors if it exceeds limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	body, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("response body exceeds %d byte limit", limit)
	}
	return body, nil
}
