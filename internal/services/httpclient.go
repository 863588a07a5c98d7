package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

// HTTPClient wraps the standard http.Client with retry logic and configuration
type HTTPClient struct {
	client      *http.Client
	retryConfig lib.RetryConfig
	logger      *lib.Logger
}

// NewHTTPClient creates an HTTP client with timeout and retry configuration
func NewHTTPClient(timeout time.Duration, retryConfig models.RetryConfig, logger *lib.Logger) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		retryConfig: lib.NewRetryConfigFromModel(retryConfig),
		logger:      logger,
	}
}

// Head performs an HTTP HEAD request with retry logic
func (c *HTTPClient) Head(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.Do(req, true)
}

// Do executes an HTTP request, retrying transient failures when retry is set.
// Responses with a non-transient error status are returned to the caller for inspection
func (c *HTTPClient) Do(req *http.Request, retry bool) (*http.Response, error) {
	attempts := c.retryConfig.MaxAttempts
	if !retry || attempts < 1 {
		attempts = 1
	}

	// Body can only be read once
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		_ = req.Body.Close()
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		lib.LogServiceCall(c.logger, req.URL.Host, req.URL.Path, req.Method)

		startTime := time.Now()
		resp, err := c.client.Do(req)
		duration := time.Since(startTime)

		switch {
		case err == nil && !lib.IsTransientHTTPStatus(resp.StatusCode):
			lib.LogServiceResponse(c.logger, req.URL.Host, resp.StatusCode, duration)
			return resp, nil

		case err == nil:
			lib.LogServiceResponse(c.logger, req.URL.Host, resp.StatusCode, duration)
			lastErr = lib.ErrServiceUnavailable(req.URL.Host, resp.StatusCode, nil)
			if attempt == attempts-1 {
				// Let the caller read the final error body
				return resp, nil
			}
			_ = resp.Body.Close()

		case lib.IsNetworkError(err):
			lastErr = lib.ErrNetworkUnreachable(req.URL.String(), err)

		default:
			return nil, err
		}

		if attempt == attempts-1 {
			break
		}

		lib.LogRetry(c.logger, req.URL.String(), attempt, attempts, lastErr)
		backoff := lib.CalculateBackoff(attempt, c.retryConfig.InitialBackoffMs, c.retryConfig.MaxBackoffMs)
		select {
		case <-time.After(backoff):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}
