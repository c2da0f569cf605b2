package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finverse/feedrelay/internal/version"
)

// APIError represents an error response from the provider API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// doRequest performs a single HTTP request. token may be empty for
// unauthenticated calls; form non-nil makes it a form-encoded body.
func (c *Client) doRequest(ctx context.Context, method, path, token string, query, form url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
	}

	return respBody, nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, method, path, token string, query, form url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, method, path, token, query, form)
		if err == nil {
			return body, nil
		}

		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// get performs an authenticated GET request with retries.
func (c *Client) get(ctx context.Context, path, token string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, token, query, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// postForm performs a form-encoded POST request with retries.
func (c *Client) postForm(ctx context.Context, path string, form url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodPost, path, "", nil, form)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
