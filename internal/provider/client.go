// Package provider implements the REST side of the upstream market-data
// provider: feed authorization, the OAuth code exchange, and the quote,
// history and profile endpoints the relay fronts for its clients.
package provider

import (
	"log/slog"
	"net/http"
	"time"
)

// Client provides access to the provider's REST API. Access tokens are
// per-call arguments because each downstream user brings their own.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	// OAuth app credentials, used only by ExchangeCode.
	clientID     string
	clientSecret string
	redirectURI  string

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAppCredentials sets the OAuth application credentials used when
// exchanging an authorization code for an access token.
func WithAppCredentials(clientID, clientSecret, redirectURI string) ClientOption {
	return func(c *Client) {
		c.clientID = clientID
		c.clientSecret = clientSecret
		c.redirectURI = redirectURI
	}
}
