package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/finverse/feedrelay/internal/model"
)

type authorizeResponse struct {
	Status string `json:"status"`
	Data   struct {
		AuthorizedRedirectURI string `json:"authorized_redirect_uri"`
	} `json:"data"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type profileResponse struct {
	Status string        `json:"status"`
	Data   model.Profile `json:"data"`
}

// AuthorizeFeed requests a one-time authorized websocket endpoint for the
// streaming feed. The returned URL embeds the session grant; connecting to
// it needs no further headers.
func (c *Client) AuthorizeFeed(ctx context.Context, token string) (string, error) {
	var resp authorizeResponse
	if err := c.get(ctx, "/v3/feed/market-data-feed/authorize", token, nil, &resp); err != nil {
		return "", fmt.Errorf("authorize feed: %w", err)
	}
	if resp.Data.AuthorizedRedirectURI == "" {
		return "", fmt.Errorf("authorize feed: empty redirect uri (status %q)", resp.Status)
	}
	return resp.Data.AuthorizedRedirectURI, nil
}

// ExchangeCode swaps an OAuth authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("redirect_uri", c.redirectURI)
	form.Set("grant_type", "authorization_code")

	var resp tokenResponse
	if err := c.postForm(ctx, "/v2/login/authorization/token", form, &resp); err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("exchange code: empty access token")
	}
	return resp.AccessToken, nil
}

// GetProfile fetches the authenticated user's provider profile.
func (c *Client) GetProfile(ctx context.Context, token string) (*model.Profile, error) {
	var resp profileResponse
	if err := c.get(ctx, "/v2/user/profile", token, nil, &resp); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &resp.Data, nil
}
