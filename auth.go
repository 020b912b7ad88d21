package sitepilot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// TokenSource yields the bearer token attached to tool backend calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token. Used in tests and
// for pre-issued credentials.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

// tokenRefreshMargin is how early a cached token is considered stale, to
// avoid expiring mid-call.
const tokenRefreshMargin = 60 * time.Second

// ClientCredentials fetches tokens from an authorization endpoint with the
// client_credentials grant and caches them until shortly before expiry.
type ClientCredentials struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	SiteID       string
	TenantID     string
	SiteURL      string

	// Audience defaults to "site:mcp".
	Audience string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	clock func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type tokenResponse struct {
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	AccessToken string `json:"access_token"`
}

// Token returns the cached token while it has more than tokenRefreshMargin
// left, otherwise fetches a new one.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	now := time.Now
	if c.clock != nil {
		now = c.clock
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && now().Before(c.expiresAt.Add(-tokenRefreshMargin)) {
		return c.token, nil
	}

	resp, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = resp.AccessToken
	c.expiresAt = now().Add(time.Duration(resp.ExpiresIn) * time.Second)

	LoggerFromContext(ctx).Info("fetched new backend token",
		"site_id", c.SiteID, "expires_in", resp.ExpiresIn)
	return c.token, nil
}

func (c *ClientCredentials) fetch(ctx context.Context) (*tokenResponse, error) {
	if c.Endpoint == "" {
		return nil, goerr.New("authorization endpoint is not configured")
	}
	audience := c.Audience
	if audience == "" {
		audience = "site:mcp"
	}
	payload, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"site_id":       c.SiteID,
		"tenant_id":     c.TenantID,
		"site_url":      c.SiteURL,
		"aud":           audience,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build token request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	httpResp, err := client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "token request failed")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read token response")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, goerr.New("token endpoint returned an error",
			goerr.V("status", httpResp.StatusCode))
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to decode token response")
	}
	if resp.AccessToken == "" {
		return nil, goerr.New("token response has no access_token")
	}
	return &resp, nil
}
