// internal/infra/nango/client.go
package nango

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL      = "https://api.nango.dev"
	DefaultExpiryBuffer = 60 * time.Second
)

// Client fetches OAuth access tokens from Nango connections and caches them until shortly
// before they expire.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	cache     TokenCache
	buffer    time.Duration
	now       func() time.Time
	logger    *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCache replaces the default in-memory cache.
func WithCache(cache TokenCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithExpiryBuffer sets how long before expiry a cached token is considered stale.
func WithExpiryBuffer(d time.Duration) Option {
	return func(c *Client) { c.buffer = d }
}

func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(secretKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 30 * time.Second},
		buffer:    DefaultExpiryBuffer,
		now:       time.Now,
		logger:    logger.Component("nango"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = NewMemoryTokenCache(c.now)
	}
	return c
}

// Token returns a valid access token for the connection. A cached token is used unless
// forceRefresh is set.
func (c *Client) Token(ctx context.Context, connectionID, integrationID string, forceRefresh bool) (string, error) {
	log := c.logger.WithField("connection_id", connectionID)
	if !forceRefresh {
		token, ok, err := c.cache.Get(ctx, connectionID)
		if err != nil {
			log.WithError(err).Warn("Token cache lookup failed, fetching a fresh token")
		} else if ok {
			log.Debug("Using cached token")
			return token, nil
		}
	}

	token, expiresAt, err := c.fetch(ctx, connectionID, integrationID, forceRefresh)
	if err != nil {
		return "", err
	}
	if ttl := expiresAt.Sub(c.now()) - c.buffer; ttl > 0 {
		if err := c.cache.Set(ctx, connectionID, token, ttl); err != nil {
			log.WithError(err).Warn("Failed to cache token")
		}
	} else {
		if err := c.cache.Delete(ctx, connectionID); err != nil {
			log.WithError(err).Warn("Failed to evict token")
		}
	}
	log.WithField("expires_at", expiresAt).Debug("Fetched fresh token")
	return token, nil
}

func (c *Client) fetch(ctx context.Context, connectionID, integrationID string, forceRefresh bool) (string, time.Time, error) {
	q := url.Values{"provider_config_key": {integrationID}}
	if forceRefresh {
		q.Set("force_refresh", "true")
	}
	endpoint := fmt.Sprintf("%s/connection/%s?%s", c.baseURL, url.PathEscape(connectionID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error building nango request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", time.Time{}, apperror.Wrap(apperror.KindServiceUnavailable, err, "nango request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, apperror.Wrap(apperror.KindServiceUnavailable, err, "failed to read nango response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", time.Time{}, apperror.Auth("nango API request failed: %d - %s", resp.StatusCode, string(body))
	}
	return parseCredentials(body)
}

// parseCredentials extracts the token and its expiry from a connection response. OAuth1, OAuth2
// and raw credential shapes are understood.
func parseCredentials(body []byte) (string, time.Time, error) {
	creds := gjson.GetBytes(body, "credentials")
	if !creds.IsObject() {
		return "", time.Time{}, apperror.Auth("no credentials in nango response")
	}

	credType := creds.Get("type").String()
	var token gjson.Result
	switch credType {
	case "OAUTH2":
		token = creds.Get("access_token")
	case "OAUTH1":
		token = creds.Get("oauth_token")
	default:
		token = creds.Get("raw.access_token")
	}
	if token.String() == "" {
		return "", time.Time{}, apperror.Auth("no access token in %q credentials", credType)
	}

	raw := creds.Get("expires_at").String()
	if raw == "" {
		return "", time.Time{}, apperror.Auth("no expires_at in nango response")
	}
	expiresAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", time.Time{}, apperror.Wrap(apperror.KindAuth, err, "invalid expires_at format")
	}
	return token.String(), expiresAt, nil
}

// TokenProvider binds a Client to one connection.
type TokenProvider struct {
	client        *Client
	connectionID  string
	integrationID string
}

func NewTokenProvider(client *Client, connectionID, integrationID string) *TokenProvider {
	return &TokenProvider{client: client, connectionID: connectionID, integrationID: integrationID}
}

// AccessToken returns a cached or fresh token for the bound connection.
func (p *TokenProvider) AccessToken(ctx context.Context) (string, error) {
	return p.client.Token(ctx, p.connectionID, p.integrationID, false)
}

// RefreshToken bypasses the cache.
func (p *TokenProvider) RefreshToken(ctx context.Context) (string, error) {
	return p.client.Token(ctx, p.connectionID, p.integrationID, true)
}
