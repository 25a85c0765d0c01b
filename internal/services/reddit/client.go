package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/config"
	"github.com/amaumene/lapis/internal/plugins"
)

const (
	defaultBaseURL = "https://oauth.reddit.com"
	defaultAuthURL = "https://www.reddit.com/api/v1/access_token"
	maxRetries     = 3
)

var (
	errUnauthorized = errors.New("unauthorized")
	errRateLimited  = errors.New("rate limited")
)

// Client talks to the Reddit API as a script application
type Client struct {
	clientID     string
	clientSecret string
	username     string
	password     string
	userAgent    string
	baseURL      string
	authURL      string
	httpClient   *http.Client
	logger       *logrus.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient creates a new Reddit API client
func NewClient(cfg *config.Config, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		clientID:     cfg.RedditClientID,
		clientSecret: cfg.RedditClientSecret,
		username:     cfg.RedditUsername,
		password:     cfg.RedditPassword,
		userAgent:    cfg.UserAgent,
		baseURL:      defaultBaseURL,
		authURL:      defaultAuthURL,
		httpClient:   httpClient,
		logger:       logger,
	}
}

// Username returns the account the bot posts as
func (c *Client) Username() string {
	return c.username
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// authorize fetches a token with the password grant. Must hold c.mu.
func (c *Client) authorize(ctx context.Context) error {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.username},
		"password":   {c.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &plugins.StatusError{URL: c.authURL, Code: resp.StatusCode, Body: string(body)}
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("failed to decode token: %w", err)
	}
	if token.Error != "" || token.AccessToken == "" {
		return fmt.Errorf("token request rejected: %s", token.Error)
	}

	c.token = token.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).Add(-time.Minute)
	c.logger.WithField("expires_at", c.expiresAt.Format(time.RFC3339)).Debug("Reddit token refreshed")
	return nil
}

// accessToken returns a valid token, refreshing it when needed
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || time.Now().After(c.expiresAt) {
		if err := c.authorize(ctx); err != nil {
			return "", fmt.Errorf("failed to authorize: %w", err)
		}
	}
	return c.token, nil
}

func (c *Client) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

// execute performs an authenticated request. Expired tokens are refreshed and
// rate limited calls wait for the window announced by Reddit.
func (c *Client) execute(ctx context.Context, method, path string, params url.Values, result interface{}) error {
	var err error
	for i := 0; i <= maxRetries; i++ {
		err = c.executeOnce(ctx, method, path, params, result)
		if errors.Is(err, errUnauthorized) || errors.Is(err, errRateLimited) {
			continue
		}
		return err
	}
	return err
}

func (c *Client) executeOnce(ctx context.Context, method, path string, params url.Values, result interface{}) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	fullURL := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			fullURL += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    fullURL,
	}).Debug("Making Reddit API request")

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidate(token)
		return errUnauthorized

	case resp.StatusCode == http.StatusTooManyRequests:
		reset := resetAfter(resp.Header.Get("X-Ratelimit-Reset"))
		c.logger.WithField("reset_in", reset.String()).Warn("Reddit rate limit reached, sleeping")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reset):
			return errRateLimited
		}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &plugins.StatusError{URL: fullURL, Code: resp.StatusCode, Body: string(data)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// resetAfter parses the X-Ratelimit-Reset header, in seconds
func resetAfter(value string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || seconds <= 0 {
		return time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}
