package appd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"
)

// ErrAuthNotConfigured is returned when neither OAuth credentials nor an API
// key are configured. It fails the call that needed a token, not the process.
var ErrAuthNotConfigured = xerrors.New("controller auth not configured: set a client secret for OAuth or a client name as API key")

// expiryMargin treats a token as expired this long before its stated expiry
// so a token cannot lapse mid-request.
const expiryMargin = 5 * time.Minute

// tokenCache holds the current bearer value. The mutex doubles as the
// single-flight guard: the first caller through refreshes, concurrent callers
// block on the lock and then see the fresh token.
type tokenCache struct {
	mu     sync.Mutex
	value  string
	expiry time.Time
}

// AccessToken returns a usable bearer value. With a client secret configured
// it performs (or reuses) a client-credentials exchange; with only a client
// name it returns the name literally as a pseudo-token. Callers cannot
// distinguish the two modes.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.secret == "" {
		if c.clientName == "" {
			return "", ErrAuthNotConfigured
		}
		return c.clientName, nil
	}

	c.tokenCache.mu.Lock()
	defer c.tokenCache.mu.Unlock()

	if c.tokenCache.value != "" && time.Now().Before(c.tokenCache.expiry) {
		return c.tokenCache.value, nil
	}

	tok, ttl, err := c.exchangeCredentials(ctx)
	if err != nil {
		return "", err
	}

	c.tokenCache.value = tok
	c.tokenCache.expiry = time.Now().Add(ttl - expiryMargin)
	return tok, nil
}

// clientID is the OAuth client id: "name" or "name@account" when an account
// name is configured.
func (c *Client) clientID() string {
	if c.account == "" {
		return c.clientName
	}
	return c.clientName + "@" + c.account
}

func (c *Client) exchangeCredentials(ctx context.Context) (token string, ttl time.Duration, err error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID())
	form.Set("client_secret", c.secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/controller/api/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", 0, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token exchange returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("parse token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("token exchange returned no access_token: %s", string(body))
	}

	return parsed.AccessToken, time.Duration(parsed.ExpiresIn) * time.Second, nil
}
