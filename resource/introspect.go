// Package resource implements the protected notes API. Bearer tokens are
// validated out-of-process against the authorization server's introspection
// endpoint; the resource server never sees the signing secret.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultIntrospectionTimeout = 5 * time.Second

// TokenInfo is the introspection endpoint's view of a token.
type TokenInfo struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope"`
	ClientID  string `json:"client_id"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud"`
	Issuer    string `json:"iss"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	TokenType string `json:"token_type"`
}

// Scopes returns the granted scopes as a slice.
func (t *TokenInfo) Scopes() []string {
	return strings.Fields(t.Scope)
}

// HasScope reports whether the token carries the given scope.
func (t *TokenInfo) HasScope(scope string) bool {
	for _, s := range t.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// IntrospectionClient calls the authorization server's introspection
// endpoint (RFC 7662).
type IntrospectionClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewIntrospectionClient creates a client for the given introspection
// endpoint URL. A nil httpClient gets a default with a 5 second timeout;
// introspection sits on every API request's path and must fail fast.
func NewIntrospectionClient(endpoint string, httpClient *http.Client) *IntrospectionClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultIntrospectionTimeout}
	}
	return &IntrospectionClient{
		endpoint:   endpoint,
		httpClient: httpClient,
	}
}

// Introspect checks a token against the authorization server. A network or
// decoding failure returns an error and must be treated as a server-side
// fault, never as token invalidity.
func (c *IntrospectionClient) Introspect(ctx context.Context, token string) (*TokenInfo, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call introspection endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection endpoint returned status %d", resp.StatusCode)
	}

	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode introspection response: %w", err)
	}
	return &info, nil
}
