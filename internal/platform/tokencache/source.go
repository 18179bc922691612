// Package tokencache provides the bearer token used against the messaging
// partner API. Tokens are fetched with an OAuth2 password grant and cached
// until they expire, either in-process or in Redis so restarts and sibling
// processes reuse the same token.
package tokencache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource hands out a valid bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops the cached token so the next Token call fetches anew.
	Invalidate(ctx context.Context) error
}

// Token is a freshly issued access token.
type Token struct {
	AccessToken string
	// ExpiresIn is zero when the issuer did not say.
	ExpiresIn time.Duration
}

// Fetcher obtains a new token from the issuer.
type Fetcher interface {
	Fetch(ctx context.Context) (Token, error)
}

// PasswordGrant fetches tokens with the resource-owner password grant.
type PasswordGrant struct {
	URL      string
	Username string
	Password string
	ClientID string
	HTTP     *http.Client
}

func (p *PasswordGrant) Fetch(ctx context.Context) (Token, error) {
	client := p.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	form := url.Values{}
	form.Set("userName", p.Username)
	form.Set("password", p.Password)
	form.Set("grant_type", "password")
	form.Set("client_id", p.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("POST %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return Token{}, fmt.Errorf("token response has no access_token")
	}

	return Token{
		AccessToken: body.AccessToken,
		ExpiresIn:   time.Duration(body.ExpiresIn) * time.Second,
	}, nil
}

// effectiveTTL caps the configured TTL by what the issuer granted.
func effectiveTTL(configured time.Duration, tok Token) time.Duration {
	if tok.ExpiresIn > 0 && tok.ExpiresIn < configured {
		return tok.ExpiresIn
	}
	return configured
}
