// Package messaging is a thin client for the messaging partner API that
// backs the intake webhook: case activities and contacts.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrUpstream is wrapped by every failure to obtain a success response.
	ErrUpstream = errors.New("messaging: upstream unavailable")
	// ErrUnauthorized additionally marks a 401, meaning the bearer token is stale.
	ErrUnauthorized = errors.New("messaging: unauthorized")
)

// Activity is one message or event inside a partner case.
type Activity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact is the person a case belongs to.
type Contact struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
}

// Client calls the partner API with a caller-supplied bearer token.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client with a 10 second timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// GetActivity resolves one activity of a case.
func (c *Client) GetActivity(ctx context.Context, token, caseID, activityID string) (*Activity, error) {
	var out Activity
	path := fmt.Sprintf("/cases/%s/activities/%s", url.PathEscape(caseID), url.PathEscape(activityID))
	if err := c.get(ctx, token, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetContact resolves a contact by id.
func (c *Client) GetContact(ctx context.Context, token, contactID string) (*Contact, error) {
	var out Contact
	if err := c.get(ctx, token, "/contacts/"+url.PathEscape(contactID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get decodes the "data" envelope of a partner response into dst.
func (c *Client) get(ctx context.Context, token, path string, dst interface{}) error {
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: GET %s: %w", ErrUpstream, path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: GET %s returned status %d", ErrUpstream, path, resp.StatusCode)
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, path, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%w: GET %s: empty data", ErrUpstream, path)
	}
	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		return fmt.Errorf("%w: decode %s data: %v", ErrUpstream, path, err)
	}
	return nil
}
