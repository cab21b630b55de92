// Package publisher talks to the social post scheduler. Publishing resolves
// the connected accounts for a profile, builds per-platform settings, and
// submits one post covering every requested platform.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clipflow/internal/config"
	"clipflow/internal/payload"
	"clipflow/internal/services"
)

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Account is one connected social account under a profile.
type Account struct {
	ID       string `json:"accountId"`
	Platform string `json:"platform"`
}

// Client provides access to the social scheduler API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a scheduler client from configuration.
func New(cfg config.Publisher, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "publisher", "new", "api key required", nil)
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "publisher", "new", "base url required", nil)
	}

	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Accounts lists the connected accounts for a profile. The API has returned
// both a bare array and wrapped objects across versions, so all three shapes
// are accepted.
func (c *Client) Accounts(ctx context.Context, profileID string) ([]Account, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return nil, errors.New("publisher accounts: empty profile id")
	}

	endpoint := c.baseURL + "/accounts?profileId=" + url.QueryEscape(profileID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build accounts request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, services.Wrap(services.ErrUnreachable, "publisher", "accounts", "execute request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrUnreachable, "publisher", "accounts", fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, services.Wrap(services.ErrUnreachable, "publisher", "accounts", "decode response", err)
	}

	var accounts []Account
	if err := json.Unmarshal(raw, &accounts); err == nil {
		return accounts, nil
	}

	var wrapped struct {
		Accounts []Account `json:"accounts"`
		Data     []Account `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, services.Wrap(services.ErrUnreachable, "publisher", "accounts", "decode response", err)
	}
	if len(wrapped.Accounts) > 0 {
		return wrapped.Accounts, nil
	}
	return wrapped.Data, nil
}

// PublishRequest carries the inputs for one scheduled post.
type PublishRequest struct {
	ProfileID  string
	MediaURL   string
	Caption    string
	Title      string
	Platforms  []string
	ScheduleAt *time.Time
}

type platformEntry struct {
	Platform     string         `json:"platform"`
	AccountID    string         `json:"accountId"`
	SpecificData map[string]any `json:"platformSpecificData"`
}

type mediaItem struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type publishBody struct {
	Content      string          `json:"content"`
	Platforms    []platformEntry `json:"platforms"`
	MediaItems   []mediaItem     `json:"mediaItems"`
	ScheduledFor string          `json:"scheduledFor,omitempty"`
	Timezone     string          `json:"timezone,omitempty"`
	PublishNow   bool            `json:"publishNow,omitempty"`
}

// Publish submits one post for every requested platform with a connected
// account. Platforms without a connected account are skipped; the call fails
// only when no requested platform can be served.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (string, error) {
	if strings.TrimSpace(req.MediaURL) == "" {
		return "", services.Wrap(services.ErrSubmission, "publisher", "publish", "empty media url", nil)
	}
	if len(req.Platforms) == 0 {
		return "", services.Wrap(services.ErrSubmission, "publisher", "publish", "no platforms requested", nil)
	}

	accounts, err := c.Accounts(ctx, req.ProfileID)
	if err != nil {
		return "", err
	}

	byPlatform := make(map[string]Account, len(accounts))
	for _, account := range accounts {
		byPlatform[strings.ToLower(account.Platform)] = account
	}

	entries := make([]platformEntry, 0, len(req.Platforms))
	for _, platform := range req.Platforms {
		account, ok := byPlatform[strings.ToLower(platform)]
		if !ok {
			continue
		}
		entries = append(entries, platformEntry{
			Platform:     account.Platform,
			AccountID:    account.ID,
			SpecificData: platformSettings(account.Platform, req),
		})
	}
	if len(entries) == 0 {
		return "", services.Wrap(services.ErrSubmission, "publisher", "publish", "no connected accounts for requested platforms", nil)
	}

	body := publishBody{
		Content:    req.Caption,
		Platforms:  entries,
		MediaItems: []mediaItem{{Type: "video", URL: req.MediaURL}},
	}
	if req.ScheduleAt != nil {
		body.ScheduledFor = req.ScheduleAt.UTC().Format(time.RFC3339)
		body.Timezone = "UTC"
	} else {
		body.PublishNow = true
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode publish body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/posts", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("build publish request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrUnreachable, "publisher", "publish", "execute request", err)
	}
	defer resp.Body.Close()

	decoded := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", services.Wrap(services.ErrUnreachable, "publisher", "publish", fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		message, _ := payload.FirstString(decoded, "message", "error")
		if message == "" {
			message = fmt.Sprintf("provider returned %d", resp.StatusCode)
		}
		return "", services.Wrap(services.ErrSubmission, "publisher", "publish", message, nil)
	}

	postID, ok := payload.FirstString(decoded, "id", "postId", "post_id")
	if !ok {
		postID, _ = payload.FirstNested(decoded, "post.id", "data.id")
	}
	return postID, nil
}

func platformSettings(platform string, req PublishRequest) map[string]any {
	data := map[string]any{}
	switch strings.ToLower(platform) {
	case "instagram":
		data["contentType"] = "reel"
	case "facebook":
		data["contentType"] = "feed"
	case "tiktok":
		data["privacy"] = "public"
	case "youtube":
		title := req.Title
		if title == "" && len(req.Caption) > 0 {
			title = req.Caption
			if len(title) > 100 {
				title = title[:100]
			}
		}
		data["title"] = title
		data["privacy"] = "public"
		data["madeForKids"] = false
		data["short"] = true
	}
	return data
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
