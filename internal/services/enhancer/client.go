// Package enhancer talks to the caption/B-roll enhancement provider. A
// project passes through two provider phases: composition, after which the
// provider reports a completed state without a download URL, and rendering,
// triggered by Export, which produces the final downloadable media.
package enhancer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
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

// DownloadURLKeys is the resolution order for the rendered media location in
// provider payloads. Earlier keys are newer API versions.
var DownloadURLKeys = []string{"downloadUrl", "directUrl", "media_url", "mediaUrl", "video_url", "videoUrl", "download_url"}

// completedStates are the provider states that mean composition is finished.
// Whether the final render exists depends on the presence of a download URL.
var completedStates = map[string]bool{
	"completed": true,
	"done":      true,
	"ready":     true,
}

// failedStates are the provider states that mean the project cannot proceed.
var failedStates = map[string]bool{
	"failed": true,
	"error":  true,
}

// ProjectStatus captures the provider's view of a project.
type ProjectStatus struct {
	State       string
	DownloadURL string
}

// Composed reports whether the provider finished composing, regardless of
// whether the final render is available yet.
func (s ProjectStatus) Composed() bool {
	return completedStates[strings.ToLower(s.State)]
}

// Rendered reports whether the final media is ready for download.
func (s ProjectStatus) Rendered() bool {
	return s.Composed() && s.DownloadURL != ""
}

// Failed reports whether the provider gave up on the project.
func (s ProjectStatus) Failed() bool {
	return failedStates[strings.ToLower(s.State)]
}

// Client provides access to the enhancement provider API.
type Client struct {
	apiKey     string
	baseURL    string
	template   string
	language   string
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

// New creates an enhancement provider client from configuration.
func New(cfg config.Enhancer, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "enhancer", "new", "api key required", nil)
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "enhancer", "new", "base url required", nil)
	}

	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		template:   cfg.Template,
		language:   cfg.Language,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// BrollSettings controls automatic B-roll and zoom insertion for a project.
type BrollSettings struct {
	MagicBrolls      bool
	BrollsPercentage int
	MagicZooms       bool
}

// SubmitRequest carries the inputs for one enhancement project.
type SubmitRequest struct {
	Title      string
	MediaURL   string
	WebhookURL string
	Broll      BrollSettings
}

type submitBody struct {
	Title            string `json:"title"`
	Language         string `json:"language"`
	VideoURL         string `json:"videoUrl"`
	TemplateName     string `json:"templateName"`
	WebhookURL       string `json:"webhookUrl,omitempty"`
	MagicBrolls      bool   `json:"magicBrolls"`
	BrollsPercentage int    `json:"magicBrollsPercentage,omitempty"`
	MagicZooms       bool   `json:"magicZooms"`
}

// Submit creates an enhancement project and returns the provider project
// reference.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.MediaURL) == "" {
		return "", services.Wrap(services.ErrSubmission, "enhancer", "submit", "empty media url", nil)
	}

	body := submitBody{
		Title:        req.Title,
		Language:     c.language,
		VideoURL:     req.MediaURL,
		TemplateName: c.template,
		WebhookURL:   req.WebhookURL,
		MagicBrolls:  req.Broll.MagicBrolls,
		MagicZooms:   req.Broll.MagicZooms,
	}
	if req.Broll.MagicBrolls {
		body.BrollsPercentage = req.Broll.BrollsPercentage
	}

	decoded, status, err := c.postJSON(ctx, c.baseURL+"/projects", body)
	if err != nil {
		return "", services.Wrap(services.ErrUnreachable, "enhancer", "submit", "execute request", err)
	}
	if status >= http.StatusInternalServerError {
		return "", services.Wrap(services.ErrUnreachable, "enhancer", "submit", fmt.Sprintf("provider returned %d", status), nil)
	}

	projectID, ok := payload.FirstString(decoded, "id", "project_id", "projectId")
	if status >= http.StatusBadRequest || !ok {
		message, _ := payload.FirstString(decoded, "message", "error")
		if message == "" {
			message = fmt.Sprintf("provider returned %d without a project reference", status)
		}
		return "", services.Wrap(services.ErrSubmission, "enhancer", "submit", message, nil)
	}

	return projectID, nil
}

// Status queries the provider for project state.
func (c *Client) Status(ctx context.Context, projectID string) (ProjectStatus, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ProjectStatus{}, errors.New("enhancer status: empty project id")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/projects/"+projectID, nil)
	if err != nil {
		return ProjectStatus{}, fmt.Errorf("build status request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ProjectStatus{}, services.Wrap(services.ErrUnreachable, "enhancer", "status", "execute request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ProjectStatus{}, services.Wrap(services.ErrUnreachable, "enhancer", "status", fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ProjectStatus{}, services.Wrap(services.ErrUnreachable, "enhancer", "status", "decode response", err)
	}

	state, _ := payload.FirstString(decoded, "status", "state")
	downloadURL, _ := payload.FirstString(decoded, DownloadURLKeys...)
	return ProjectStatus{State: state, DownloadURL: downloadURL}, nil
}

// Export triggers the final render for a composed project. The provider
// reports render completion through the webhook supplied at submit time, so
// Export carries no callback of its own.
func (c *Client) Export(ctx context.Context, projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return errors.New("enhancer export: empty project id")
	}

	decoded, status, err := c.postJSON(ctx, c.baseURL+"/projects/"+projectID+"/export", struct{}{})
	if err != nil {
		return services.Wrap(services.ErrUnreachable, "enhancer", "export", "execute request", err)
	}
	if status >= http.StatusInternalServerError {
		return services.Wrap(services.ErrUnreachable, "enhancer", "export", fmt.Sprintf("provider returned %d", status), nil)
	}
	if status >= http.StatusBadRequest {
		message, _ := payload.FirstString(decoded, "message", "error")
		if message == "" {
			message = fmt.Sprintf("provider returned %d", status)
		}
		return services.Wrap(services.ErrSubmission, "enhancer", "export", message, nil)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any) (map[string]any, int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	decoded := map[string]any{}
	// Some error responses carry no body; decode failures are ignored so the
	// caller can still act on the status code.
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return decoded, resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("X-Api-Key", c.apiKey)
}
