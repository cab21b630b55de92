// Package avatar talks to the avatar video generation provider. Jobs are
// asynchronous: Submit returns a provider job reference and the provider
// later reports completion through a webhook or the Status endpoint.
package avatar

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
	"clipflow/internal/services"
)

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// JobStatus captures the provider's view of a submitted job.
type JobStatus struct {
	State    string
	MediaURL string
	Error    string
}

// Completed reports whether the provider finished rendering.
func (s JobStatus) Completed() bool {
	return strings.EqualFold(s.State, "completed")
}

// Failed reports whether the provider gave up on the job.
func (s JobStatus) Failed() bool {
	state := strings.ToLower(s.State)
	return state == "failed" || state == "error"
}

// Client provides access to the avatar provider API.
type Client struct {
	apiKey     string
	baseURL    string
	width      int
	height     int
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

// New creates an avatar provider client from configuration.
func New(cfg config.Avatar, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "avatar", "new", "api key required", nil)
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "avatar", "new", "base url required", nil)
	}

	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		width:      cfg.Width,
		height:     cfg.Height,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// SubmitRequest carries the inputs for one avatar render job.
type SubmitRequest struct {
	Script     string
	Persona    config.Persona
	WebhookURL string
	CallbackID string
}

type submitCharacter struct {
	Type           string  `json:"type"`
	TalkingPhotoID string  `json:"talking_photo_id"`
	Scale          float64 `json:"scale"`
	Style          string  `json:"talking_photo_style"`
	TalkingStyle   string  `json:"talking_style"`
}

type submitVoice struct {
	Type      string  `json:"type"`
	InputText string  `json:"input_text"`
	VoiceID   string  `json:"voice_id"`
	Speed     float64 `json:"speed"`
}

type submitVideoInput struct {
	Character submitCharacter `json:"character"`
	Voice     submitVoice     `json:"voice"`
}

type submitBody struct {
	VideoInputs []submitVideoInput `json:"video_inputs"`
	Caption     bool               `json:"caption"`
	Dimension   struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"dimension"`
	Test       bool   `json:"test"`
	WebhookURL string `json:"webhook_url,omitempty"`
	CallbackID string `json:"callback_id,omitempty"`
}

type submitResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

// Submit starts an avatar render and returns the provider job reference.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	script := strings.TrimSpace(req.Script)
	if script == "" {
		return "", services.Wrap(services.ErrSubmission, "avatar", "submit", "empty script", nil)
	}
	if strings.TrimSpace(req.Persona.AvatarID) == "" || strings.TrimSpace(req.Persona.VoiceID) == "" {
		return "", services.Wrap(services.ErrConfiguration, "avatar", "submit", "persona missing avatar or voice id", nil)
	}

	body := submitBody{
		VideoInputs: []submitVideoInput{{
			Character: submitCharacter{
				Type:           "talking_photo",
				TalkingPhotoID: req.Persona.AvatarID,
				Scale:          req.Persona.Scale,
				Style:          "square",
				TalkingStyle:   "expressive",
			},
			Voice: submitVoice{
				Type:      "text",
				InputText: script,
				VoiceID:   req.Persona.VoiceID,
				Speed:     1.1,
			},
		}},
		WebhookURL: req.WebhookURL,
		CallbackID: req.CallbackID,
	}
	body.Dimension.Width = c.width
	body.Dimension.Height = c.height

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode submit body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/video/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrUnreachable, "avatar", "submit", "execute request", err)
	}
	defer resp.Body.Close()

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", services.Wrap(services.ErrUnreachable, "avatar", "submit", "decode response", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", services.Wrap(services.ErrUnreachable, "avatar", "submit", fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK || decoded.Data.VideoID == "" {
		message := fmt.Sprintf("provider returned %d", resp.StatusCode)
		if decoded.Error != nil && decoded.Error.Message != "" {
			message = decoded.Error.Message
		}
		return "", services.Wrap(services.ErrSubmission, "avatar", "submit", message, nil)
	}

	return decoded.Data.VideoID, nil
}

type statusResponse struct {
	Data struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Error    *struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	} `json:"data"`
}

// Status queries the provider for job state. A completed status carries the
// provider's short-lived media URL, which must be relayed to durable storage
// before use.
func (c *Client) Status(ctx context.Context, jobID string) (JobStatus, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobStatus{}, errors.New("avatar status: empty job id")
	}

	endpoint := c.baseURL + "/v1/video_status.get?video_id=" + url.QueryEscape(jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("build status request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return JobStatus{}, services.Wrap(services.ErrUnreachable, "avatar", "status", "execute request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return JobStatus{}, services.Wrap(services.ErrUnreachable, "avatar", "status", fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	}

	var decoded statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return JobStatus{}, services.Wrap(services.ErrUnreachable, "avatar", "status", "decode response", err)
	}

	status := JobStatus{
		State:    decoded.Data.Status,
		MediaURL: decoded.Data.VideoURL,
	}
	if decoded.Data.Error != nil {
		status.Error = strings.TrimSpace(decoded.Data.Error.Message + " " + decoded.Data.Error.Detail)
	}
	return status, nil
}
