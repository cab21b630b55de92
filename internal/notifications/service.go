package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clipflow/internal/config"
)

const userAgent = "Clipflow-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyWorkflowStarted(ctx context.Context, family, recordID, title string) error
	NotifyWorkflowFailed(ctx context.Context, family, recordID, reason string) error
	NotifyPublished(ctx context.Context, family, recordID, postID string) error
	NotifyReconcileReport(ctx context.Context, summary string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		failures:   cfg.Notifications.Failures,
		publishes:  cfg.Notifications.Publishes,
		reconciler: cfg.Notifications.Reconciler,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	failures   bool
	publishes  bool
	reconciler bool
}

func (n *ntfyService) NotifyWorkflowStarted(ctx context.Context, family, recordID, title string) error {
	data := payload{
		title:   "Clipflow - Workflow Started",
		message: fmt.Sprintf("Started %s workflow %s: %s", family, recordID, strings.TrimSpace(title)),
		tags:    []string{"clipflow", family, "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyWorkflowFailed(ctx context.Context, family, recordID, reason string) error {
	if !n.failures {
		return nil
	}
	data := payload{
		title:    "Clipflow - Workflow Failed",
		message:  fmt.Sprintf("%s workflow %s failed: %s", family, recordID, strings.TrimSpace(reason)),
		tags:     []string{"clipflow", family, "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPublished(ctx context.Context, family, recordID, postID string) error {
	if !n.publishes {
		return nil
	}
	message := fmt.Sprintf("%s workflow %s published", family, recordID)
	if postID = strings.TrimSpace(postID); postID != "" {
		message += " as post " + postID
	}
	data := payload{
		title:   "Clipflow - Published",
		message: message,
		tags:    []string{"clipflow", family, "published"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyReconcileReport(ctx context.Context, summary string) error {
	if !n.reconciler {
		return nil
	}
	data := payload{
		title:   "Clipflow - Reconcile",
		message: summary,
		tags:    []string{"clipflow", "reconcile"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Clipflow - Error",
		message:  builder.String(),
		tags:     []string{"clipflow", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Clipflow - Test",
		message:  "Notification system test",
		tags:     []string{"clipflow", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyWorkflowStarted(context.Context, string, string, string) error { return nil }

func (noopService) NotifyWorkflowFailed(context.Context, string, string, string) error { return nil }

func (noopService) NotifyPublished(context.Context, string, string, string) error { return nil }

func (noopService) NotifyReconcileReport(context.Context, string) error { return nil }

func (noopService) NotifyError(context.Context, error, string) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
