package config

import (
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProviders()
	c.normalizeWorkflow()
	c.normalizeRateLimit()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.MediaDir, err = expandPath(c.Paths.MediaDir); err != nil {
		return err
	}
	c.Paths.APIToken = firstNonEmpty(c.Paths.APIToken, os.Getenv("CLIPFLOW_API_TOKEN"))
	c.Paths.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Paths.PublicBaseURL), "/")
	return nil
}

func (c *Config) normalizeProviders() {
	c.Avatar.APIKey = firstNonEmpty(c.Avatar.APIKey, os.Getenv("CLIPFLOW_AVATAR_API_KEY"))
	c.Avatar.BaseURL = strings.TrimRight(strings.TrimSpace(c.Avatar.BaseURL), "/")
	if c.Avatar.TimeoutSeconds <= 0 {
		c.Avatar.TimeoutSeconds = 60
	}
	if c.Avatar.Width <= 0 {
		c.Avatar.Width = 720
	}
	if c.Avatar.Height <= 0 {
		c.Avatar.Height = 1280
	}
	for i := range c.Avatar.Personas {
		if c.Avatar.Personas[i].Scale <= 0 {
			c.Avatar.Personas[i].Scale = 1.0
		}
	}

	c.Enhancer.APIKey = firstNonEmpty(c.Enhancer.APIKey, os.Getenv("CLIPFLOW_ENHANCER_API_KEY"))
	c.Enhancer.WebhookSecret = firstNonEmpty(c.Enhancer.WebhookSecret, os.Getenv("CLIPFLOW_ENHANCER_WEBHOOK_SECRET"))
	c.Enhancer.BaseURL = strings.TrimRight(strings.TrimSpace(c.Enhancer.BaseURL), "/")
	if c.Enhancer.TimeoutSeconds <= 0 {
		c.Enhancer.TimeoutSeconds = 60
	}

	c.Publisher.APIKey = firstNonEmpty(c.Publisher.APIKey, os.Getenv("CLIPFLOW_PUBLISHER_API_KEY"))
	c.Publisher.BaseURL = strings.TrimRight(strings.TrimSpace(c.Publisher.BaseURL), "/")
	if c.Publisher.TimeoutSeconds <= 0 {
		c.Publisher.TimeoutSeconds = 60
	}
	if c.Publisher.ScheduleMode == "" {
		c.Publisher.ScheduleMode = "immediate"
	}

	c.Storage.AccessKey = firstNonEmpty(c.Storage.AccessKey, os.Getenv("CLIPFLOW_STORAGE_ACCESS_KEY"))
	c.Storage.SecretKey = firstNonEmpty(c.Storage.SecretKey, os.Getenv("CLIPFLOW_STORAGE_SECRET_KEY"))
	c.Storage.PublicURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicURL), "/")
}

func (c *Config) normalizeWorkflow() {
	w := &c.Workflow
	if w.MaxRetries <= 0 {
		w.MaxRetries = 3
	}
	if w.PollIntervalSeconds <= 0 {
		w.PollIntervalSeconds = 45
	}
	if w.AvatarPollAttempts <= 0 {
		w.AvatarPollAttempts = 14
	}
	if w.EnhancerPollAttempts <= 0 {
		w.EnhancerPollAttempts = 30
	}
	if w.MissingRefGraceMinutes <= 0 {
		w.MissingRefGraceMinutes = 30
	}
	if w.PendingRestartMinutes <= 0 {
		w.PendingRestartMinutes = 5
	}
	if w.PostingRetryMinutes <= 0 {
		w.PostingRetryMinutes = 10
	}
	if w.ReconcileIntervalMins <= 0 {
		w.ReconcileIntervalMins = 30
	}
	if w.ReconcileFamilyLimit <= 0 {
		w.ReconcileFamilyLimit = 15
	}
	if w.ReconcileGlobalLimit <= 0 {
		w.ReconcileGlobalLimit = 10
	}
	if w.ReconcileLeaseSeconds <= 0 {
		w.ReconcileLeaseSeconds = 300
	}
	if w.PendingStartLimitPerRun <= 0 {
		w.PendingStartLimitPerRun = 3
	}
	w.ReconcileSecret = firstNonEmpty(w.ReconcileSecret, os.Getenv("CLIPFLOW_RECONCILE_SECRET"))
}

func (c *Config) normalizeRateLimit() {
	if c.RateLimit.WindowMinutes <= 0 {
		c.RateLimit.WindowMinutes = 60
	}
	if c.RateLimit.PerWindow == nil {
		c.RateLimit.PerWindow = map[string]int{}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = firstNonEmpty(c.Notifications.NtfyTopic, os.Getenv("CLIPFLOW_NTFY_TOPIC"))
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = 10
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
