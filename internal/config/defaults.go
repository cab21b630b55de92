package config

// Default returns a Config populated with sensible defaults. Provider
// credentials are intentionally left empty and must come from the config file
// or environment.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       "~/.local/share/clipflow",
			LogDir:        "~/.local/share/clipflow/logs",
			MediaDir:      "~/.local/share/clipflow/media",
			APIBind:       "127.0.0.1:7823",
			PublicBaseURL: "http://127.0.0.1:7823",
		},
		Avatar: Avatar{
			BaseURL:        "https://api.heygen.com",
			TimeoutSeconds: 60,
			Width:          720,
			Height:         1280,
		},
		Enhancer: Enhancer{
			BaseURL:        "https://api.submagic.co/v1",
			TimeoutSeconds: 60,
			Template:       "Hormozi 2",
			Language:       "en",
		},
		Publisher: Publisher{
			BaseURL:        "https://getlate.dev/api/v1",
			TimeoutSeconds: 60,
			Platforms:      []string{"tiktok", "instagram", "youtube"},
			ScheduleMode:   "immediate",
		},
		Workflow: Workflow{
			MaxRetries:              3,
			MinArticleChars:         180,
			PollIntervalSeconds:     45,
			AvatarPollAttempts:      14,
			EnhancerPollAttempts:    30,
			MissingRefGraceMinutes:  30,
			PendingRestartMinutes:   5,
			PostingRetryMinutes:     10,
			ReconcileIntervalMins:   30,
			ReconcileFamilyLimit:    15,
			ReconcileGlobalLimit:    10,
			ReconcileLeaseSeconds:   300,
			PendingStartLimitPerRun: 3,
		},
		RateLimit: RateLimit{
			WindowMinutes: 60,
			PerWindow: map[string]int{
				"avatar":    10,
				"enhancer":  20,
				"publisher": 30,
			},
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Failures:       true,
			Publishes:      true,
			Reconciler:     false,
		},
		Logging: Logging{
			Format: "text",
			Level:  "info",
		},
	}
}
