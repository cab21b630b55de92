package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"clipflow/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndAppliesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "clipflow")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.MediaDir != filepath.Join(wantData, "media") {
		t.Fatalf("unexpected media dir: %q", cfg.Paths.MediaDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7823" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Avatar.Width != 720 || cfg.Avatar.Height != 1280 {
		t.Fatalf("unexpected avatar dimensions: %dx%d", cfg.Avatar.Width, cfg.Avatar.Height)
	}
	if cfg.Publisher.ScheduleMode != "immediate" {
		t.Fatalf("unexpected schedule mode: %q", cfg.Publisher.ScheduleMode)
	}
	if cfg.Workflow.MaxRetries != 3 {
		t.Fatalf("unexpected max retries: %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.ReconcileGlobalLimit != 10 {
		t.Fatalf("unexpected reconcile global limit: %d", cfg.Workflow.ReconcileGlobalLimit)
	}
	if cfg.RateLimit.WindowMinutes != 60 {
		t.Fatalf("unexpected rate limit window: %d", cfg.RateLimit.WindowMinutes)
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %q/%q", cfg.Logging.Format, cfg.Logging.Level)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "clipflow.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.MediaDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "clipflow.toml")

	type payload struct {
		Avatar struct {
			APIKey  string `toml:"api_key"`
			BaseURL string `toml:"base_url"`
		} `toml:"avatar"`
		Publisher struct {
			ScheduleMode string `toml:"schedule_mode"`
		} `toml:"publisher"`
		Workflow struct {
			MaxRetries      int `toml:"max_retries"`
			MinArticleChars int `toml:"min_article_chars"`
		} `toml:"workflow"`
	}
	custom := payload{}
	custom.Avatar.APIKey = "abc123"
	custom.Avatar.BaseURL = "https://example.com/avatar/"
	custom.Publisher.ScheduleMode = "optimal"
	custom.Workflow.MaxRetries = 5
	custom.Workflow.MinArticleChars = 250
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Avatar.APIKey != "abc123" {
		t.Fatalf("expected avatar key from file, got %q", cfg.Avatar.APIKey)
	}
	if cfg.Avatar.BaseURL != "https://example.com/avatar" {
		t.Fatalf("expected trimmed base url, got %q", cfg.Avatar.BaseURL)
	}
	if cfg.Publisher.ScheduleMode != "optimal" {
		t.Fatalf("expected schedule mode override, got %q", cfg.Publisher.ScheduleMode)
	}
	if cfg.Workflow.MaxRetries != 5 {
		t.Fatalf("expected max retries 5, got %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.MinArticleChars != 250 {
		t.Fatalf("expected min article chars 250, got %d", cfg.Workflow.MinArticleChars)
	}
}

func TestEnvFallbacksFillMissingCredentials(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "clipflow.toml")

	type payload struct {
		Enhancer struct {
			APIKey string `toml:"api_key"`
		} `toml:"enhancer"`
	}
	custom := payload{}
	custom.Enhancer.APIKey = "file-enhancer"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	t.Setenv("CLIPFLOW_AVATAR_API_KEY", "env-avatar")
	t.Setenv("CLIPFLOW_ENHANCER_API_KEY", "env-enhancer")
	t.Setenv("CLIPFLOW_PUBLISHER_API_KEY", "env-publisher")
	t.Setenv("CLIPFLOW_ENHANCER_WEBHOOK_SECRET", "env-secret")
	t.Setenv("CLIPFLOW_API_TOKEN", "env-token")
	t.Setenv("CLIPFLOW_NTFY_TOPIC", "env-topic")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Avatar.APIKey != "env-avatar" {
		t.Errorf("expected avatar key from env, got %q", cfg.Avatar.APIKey)
	}
	// The config file wins when both are set; the environment only fills gaps.
	if cfg.Enhancer.APIKey != "file-enhancer" {
		t.Errorf("expected enhancer key from file, got %q", cfg.Enhancer.APIKey)
	}
	if cfg.Publisher.APIKey != "env-publisher" {
		t.Errorf("expected publisher key from env, got %q", cfg.Publisher.APIKey)
	}
	if cfg.Enhancer.WebhookSecret != "env-secret" {
		t.Errorf("expected webhook secret from env, got %q", cfg.Enhancer.WebhookSecret)
	}
	if cfg.Paths.APIToken != "env-token" {
		t.Errorf("expected API token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Notifications.NtfyTopic != "env-topic" {
		t.Errorf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "public_base_url") {
		t.Fatalf("sample config missing public_base_url: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "clipflow") {
		t.Fatalf("expected data dir to reference clipflow, got %q", cfg.Paths.DataDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Publisher.ScheduleMode = "sometime"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown schedule mode")
	}

	cfg = config.Default()
	cfg.Publisher.ProfileIDs = map[string]string{"newsletter": "profile-1"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown profile family")
	}

	cfg = config.Default()
	cfg.Avatar.Personas = []config.Persona{{Name: "anna", AvatarID: "av-1"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for persona without voice")
	}

	cfg = config.Default()
	cfg.Avatar.Personas = []config.Persona{
		{Name: "anna", AvatarID: "av-1", VoiceID: "vo-1"},
		{Name: "anna", AvatarID: "av-2", VoiceID: "vo-2"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate persona name")
	}

	cfg = config.Default()
	cfg.Storage.Bucket = "clips"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for bucket without endpoint and public URL")
	}

	cfg = config.Default()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log level")
	}

	cfg = config.Default()
	cfg.RateLimit.PerWindow = map[string]int{"avatar": -1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative rate limit budget")
	}
}

func TestWebhookURLs(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.PublicBaseURL = "https://clips.example.com/"

	if got := cfg.AvatarWebhookURL("social"); got != "https://clips.example.com/webhooks/avatar/social" {
		t.Fatalf("unexpected avatar webhook URL: %q", got)
	}
	if got := cfg.EnhancerWebhookURL("podcast"); got != "https://clips.example.com/webhooks/enhancer/podcast" {
		t.Fatalf("unexpected enhancer webhook URL: %q", got)
	}
}

func TestValidFamily(t *testing.T) {
	for _, family := range config.Families() {
		if !config.ValidFamily(family) {
			t.Fatalf("expected %q to be a valid family", family)
		}
	}
	if config.ValidFamily("newsletter") {
		t.Fatal("expected newsletter to be rejected")
	}
}

func TestExpandPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	got, err := config.ExpandPath("~/media")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if got != filepath.Join(tempHome, "media") {
		t.Fatalf("unexpected expansion: %q", got)
	}
}
