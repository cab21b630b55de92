package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	MediaDir string `toml:"media_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
	// PublicBaseURL is the externally reachable address used to build webhook
	// callback URLs and locally relayed media URLs.
	PublicBaseURL string `toml:"public_base_url"`
}

// Persona describes one avatar/voice pairing used for generated videos.
type Persona struct {
	Name     string  `toml:"name"`
	AvatarID string  `toml:"avatar_id"`
	VoiceID  string  `toml:"voice_id"`
	Scale    float64 `toml:"scale"`
}

// Avatar contains configuration for the avatar video generation provider.
type Avatar struct {
	APIKey         string    `toml:"api_key"`
	BaseURL        string    `toml:"base_url"`
	TimeoutSeconds int       `toml:"timeout_seconds"`
	Width          int       `toml:"width"`
	Height         int       `toml:"height"`
	Personas       []Persona `toml:"personas"`
}

// Enhancer contains configuration for the caption/B-roll enhancement provider.
type Enhancer struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	WebhookSecret  string `toml:"webhook_secret"`
	Template       string `toml:"template"`
	Language       string `toml:"language"`
}

// Publisher contains configuration for the social post scheduler.
type Publisher struct {
	APIKey         string            `toml:"api_key"`
	BaseURL        string            `toml:"base_url"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	ProfileIDs     map[string]string `toml:"profile_ids"`
	Platforms      []string          `toml:"platforms"`
	ScheduleMode   string            `toml:"schedule_mode"`
}

// Storage contains configuration for the durable media relay target.
// When the bucket is unset, relayed media is stored under paths.media_dir and
// served by the daemon.
type Storage struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
	PublicURL string `toml:"public_url"`
}

// Workflow contains pipeline timing, retry, and reconciler settings.
type Workflow struct {
	MaxRetries              int    `toml:"max_retries"`
	MinArticleChars         int    `toml:"min_article_chars"`
	PollIntervalSeconds     int    `toml:"poll_interval_seconds"`
	AvatarPollAttempts      int    `toml:"avatar_poll_attempts"`
	EnhancerPollAttempts    int    `toml:"enhancer_poll_attempts"`
	MissingRefGraceMinutes  int    `toml:"missing_ref_grace_minutes"`
	PendingRestartMinutes   int    `toml:"pending_restart_minutes"`
	PostingRetryMinutes     int    `toml:"posting_retry_minutes"`
	ReconcileIntervalMins   int    `toml:"reconcile_interval_minutes"`
	ReconcileFamilyLimit    int    `toml:"reconcile_family_limit"`
	ReconcileGlobalLimit    int    `toml:"reconcile_global_limit"`
	ReconcileLeaseSeconds   int    `toml:"reconcile_lease_seconds"`
	ReconcileSecret         string `toml:"reconcile_secret"`
	PendingStartLimitPerRun int    `toml:"pending_start_limit_per_run"`
}

// RateLimit contains fixed-window provider call budgets shared across
// instances through the record store.
type RateLimit struct {
	WindowMinutes int            `toml:"window_minutes"`
	PerWindow     map[string]int `toml:"per_window"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Failures       bool   `toml:"failures"`
	Publishes      bool   `toml:"publishes"`
	Reconciler     bool   `toml:"reconciler"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for clipflow.
//
// Configuration sections by subsystem:
//   - Paths: data/log/media directories and the API bind address
//   - Avatar: avatar video generation provider credentials and personas
//   - Enhancer: caption/B-roll enhancement provider credentials
//   - Publisher: social post scheduler credentials and per-family profiles
//   - Storage: S3-compatible object storage for the durable media relay
//   - Workflow: retry budgets, poll bounds, and reconciler pacing
//   - RateLimit: fixed-window provider call budgets
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Avatar        Avatar        `toml:"avatar"`
	Enhancer      Enhancer      `toml:"enhancer"`
	Publisher     Publisher     `toml:"publisher"`
	Storage       Storage       `toml:"storage"`
	Workflow      Workflow      `toml:"workflow"`
	RateLimit     RateLimit     `toml:"rate_limit"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clipflow/config.toml")
}

// SampleConfig returns the embedded sample configuration document.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the embedded sample configuration to the given path.
func CreateSample(path string) error {
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExpandPath resolves a leading ~ and returns an absolute, cleaned path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clipflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.MediaDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location backing the record store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "clipflow.db")
}

// AvatarWebhookURL builds the callback URL the avatar provider should invoke
// for the given record family.
func (c *Config) AvatarWebhookURL(family string) string {
	return strings.TrimRight(c.Paths.PublicBaseURL, "/") + "/webhooks/avatar/" + family
}

// EnhancerWebhookURL builds the callback URL the enhancer provider should
// invoke for the given record family.
func (c *Config) EnhancerWebhookURL(family string) string {
	return strings.TrimRight(c.Paths.PublicBaseURL, "/") + "/webhooks/enhancer/" + family
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
