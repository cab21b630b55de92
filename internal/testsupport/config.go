package testsupport

import (
	"path/filepath"
	"testing"

	"clipflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.MediaDir = filepath.Join(base, "media")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Paths.PublicBaseURL = "http://127.0.0.1:0"
	cfg.Avatar.APIKey = "test"
	cfg.Avatar.Personas = []config.Persona{
		{Name: "alpha", AvatarID: "avatar-a", VoiceID: "voice-a", Scale: 1.0},
		{Name: "beta", AvatarID: "avatar-b", VoiceID: "voice-b", Scale: 1.0},
	}
	cfg.Enhancer.APIKey = "test"
	cfg.Publisher.APIKey = "test"
	cfg.Publisher.ProfileIDs = map[string]string{
		"social":   "profile-social",
		"podcast":  "profile-podcast",
		"benefit":  "profile-benefit",
		"property": "profile-property",
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}
