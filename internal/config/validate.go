package config

import (
	"fmt"
	"strings"
)

var validScheduleModes = map[string]bool{
	"immediate": true,
	"1h":        true,
	"2h":        true,
	"4h":        true,
	"optimal":   true,
}

var validFamilies = map[string]bool{
	"social":   true,
	"podcast":  true,
	"benefit":  true,
	"property": true,
}

// Validate checks the configuration for structural problems. Provider
// credentials are checked lazily by the services that need them so that
// read-only commands work without a fully provisioned config.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		problems = append(problems, "paths.api_bind must be set")
	}

	if !validScheduleModes[c.Publisher.ScheduleMode] {
		problems = append(problems, fmt.Sprintf("publisher.schedule_mode %q is not one of immediate, 1h, 2h, 4h, optimal", c.Publisher.ScheduleMode))
	}
	for family := range c.Publisher.ProfileIDs {
		if !validFamilies[family] {
			problems = append(problems, fmt.Sprintf("publisher.profile_ids key %q is not a known family", family))
		}
	}

	seen := map[string]bool{}
	for _, persona := range c.Avatar.Personas {
		if strings.TrimSpace(persona.AvatarID) == "" || strings.TrimSpace(persona.VoiceID) == "" {
			problems = append(problems, fmt.Sprintf("avatar persona %q must set avatar_id and voice_id", persona.Name))
		}
		if persona.Name != "" && seen[persona.Name] {
			problems = append(problems, fmt.Sprintf("avatar persona %q is defined twice", persona.Name))
		}
		seen[persona.Name] = true
	}

	if c.Storage.Bucket != "" {
		if strings.TrimSpace(c.Storage.Endpoint) == "" {
			problems = append(problems, "storage.endpoint must be set when storage.bucket is configured")
		}
		if strings.TrimSpace(c.Storage.PublicURL) == "" {
			problems = append(problems, "storage.public_url must be set when storage.bucket is configured")
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not text or json", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not debug, info, warn, or error", c.Logging.Level))
	}

	for service, budget := range c.RateLimit.PerWindow {
		if budget < 0 {
			problems = append(problems, fmt.Sprintf("rate_limit.per_window[%q] must not be negative", service))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ValidFamily reports whether the given record family is recognized.
func ValidFamily(family string) bool {
	return validFamilies[family]
}

// Families returns the known record families in stable order.
func Families() []string {
	return []string{"social", "podcast", "benefit", "property"}
}
