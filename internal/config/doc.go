// Package config loads, normalizes, and validates clipflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CLIPFLOW_AVATAR_API_KEY so secrets can stay out of the config file. The
// Config type centralizes every knob the daemon and CLI need, allowing data
// directories and external provider credentials to be discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
