// Package logging assembles structured slog loggers and helpers used across
// clipflow components.
//
// It centralizes level and output plumbing for the text and JSON handlers and
// exposes context-aware helpers so pipeline code can automatically tag log
// lines with record IDs, families, stages, and correlation IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
