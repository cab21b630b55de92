// Package pipeline orchestrates content workflows from article claim to
// social publish. It owns the single advancement path shared by webhook
// handlers, the failsafe reconciler, and the synchronous polling mode, so a
// record moves through relay and status transitions identically regardless of
// which entry point observed the provider's completion.
package pipeline
