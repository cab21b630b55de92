// Package reconciler is the polling failsafe behind the webhook-driven
// pipeline. Runs are single-flighted through a database lease and scan stuck
// records oldest first under per-family and global budgets, so a backlog
// drains across runs instead of hammering the providers in one pass.
package reconciler
