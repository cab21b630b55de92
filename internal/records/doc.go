// Package records persists workflow records backed by SQLite and owns every
// status transition in the content pipeline.
//
// Transitions into a processing status always write the external provider
// reference in the same UPDATE that flips the status, so a record can never
// be observed mid-stage without the reference needed to correlate webhooks or
// poll the provider. Conditional WHERE clauses on the prior status make
// transitions safe against concurrent webhook deliveries and reconciler runs;
// callers that lose the race receive ErrStaleTransition.
//
// The store also carries the supporting tables the rest of the system shares
// the database file for: reconciler leases, persona rotation cursors, and
// rate limit windows.
package records
