package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrStaleTransition indicates a status transition matched no row, either
// because the record is gone or because it already moved to another state.
var ErrStaleTransition = errors.New("stale transition")

// MarkAvatarProcessing atomically moves a pending record into avatar
// processing while storing the provider job reference. The reference must be
// non-empty: a processing status without its reference would be invisible to
// both webhooks and the reconciler.
func (s *Store) MarkAvatarProcessing(ctx context.Context, id, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("mark avatar processing %s: empty job reference", id)
	}
	now := timestamp(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_records
         SET status = ?, avatar_job_id = ?, error_message = NULL,
             status_changed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusAvatarProcessing, jobID, now, now, id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark avatar processing: %w", err)
	}
	return requireAffected(res.RowsAffected())
}

// MarkEnhancerProcessing atomically advances a record into enhancer
// processing, storing both the relayed stage-one media URL and the enhancer
// project reference in the same update. Failed records holding relayed media
// are allowed through so they can resume at this stage.
func (s *Store) MarkEnhancerProcessing(ctx context.Context, id, projectID, avatarMediaURL string) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("mark enhancer processing %s: empty project reference", id)
	}
	if strings.TrimSpace(avatarMediaURL) == "" {
		return fmt.Errorf("mark enhancer processing %s: empty media url", id)
	}
	now := timestamp(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_records
         SET status = ?, enhancer_project_id = ?, avatar_media_url = ?,
             error_message = NULL, failed_at = NULL,
             status_changed_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusEnhancerProcessing, projectID, avatarMediaURL,
		now, now, id, StatusAvatarProcessing, StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("mark enhancer processing: %w", err)
	}
	return requireAffected(res.RowsAffected())
}

// MarkPosting advances a record to the posting stage with the relayed final
// media URL.
func (s *Store) MarkPosting(ctx context.Context, id, finalMediaURL string) error {
	if strings.TrimSpace(finalMediaURL) == "" {
		return fmt.Errorf("mark posting %s: empty media url", id)
	}
	now := timestamp(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_records
         SET status = ?, final_media_url = ?, error_message = NULL,
             status_changed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPosting, finalMediaURL, now, now, id, StatusEnhancerProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark posting: %w", err)
	}
	return requireAffected(res.RowsAffected())
}

// MarkCompleted finalizes a record after the publisher accepted the post.
func (s *Store) MarkCompleted(ctx context.Context, id, postID string) error {
	now := timestamp(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_records
         SET status = ?, post_id = ?, error_message = NULL, completed_at = ?,
             status_changed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted, nullableString(postID), now, now, now, id, StatusPosting,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireAffected(res.RowsAffected())
}

// MarkFailed records a failure reason and moves the record to failed. Already
// terminal records are left untouched.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	now := timestamp(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_records
         SET status = ?, error_message = ?, failed_at = ?,
             status_changed_at = ?, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		StatusFailed, nullableString(reason), now, now, now, id,
		StatusCompleted, StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireAffected(res.RowsAffected())
}

// MarkExportRequested records that a final render export has been triggered
// for a composed enhancer project. The conditional write makes the export
// idempotent: only the first caller acquires the marker.
func (s *Store) MarkExportRequested(ctx context.Context, id string) (bool, error) {
	now := timestamp(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_records
         SET export_requested_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND export_requested_at IS NULL`,
		now, now, id, StatusEnhancerProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("mark export requested: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark export requested: %w", err)
	}
	return affected == 1, nil
}

// IncrementRetry bumps the retry counter and stamps the retry time.
func (s *Store) IncrementRetry(ctx context.Context, id string) error {
	now := timestamp(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_records
         SET retry_count = retry_count + 1, last_retry_at = ?, updated_at = ?
         WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	return requireAffected(res.RowsAffected())
}

// ResetForRetry moves a failed record back to pending with cleared provider
// references so the pipeline can start it over from the script.
func (s *Store) ResetForRetry(ctx context.Context, id string) error {
	now := timestamp(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_records
         SET status = ?, avatar_job_id = NULL, enhancer_project_id = NULL,
             avatar_media_url = NULL, final_media_url = NULL, post_id = NULL,
             error_message = NULL, export_requested_at = NULL, failed_at = NULL,
             retry_count = 0, status_changed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending, now, now, id, StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	return requireAffected(res.RowsAffected())
}

// Touch refreshes updated_at without changing status, used by the reconciler
// to push a still-processing record to the back of the oldest-first scan.
func (s *Store) Touch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_records SET updated_at = ? WHERE id = ?`,
		timestamp(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("touch record: %w", err)
	}
	return requireAffected(res.RowsAffected())
}

// DeleteTerminal removes completed and failed records, returning the number
// deleted.
func (s *Store) DeleteTerminal(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM workflow_records WHERE status IN (?, ?)`,
		StatusCompleted, StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("delete terminal records: %w", err)
	}
	return res.RowsAffected()
}

func requireAffected(affected int64, err error) error {
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleTransition
	}
	return nil
}
