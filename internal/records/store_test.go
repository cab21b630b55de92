package records_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"clipflow/internal/records"
	"clipflow/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	record, err := store.Create(ctx, records.NewRecordInput{
		Family: "social",
		Script: "generated script",
		Title:  "Sample Title",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if record.ID == "" {
		t.Fatal("expected record ID to be assigned")
	}
	if record.Status != records.StatusPending {
		t.Fatalf("expected pending status, got %s", record.Status)
	}
	if record.StatusChangedAt == nil {
		t.Fatal("expected status_changed_at to be stamped on create")
	}

	fetched, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Title != "Sample Title" {
		t.Fatalf("unexpected fetched record: %#v", fetched)
	}
}

func TestCreateRequiresFamily(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Create(context.Background(), records.NewRecordInput{Script: "script"}); err == nil {
		t.Fatal("expected error when family missing")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, err := store.GetByID(context.Background(), "missing")
	if !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	record := testsupport.NewRecord(t, store, "social")

	if err := store.MarkAvatarProcessing(ctx, record.ID, "job-1"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}
	updated, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != records.StatusAvatarProcessing || updated.AvatarJobID != "job-1" {
		t.Fatalf("expected avatar_processing with job reference, got %#v", updated)
	}
	if updated.StageReference() != "job-1" {
		t.Fatalf("unexpected stage reference %q", updated.StageReference())
	}

	if err := store.MarkEnhancerProcessing(ctx, record.ID, "project-1", "http://media/stage1.mp4"); err != nil {
		t.Fatalf("MarkEnhancerProcessing failed: %v", err)
	}
	if err := store.MarkPosting(ctx, record.ID, "http://media/final.mp4"); err != nil {
		t.Fatalf("MarkPosting failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, record.ID, "post-1"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	final, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != records.StatusCompleted || final.PostID != "post-1" {
		t.Fatalf("unexpected final record: %#v", final)
	}
	if final.CompletedAt == nil {
		t.Fatal("expected completed_at to be stamped")
	}
	if !final.Terminal() {
		t.Fatal("expected completed record to be terminal")
	}
}

func TestMarkAvatarProcessingRejectsEmptyReference(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	record := testsupport.NewRecord(t, store, "social")
	if err := store.MarkAvatarProcessing(context.Background(), record.ID, "  "); err == nil {
		t.Fatal("expected error for empty job reference")
	}

	updated, err := store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != records.StatusPending {
		t.Fatalf("record should remain pending, got %s", updated.Status)
	}
}

func TestStaleTransitionDetected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	record := testsupport.NewRecord(t, store, "social")
	if err := store.MarkAvatarProcessing(ctx, record.ID, "job-1"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}

	// Second submission attempt loses the race: the record already left pending.
	err := store.MarkAvatarProcessing(ctx, record.ID, "job-2")
	if !errors.Is(err, records.ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}

	updated, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.AvatarJobID != "job-1" {
		t.Fatalf("job reference should be unchanged, got %q", updated.AvatarJobID)
	}

	if err := store.MarkPosting(ctx, record.ID, "http://media/final.mp4"); !errors.Is(err, records.ErrStaleTransition) {
		t.Fatalf("posting from avatar_processing should be stale, got %v", err)
	}
}

func TestMarkEnhancerProcessingResumesFailedRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	record := testsupport.NewRecord(t, store, "benefit")
	if err := store.MarkAvatarProcessing(ctx, record.ID, "job-1"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}
	if err := store.MarkFailed(ctx, record.ID, "enhancer submit timed out"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	if err := store.MarkEnhancerProcessing(ctx, record.ID, "project-9", "http://media/stage1.mp4"); err != nil {
		t.Fatalf("resume into enhancer_processing failed: %v", err)
	}

	updated, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != records.StatusEnhancerProcessing {
		t.Fatalf("expected enhancer_processing, got %s", updated.Status)
	}
	if updated.ErrorMessage != "" || updated.FailedAt != nil {
		t.Fatalf("failure fields should be cleared, got %#v", updated)
	}
}

func TestMarkFailedSkipsTerminalRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	record := testsupport.NewRecord(t, store, "social")
	if err := store.MarkAvatarProcessing(ctx, record.ID, "job-1"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}
	if err := store.MarkEnhancerProcessing(ctx, record.ID, "project-1", "http://media/stage1.mp4"); err != nil {
		t.Fatalf("MarkEnhancerProcessing failed: %v", err)
	}
	if err := store.MarkPosting(ctx, record.ID, "http://media/final.mp4"); err != nil {
		t.Fatalf("MarkPosting failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, record.ID, "post-1"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	if err := store.MarkFailed(ctx, record.ID, "late failure"); !errors.Is(err, records.ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition for completed record, got %v", err)
	}

	updated, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != records.StatusCompleted {
		t.Fatalf("completed record must stay completed, got %s", updated.Status)
	}
}

func TestMarkExportRequestedAcquiresOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	record := testsupport.NewRecord(t, store, "social")
	if err := store.MarkAvatarProcessing(ctx, record.ID, "job-1"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}
	if err := store.MarkEnhancerProcessing(ctx, record.ID, "project-1", "http://media/stage1.mp4"); err != nil {
		t.Fatalf("MarkEnhancerProcessing failed: %v", err)
	}

	acquired, err := store.MarkExportRequested(ctx, record.ID)
	if err != nil {
		t.Fatalf("MarkExportRequested failed: %v", err)
	}
	if !acquired {
		t.Fatal("first caller should acquire the export marker")
	}

	again, err := store.MarkExportRequested(ctx, record.ID)
	if err != nil {
		t.Fatalf("second MarkExportRequested failed: %v", err)
	}
	if again {
		t.Fatal("duplicate export acquisition must be rejected")
	}

	updated, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.ExportRequestedAt == nil {
		t.Fatal("expected export_requested_at to be stamped")
	}
}

func TestMarkExportRequestedRequiresEnhancerStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	record := testsupport.NewRecord(t, store, "social")
	acquired, err := store.MarkExportRequested(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("MarkExportRequested failed: %v", err)
	}
	if acquired {
		t.Fatal("pending record must not acquire an export marker")
	}
}

func TestFindByProviderReferences(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	record := testsupport.NewRecord(t, store, "podcast")
	if err := store.MarkAvatarProcessing(ctx, record.ID, "job-77"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}

	found, err := store.FindByAvatarJobID(ctx, "job-77")
	if err != nil {
		t.Fatalf("FindByAvatarJobID failed: %v", err)
	}
	if found.ID != record.ID {
		t.Fatalf("expected record %s, got %s", record.ID, found.ID)
	}

	if _, err := store.FindByAvatarJobID(ctx, "unknown"); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown job, got %v", err)
	}
	if _, err := store.FindByEnhancerProjectID(ctx, ""); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty project reference, got %v", err)
	}
}

func TestIncrementRetryAndReset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	record := testsupport.NewRecord(t, store, "social")
	if err := store.MarkAvatarProcessing(ctx, record.ID, "job-1"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.IncrementRetry(ctx, record.ID); err != nil {
			t.Fatalf("IncrementRetry failed: %v", err)
		}
	}
	if err := store.MarkFailed(ctx, record.ID, "gave up"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	failed, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if failed.RetryCount != 2 || failed.LastRetryAt == nil {
		t.Fatalf("unexpected retry bookkeeping: %#v", failed)
	}

	if err := store.ResetForRetry(ctx, record.ID); err != nil {
		t.Fatalf("ResetForRetry failed: %v", err)
	}
	reset, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reset.Status != records.StatusPending {
		t.Fatalf("expected pending after reset, got %s", reset.Status)
	}
	if reset.AvatarJobID != "" || reset.EnhancerProjectID != "" || reset.RetryCount != 0 {
		t.Fatalf("reset should clear provider references and retries: %#v", reset)
	}
	if reset.ErrorMessage != "" || reset.FailedAt != nil {
		t.Fatalf("reset should clear failure fields: %#v", reset)
	}
}

func TestResetForRetryRequiresFailedStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	record := testsupport.NewRecord(t, store, "social")
	if err := store.ResetForRetry(context.Background(), record.ID); !errors.Is(err, records.ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition for pending record, got %v", err)
	}
}

func TestListPendingOlderThan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	old := testsupport.NewRecord(t, store, "social")
	testsupport.NewRecord(t, store, "social")

	stale, err := store.ListPendingOlderThan(ctx, "social", time.Now().Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("ListPendingOlderThan failed: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected both records before a future cutoff, got %d", len(stale))
	}
	if stale[0].ID != old.ID {
		t.Fatalf("expected oldest record first, got %s", stale[0].ID)
	}

	none, err := store.ListPendingOlderThan(ctx, "social", time.Now().Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("ListPendingOlderThan failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no records before a past cutoff, got %d", len(none))
	}
}

func TestListRecoverable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	// Failed with relayed media and no enhancer project: recoverable.
	withMedia := testsupport.NewRecord(t, store, "social")
	if err := store.MarkAvatarProcessing(ctx, withMedia.ID, "job-a"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}
	if err := store.MarkEnhancerProcessing(ctx, withMedia.ID, "project-a", "http://media/a.mp4"); err != nil {
		t.Fatalf("MarkEnhancerProcessing failed: %v", err)
	}
	if err := store.MarkFailed(ctx, withMedia.ID, "render failed"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	// Clear the project reference so the row looks like a pre-enhancer failure.
	if _, err := store.DB().ExecContext(ctx,
		"UPDATE workflow_records SET enhancer_project_id = NULL WHERE id = ?", withMedia.ID); err != nil {
		t.Fatalf("clear project reference: %v", err)
	}

	// Failed before any media was relayed: not recoverable.
	noMedia := testsupport.NewRecord(t, store, "social")
	if err := store.MarkAvatarProcessing(ctx, noMedia.ID, "job-b"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}
	if err := store.MarkFailed(ctx, noMedia.ID, "avatar failed"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	recoverable, err := store.ListRecoverable(ctx, "social", 0)
	if err != nil {
		t.Fatalf("ListRecoverable failed: %v", err)
	}
	if len(recoverable) != 1 || recoverable[0].ID != withMedia.ID {
		t.Fatalf("expected only the record with relayed media, got %#v", recoverable)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewRecord(t, store, "social")
	processing := testsupport.NewRecord(t, store, "social")
	if err := store.MarkAvatarProcessing(ctx, processing.ID, "job-1"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 records, got %d", stats.Total)
	}
	if stats.ByStatus[records.StatusPending] != 1 || stats.ByStatus[records.StatusAvatarProcessing] != 1 {
		t.Fatalf("unexpected status counts: %#v", stats.ByStatus)
	}
}

func TestLeaseSingleFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	acquired, err := store.AcquireLease(ctx, "reconcile", "holder-a", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}
	if !acquired {
		t.Fatal("first holder should acquire the lease")
	}

	stolen, err := store.AcquireLease(ctx, "reconcile", "holder-b", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}
	if stolen {
		t.Fatal("unexpired lease must not transfer to another holder")
	}

	// Same holder may refresh its own lease.
	refreshed, err := store.AcquireLease(ctx, "reconcile", "holder-a", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}
	if !refreshed {
		t.Fatal("holder should be able to refresh its own lease")
	}

	if err := store.ReleaseLease(ctx, "reconcile", "holder-a"); err != nil {
		t.Fatalf("ReleaseLease failed: %v", err)
	}
	taken, err := store.AcquireLease(ctx, "reconcile", "holder-b", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}
	if !taken {
		t.Fatal("released lease should be available to a new holder")
	}
}

func TestLeaseExpiryTakeover(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.AcquireLease(ctx, "reconcile", "holder-a", -time.Second); err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}

	taken, err := store.AcquireLease(ctx, "reconcile", "holder-b", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}
	if !taken {
		t.Fatal("expired lease should be taken over")
	}
}

func TestNextPersonaIndexAdvancesPerFamily(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for want := 0; want < 3; want++ {
		index, err := store.NextPersonaIndex(ctx, "social")
		if err != nil {
			t.Fatalf("NextPersonaIndex failed: %v", err)
		}
		if index != want {
			t.Fatalf("expected index %d, got %d", want, index)
		}
	}

	other, err := store.NextPersonaIndex(ctx, "podcast")
	if err != nil {
		t.Fatalf("NextPersonaIndex failed: %v", err)
	}
	if other != 0 {
		t.Fatalf("families must rotate independently, got %d", other)
	}
}

func TestDeleteTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	keep := testsupport.NewRecord(t, store, "social")
	gone := testsupport.NewRecord(t, store, "social")
	if err := store.MarkAvatarProcessing(ctx, gone.ID, "job-x"); err != nil {
		t.Fatalf("MarkAvatarProcessing failed: %v", err)
	}
	if err := store.MarkFailed(ctx, gone.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	deleted, err := store.DeleteTerminal(ctx)
	if err != nil {
		t.Fatalf("DeleteTerminal failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted record, got %d", deleted)
	}
	if _, err := store.GetByID(ctx, keep.ID); err != nil {
		t.Fatalf("pending record should survive: %v", err)
	}
	if _, err := store.GetByID(ctx, gone.ID); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected failed record to be deleted, got %v", err)
	}
}

func TestEffectiveStatusChangedAtFallsBack(t *testing.T) {
	changed := time.Now().Add(-time.Hour)
	record := &records.Record{StatusChangedAt: &changed, UpdatedAt: time.Now()}
	got, fellBack := record.EffectiveStatusChangedAt()
	if fellBack || !got.Equal(changed) {
		t.Fatalf("expected status_changed_at without fallback, got %v fellBack=%v", got, fellBack)
	}

	legacy := &records.Record{UpdatedAt: time.Now()}
	got, fellBack = legacy.EffectiveStatusChangedAt()
	if !fellBack || !got.Equal(legacy.UpdatedAt) {
		t.Fatalf("expected updated_at fallback, got %v fellBack=%v", got, fellBack)
	}
}
