package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/notifications"
	"clipflow/internal/pipeline"
	"clipflow/internal/ratelimit"
	"clipflow/internal/records"
	"clipflow/internal/services"
)

// leaseName is the shared single-flight lock for reconcile runs.
const leaseName = "reconcile"

// Report summarizes one reconcile run.
type Report struct {
	// Skipped is true when another run held the lease and nothing was done.
	Skipped bool

	Found           int
	Advanced        int
	Failed          int
	StillProcessing int
	SkippedByCap    int
	PendingStarted  int
	PostingRetried  int
	Recovered       int
	Errors          int
	Duration        time.Duration
}

// Summary renders the report for logs and notifications.
func (r Report) Summary() string {
	if r.Skipped {
		return "reconcile skipped: another run in progress"
	}
	return fmt.Sprintf(
		"reconcile: found=%d advanced=%d failed=%d still_processing=%d capped=%d pending_started=%d posting_retried=%d recovered=%d errors=%d in %s",
		r.Found, r.Advanced, r.Failed, r.StillProcessing, r.SkippedByCap,
		r.PendingStarted, r.PostingRetried, r.Recovered, r.Errors,
		r.Duration.Round(time.Millisecond))
}

// Reconciler is the polling failsafe behind the webhook-driven pipeline. It
// scans processing records oldest first, queries the providers directly, and
// advances or settles records whose webhooks never arrived.
type Reconciler struct {
	cfg      *config.Config
	store    *records.Store
	pipe     *pipeline.Pipeline
	avatar   pipeline.AvatarService
	enhancer pipeline.EnhancerService
	notifier notifications.Service
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	holder   string
	now      func() time.Time
}

// Deps carries the collaborators for New.
type Deps struct {
	Config   *config.Config
	Store    *records.Store
	Pipeline *pipeline.Pipeline
	Avatar   pipeline.AvatarService
	Enhancer pipeline.EnhancerService
	Notifier notifications.Service
	// Limiter is optional; when set, expired rate windows are pruned at the
	// end of every run.
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
}

// New wires a reconciler.
func New(deps Deps) *Reconciler {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(deps.Config)
	}
	return &Reconciler{
		cfg:      deps.Config,
		store:    deps.Store,
		pipe:     deps.Pipeline,
		avatar:   deps.Avatar,
		enhancer: deps.Enhancer,
		notifier: notifier,
		limiter:  deps.Limiter,
		logger:   logging.NewComponentLogger(deps.Logger, "reconciler"),
		holder:   uuid.NewString(),
		now:      time.Now,
	}
}

// WithClock overrides time lookup, used by tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Reconcile performs one full run. Concurrent runs are excluded through a
// database lease, so overlapping cron triggers and manual API calls collapse
// to a single scan.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	start := r.now()

	ttl := time.Duration(r.cfg.Workflow.ReconcileLeaseSeconds) * time.Second
	acquired, err := r.store.AcquireLease(ctx, leaseName, r.holder, ttl)
	if err != nil {
		return Report{}, err
	}
	if !acquired {
		r.logger.Info("reconcile skipped: lease held by another run")
		return Report{Skipped: true}, nil
	}
	defer func() {
		if err := r.store.ReleaseLease(context.WithoutCancel(ctx), leaseName, r.holder); err != nil {
			r.logger.Error("release reconcile lease", logging.Error(err))
		}
	}()

	report := Report{}
	budget := r.cfg.Workflow.ReconcileGlobalLimit

	for _, family := range config.Families() {
		r.scanProcessing(ctx, family, &report, &budget)
		r.sweepPending(ctx, family, &report)
		r.retryPosting(ctx, family, &report)
		r.recoverFailed(ctx, family, &report)
	}

	if r.limiter != nil {
		if pruned, err := r.limiter.Prune(ctx); err != nil {
			r.logger.Warn("prune rate windows", logging.Error(err))
		} else if pruned > 0 {
			r.logger.Debug("pruned expired rate windows", logging.Int64("windows", pruned))
		}
	}

	report.Duration = r.now().Sub(start)
	r.logger.Info("reconcile finished", logging.String("report", report.Summary()))
	if err := r.notifier.NotifyReconcileReport(ctx, report.Summary()); err != nil {
		r.logger.Warn("reconcile notification", logging.Error(err))
	}
	return report, nil
}

// scanProcessing examines stuck processing records for one family. The
// per-family list is bounded, and provider-touching work across all families
// shares a global budget so a single run stays short even with a deep
// backlog; records over the cap wait for the next run.
func (r *Reconciler) scanProcessing(ctx context.Context, family string, report *Report, budget *int) {
	for _, status := range records.ProcessingStatuses() {
		batch, err := r.store.ListByStatus(ctx, family, status, r.cfg.Workflow.ReconcileFamilyLimit)
		if err != nil {
			r.logger.Error("list processing records", logging.String(logging.FieldFamily, family), logging.Error(err))
			report.Errors++
			continue
		}
		report.Found += len(batch)

		for _, record := range batch {
			if *budget <= 0 {
				report.SkippedByCap++
				continue
			}
			if r.settleMissingReference(ctx, record, report) {
				continue
			}
			if r.settleExhaustedRetries(ctx, record, report) {
				continue
			}

			*budget--
			r.checkRemote(ctx, record, report)
		}
	}
}

// settleMissingReference handles the invariant-violating case of a
// processing record without its provider reference. Inside the grace window
// the record is left alone in case the reference write is still in flight;
// past it the record is failed.
func (r *Reconciler) settleMissingReference(ctx context.Context, record *records.Record, report *Report) bool {
	if record.StageReference() != "" {
		return false
	}

	changedAt, fellBack := record.EffectiveStatusChangedAt()
	if fellBack {
		r.logger.Warn("record missing status_changed_at, using updated_at",
			logging.String(logging.FieldRecordID, record.ID))
	}

	grace := time.Duration(r.cfg.Workflow.MissingRefGraceMinutes) * time.Minute
	if r.now().Sub(changedAt) < grace {
		report.StillProcessing++
		return true
	}

	r.failRecord(ctx, record, fmt.Sprintf("no provider reference after %s in %s", grace, record.Status), report)
	return true
}

func (r *Reconciler) settleExhaustedRetries(ctx context.Context, record *records.Record, report *Report) bool {
	if record.RetryCount < r.cfg.Workflow.MaxRetries {
		return false
	}
	r.failRecord(ctx, record, fmt.Sprintf("%v: %d attempts", services.ErrMaxRetries, record.RetryCount), report)
	return true
}

// checkRemote queries the provider for the record's stage and relays any
// completion through the pipeline. Provider lookup failures leave the record
// untouched for the next run.
func (r *Reconciler) checkRemote(ctx context.Context, record *records.Record, report *Report) {
	ctx = services.WithRecordID(services.WithFamily(ctx, record.Family), record.ID)
	log := logging.WithContext(ctx, r.logger)

	switch record.Status {
	case records.StatusAvatarProcessing:
		status, err := r.avatar.Status(ctx, record.AvatarJobID)
		if err != nil {
			log.Warn("avatar status lookup failed, leaving for next run", logging.Error(err))
			report.Errors++
			return
		}
		switch {
		case status.Failed():
			r.pipe.OnAvatarFailed(ctx, record, "avatar render failed: "+status.Error)
			report.Failed++
		case status.Completed() && status.MediaURL != "":
			// Retry bookkeeping is stamped before the advance so a crash
			// mid-relay still counts against the record's budget.
			if err := r.store.IncrementRetry(ctx, record.ID); err != nil {
				log.Error("record retry attempt", logging.Error(err))
				report.Errors++
				return
			}
			if err := r.pipe.OnAvatarComplete(ctx, record, status.MediaURL); err != nil {
				log.Warn("advance from avatar completion", logging.Error(err))
				report.Errors++
				return
			}
			report.Advanced++
		default:
			r.touchStillProcessing(ctx, record)
			report.StillProcessing++
		}

	case records.StatusEnhancerProcessing:
		status, err := r.enhancer.Status(ctx, record.EnhancerProjectID)
		if err != nil {
			log.Warn("enhancer status lookup failed, leaving for next run", logging.Error(err))
			report.Errors++
			return
		}
		switch {
		case status.Failed():
			r.pipe.OnEnhancerFailed(ctx, record, "enhancement failed")
			report.Failed++
		case status.Composed():
			// The export trigger is idempotent on its own marker; only the
			// rendered-artifact path counts as a re-submission.
			if status.DownloadURL != "" {
				if err := r.store.IncrementRetry(ctx, record.ID); err != nil {
					log.Error("record retry attempt", logging.Error(err))
					report.Errors++
					return
				}
			}
			if err := r.pipe.OnEnhancerComplete(ctx, record, status.DownloadURL); err != nil {
				log.Warn("advance from enhancer completion", logging.Error(err))
				report.Errors++
				return
			}
			report.Advanced++
		default:
			r.touchStillProcessing(ctx, record)
			report.StillProcessing++
		}
	}
}

// touchStillProcessing pushes a confirmed-in-flight record to the back of the
// oldest-first scan so the next run looks at other records first.
func (r *Reconciler) touchStillProcessing(ctx context.Context, record *records.Record) {
	if err := r.store.Touch(ctx, record.ID); err != nil {
		r.logger.Warn("touch still-processing record",
			logging.String(logging.FieldRecordID, record.ID), logging.Error(err))
	}
}

// sweepPending restarts pending records that never got their avatar job
// submitted, bounded per run so a backlog of stale records cannot flood the
// provider.
func (r *Reconciler) sweepPending(ctx context.Context, family string, report *Report) {
	cutoff := r.now().Add(-time.Duration(r.cfg.Workflow.PendingRestartMinutes) * time.Minute)
	batch, err := r.store.ListPendingOlderThan(ctx, family, cutoff, r.cfg.Workflow.PendingStartLimitPerRun)
	if err != nil {
		r.logger.Error("list stale pending", logging.String(logging.FieldFamily, family), logging.Error(err))
		report.Errors++
		return
	}

	for _, record := range batch {
		if err := r.pipe.RestartPending(ctx, record); err != nil {
			r.logger.Warn("restart pending record",
				logging.String(logging.FieldRecordID, record.ID), logging.Error(err))
			report.Errors++
			continue
		}
		report.PendingStarted++
	}
}

// retryPosting resubmits posting records stuck past the posting retry window.
func (r *Reconciler) retryPosting(ctx context.Context, family string, report *Report) {
	cutoff := r.now().Add(-time.Duration(r.cfg.Workflow.PostingRetryMinutes) * time.Minute)
	batch, err := r.store.ListPostingOlderThan(ctx, family, cutoff, r.cfg.Workflow.ReconcileFamilyLimit)
	if err != nil {
		r.logger.Error("list stale posting", logging.String(logging.FieldFamily, family), logging.Error(err))
		report.Errors++
		return
	}

	for _, record := range batch {
		if err := r.pipe.PublishRecord(ctx, record); err != nil {
			r.logger.Warn("retry posting record",
				logging.String(logging.FieldRecordID, record.ID), logging.Error(err))
			report.Errors++
			continue
		}
		report.PostingRetried++
	}
}

// recoverFailed resumes failed records that already hold durable stage-one
// media, restarting them at the enhancement stage rather than regenerating
// the avatar render.
func (r *Reconciler) recoverFailed(ctx context.Context, family string, report *Report) {
	batch, err := r.store.ListRecoverable(ctx, family, r.cfg.Workflow.PendingStartLimitPerRun)
	if err != nil {
		r.logger.Error("list recoverable records", logging.String(logging.FieldFamily, family), logging.Error(err))
		report.Errors++
		return
	}

	for _, record := range batch {
		if err := r.pipe.ResumeFromMedia(ctx, record); err != nil {
			r.logger.Warn("resume failed record",
				logging.String(logging.FieldRecordID, record.ID), logging.Error(err))
			report.Errors++
			continue
		}
		report.Recovered++
	}
}

func (r *Reconciler) failRecord(ctx context.Context, record *records.Record, reason string, report *Report) {
	if err := r.store.MarkFailed(ctx, record.ID, reason); err != nil {
		r.logger.Error("mark record failed",
			logging.String(logging.FieldRecordID, record.ID), logging.Error(err))
		report.Errors++
		return
	}
	r.logger.Warn("record failed by reconciler",
		logging.String(logging.FieldRecordID, record.ID),
		logging.String("reason", reason))
	if err := r.notifier.NotifyWorkflowFailed(ctx, record.Family, record.ID, reason); err != nil {
		r.logger.Warn("failure notification", logging.Error(err))
	}
	report.Failed++
}
