package pipeline

import (
	"context"
	"fmt"
	"time"

	"clipflow/internal/logging"
	"clipflow/internal/mediastore"
	"clipflow/internal/records"
	"clipflow/internal/services"
	"clipflow/internal/services/enhancer"
	"clipflow/internal/services/publisher"
)

// OnAvatarComplete advances a record whose avatar render finished. The
// provider URL is relayed to durable storage before any status change: when
// the relay fails the record stays in avatar processing and the reconciler
// retries the whole step from the still-valid provider URL.
func (p *Pipeline) OnAvatarComplete(ctx context.Context, record *records.Record, providerURL string) error {
	ctx = p.recordContext(ctx, record, "avatar")
	if record.Status != records.StatusAvatarProcessing {
		logging.WithContext(ctx, p.logger).Debug("avatar completion for settled record ignored",
			logging.String("status", string(record.Status)))
		return nil
	}

	if providerURL == "" {
		status, err := p.avatar.Status(ctx, record.AvatarJobID)
		if err != nil {
			return p.handleStageError(ctx, record, err)
		}
		if status.Failed() {
			p.fail(ctx, record, "avatar render failed: "+status.Error)
			return nil
		}
		if !status.Completed() || status.MediaURL == "" {
			return services.Wrap(services.ErrTimeout, "avatar", "complete", "render reported complete without media url", nil)
		}
		providerURL = status.MediaURL
	}

	permanentURL, err := p.media.Relay(ctx, providerURL, p.cfg.Avatar.APIKey, mediastore.MediaKey(record.Family, record.ID, "avatar"))
	if err != nil {
		return p.handleStageError(ctx, record, err)
	}

	if err := p.startEnhancement(ctx, record, permanentURL); err != nil {
		return p.handleStageError(ctx, record, err)
	}
	return nil
}

// OnAvatarFailed settles a record the avatar provider gave up on.
func (p *Pipeline) OnAvatarFailed(ctx context.Context, record *records.Record, reason string) {
	ctx = p.recordContext(ctx, record, "avatar")
	if record.Status != records.StatusAvatarProcessing {
		return
	}
	if reason == "" {
		reason = "avatar render failed"
	}
	p.fail(ctx, record, reason)
}

// startEnhancement submits the relayed stage-one media to the enhancer and
// advances the record. Also the resume path for failed records that already
// hold durable media.
func (p *Pipeline) startEnhancement(ctx context.Context, record *records.Record, mediaURL string) error {
	if err := p.allow(ctx, record.Family, "enhancer"); err != nil {
		return err
	}

	projectID, err := p.enhancer.Submit(ctx, enhancer.SubmitRequest{
		Title:      record.Title,
		MediaURL:   mediaURL,
		WebhookURL: p.cfg.EnhancerWebhookURL(record.Family),
		Broll:      brollSettings(record.Family),
	})
	if err != nil {
		return err
	}

	if err := p.store.MarkEnhancerProcessing(ctx, record.ID, projectID, mediaURL); err != nil {
		return fmt.Errorf("record enhancer project %s: %w", projectID, err)
	}

	logging.WithContext(ctx, p.logger).Info("enhancement started",
		logging.String("project_id", projectID))
	return nil
}

// ResumeFromMedia restarts a failed record at the enhancement stage using its
// already-relayed stage-one media.
func (p *Pipeline) ResumeFromMedia(ctx context.Context, record *records.Record) error {
	ctx = p.recordContext(ctx, record, "enhancer")
	if record.Status != records.StatusFailed || record.AvatarMediaURL == "" || record.EnhancerProjectID != "" {
		return fmt.Errorf("record %s is not resumable", record.ID)
	}
	return p.startEnhancement(ctx, record, record.AvatarMediaURL)
}

// OnEnhancerComplete advances a record whose enhancer project reported a
// completed state. Completion without a download URL means only composition
// finished: the final render export is triggered exactly once and the record
// stays in enhancer processing until the render callback arrives.
func (p *Pipeline) OnEnhancerComplete(ctx context.Context, record *records.Record, downloadURL string) error {
	ctx = p.recordContext(ctx, record, "enhancer")
	if record.Status != records.StatusEnhancerProcessing {
		logging.WithContext(ctx, p.logger).Debug("enhancer completion for settled record ignored",
			logging.String("status", string(record.Status)))
		return nil
	}
	log := logging.WithContext(ctx, p.logger)

	if downloadURL == "" {
		acquired, err := p.store.MarkExportRequested(ctx, record.ID)
		if err != nil {
			return err
		}
		if !acquired {
			log.Debug("final render export already requested")
			return nil
		}
		if err := p.enhancer.Export(ctx, record.EnhancerProjectID); err != nil {
			return p.handleStageError(ctx, record, err)
		}
		log.Info("final render export triggered")
		return nil
	}

	permanentURL, err := p.media.Relay(ctx, downloadURL, p.cfg.Enhancer.APIKey, mediastore.MediaKey(record.Family, record.ID, "final"))
	if err != nil {
		return p.handleStageError(ctx, record, err)
	}

	if err := p.store.MarkPosting(ctx, record.ID, permanentURL); err != nil {
		return err
	}
	record, err = p.store.GetByID(ctx, record.ID)
	if err != nil {
		return err
	}
	return p.PublishRecord(ctx, record)
}

// OnEnhancerFailed settles a record the enhancer provider gave up on.
func (p *Pipeline) OnEnhancerFailed(ctx context.Context, record *records.Record, reason string) {
	ctx = p.recordContext(ctx, record, "enhancer")
	if record.Status != records.StatusEnhancerProcessing {
		return
	}
	if reason == "" {
		reason = "enhancement failed"
	}
	p.fail(ctx, record, reason)
}

// PublishRecord submits a posting record to the scheduler and completes it.
// On transient publisher errors the record stays in posting so the reconciler
// can retry it after the posting retry window.
func (p *Pipeline) PublishRecord(ctx context.Context, record *records.Record) error {
	ctx = p.recordContext(ctx, record, "posting")
	if record.Status != records.StatusPosting {
		return fmt.Errorf("record %s is not in posting", record.ID)
	}
	log := logging.WithContext(ctx, p.logger)

	profileID := p.cfg.Publisher.ProfileIDs[record.Family]
	if profileID == "" {
		p.fail(ctx, record, "no publisher profile configured for family "+record.Family)
		return nil
	}

	scheduleAt, err := publisher.ScheduleTime(record.ScheduleMode, time.Now())
	if err != nil {
		p.fail(ctx, record, err.Error())
		return nil
	}

	if err := p.allow(ctx, record.Family, "publisher"); err != nil {
		return p.handleStageError(ctx, record, err)
	}

	postID, err := p.publisher.Publish(ctx, publisher.PublishRequest{
		ProfileID:  profileID,
		MediaURL:   record.FinalMediaURL,
		Caption:    record.Caption,
		Title:      record.Title,
		Platforms:  record.Platforms,
		ScheduleAt: scheduleAt,
	})
	if err != nil {
		return p.handleStageError(ctx, record, err)
	}

	if err := p.store.MarkCompleted(ctx, record.ID, postID); err != nil {
		return err
	}
	log.Info("workflow completed", logging.String("post_id", postID))
	if err := p.notifier.NotifyPublished(ctx, record.Family, record.ID, postID); err != nil {
		log.Warn("publish notification", logging.Error(err))
	}
	return nil
}

// handleStageError applies the retry policy to a stage failure: terminal
// errors settle the record immediately, transient errors consume one retry
// and leave the record in place for the next webhook or reconciler pass.
func (p *Pipeline) handleStageError(ctx context.Context, record *records.Record, stageErr error) error {
	log := logging.WithContext(ctx, p.logger)
	if services.Terminal(stageErr) {
		p.fail(ctx, record, stageErr.Error())
		return stageErr
	}

	if record.RetryCount+1 >= p.cfg.Workflow.MaxRetries {
		p.fail(ctx, record, fmt.Sprintf("%s (after %d retries)", stageErr.Error(), record.RetryCount+1))
		return services.Wrap(services.ErrMaxRetries, "pipeline", "retry", stageErr.Error(), nil)
	}

	if err := p.store.IncrementRetry(ctx, record.ID); err != nil {
		log.Error("increment retry", logging.Error(err))
	}
	log.Warn("stage attempt failed, will retry",
		logging.Int("retry_count", record.RetryCount+1),
		logging.Error(stageErr))
	return stageErr
}

func (p *Pipeline) recordContext(ctx context.Context, record *records.Record, stage string) context.Context {
	ctx = services.WithRecordID(ctx, record.ID)
	ctx = services.WithFamily(ctx, record.Family)
	return services.WithStage(ctx, stage)
}
