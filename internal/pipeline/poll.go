package pipeline

import (
	"context"
	"fmt"
	"time"

	"clipflow/internal/logging"
	"clipflow/internal/records"
)

// pollToCompletion drives a record synchronously by polling the providers,
// used when the daemon cannot receive webhooks. Each processing stage has its
// own attempt budget; exhausting a budget fails the record.
func (p *Pipeline) pollToCompletion(ctx context.Context, recordID string) (*records.Record, error) {
	interval := time.Duration(p.cfg.Workflow.PollIntervalSeconds) * time.Second
	budgets := map[records.Status]int{
		records.StatusAvatarProcessing:   p.cfg.Workflow.AvatarPollAttempts,
		records.StatusEnhancerProcessing: p.cfg.Workflow.EnhancerPollAttempts,
	}
	attempts := map[records.Status]int{}

	for {
		record, err := p.store.GetByID(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if record.Terminal() {
			return record, nil
		}
		ctx := p.recordContext(ctx, record, string(record.Status))
		log := logging.WithContext(ctx, p.logger)

		if budget, tracked := budgets[record.Status]; tracked {
			attempts[record.Status]++
			if attempts[record.Status] > budget {
				p.fail(ctx, record, fmt.Sprintf("%s did not finish within %d poll attempts", record.Status, budget))
				return p.store.GetByID(ctx, recordID)
			}
		}

		switch record.Status {
		case records.StatusAvatarProcessing:
			if err := p.pollAvatar(ctx, record); err != nil {
				log.Warn("avatar poll attempt", logging.Error(err))
			}
		case records.StatusEnhancerProcessing:
			if err := p.pollEnhancer(ctx, record); err != nil {
				log.Warn("enhancer poll attempt", logging.Error(err))
			}
		case records.StatusPosting:
			if err := p.PublishRecord(ctx, record); err != nil {
				log.Warn("publish attempt", logging.Error(err))
			}
		default:
			return record, fmt.Errorf("record %s stalled in %s", record.ID, record.Status)
		}

		// Re-read before sleeping so a stage that advanced is polled
		// immediately instead of burning an interval.
		refreshed, err := p.store.GetByID(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if refreshed.Terminal() {
			return refreshed, nil
		}
		if refreshed.Status != record.Status {
			continue
		}

		select {
		case <-ctx.Done():
			return refreshed, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (p *Pipeline) pollAvatar(ctx context.Context, record *records.Record) error {
	status, err := p.avatar.Status(ctx, record.AvatarJobID)
	if err != nil {
		return err
	}
	switch {
	case status.Failed():
		p.OnAvatarFailed(ctx, record, "avatar render failed: "+status.Error)
		return nil
	case status.Completed() && status.MediaURL != "":
		return p.OnAvatarComplete(ctx, record, status.MediaURL)
	default:
		return nil
	}
}

func (p *Pipeline) pollEnhancer(ctx context.Context, record *records.Record) error {
	status, err := p.enhancer.Status(ctx, record.EnhancerProjectID)
	if err != nil {
		return err
	}
	switch {
	case status.Failed():
		p.OnEnhancerFailed(ctx, record, "enhancement failed")
		return nil
	case status.Composed():
		// DownloadURL may be empty here; OnEnhancerComplete triggers the
		// export exactly once and later polls pick up the rendered URL.
		return p.OnEnhancerComplete(ctx, record, status.DownloadURL)
	default:
		return nil
	}
}
