package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/records"
	"clipflow/internal/services"
	"clipflow/internal/services/avatar"
)

// StartRequest carries the inputs for one workflow start.
type StartRequest struct {
	Family       string
	WorkflowID   string
	Platforms    []string
	ScheduleMode string
	// SyncWait switches the workflow to synchronous polling instead of
	// webhook-driven advancement, used when the daemon is not reachable for
	// provider callbacks.
	SyncWait bool
}

// Start claims the newest unprocessed article for the family, creates a
// workflow record, and submits the avatar render. In webhook mode the call
// returns once the record reaches avatar processing; in sync mode it blocks
// polling the providers until the record settles.
func (p *Pipeline) Start(ctx context.Context, req StartRequest) (*records.Record, error) {
	family := strings.ToLower(strings.TrimSpace(req.Family))
	if !config.ValidFamily(family) {
		return nil, fmt.Errorf("unknown family %q", req.Family)
	}
	ctx = services.WithFamily(ctx, family)
	log := logging.WithContext(ctx, p.logger)

	if req.WorkflowID != "" {
		existing, err := p.store.GetByID(ctx, req.WorkflowID)
		switch {
		case errors.Is(err, records.ErrNotFound):
			// Fresh start with a caller-chosen id.
		case err != nil:
			return nil, err
		case existing.Family != family:
			return existing, fmt.Errorf("workflow %s belongs to family %q", existing.ID, existing.Family)
		case existing.Status == records.StatusPending:
			return p.resumePending(ctx, existing, req.SyncWait)
		default:
			return existing, services.Wrap(services.ErrDuplicate, "start", "resume",
				fmt.Sprintf("workflow %s is already %s", existing.ID, existing.Status), nil)
		}
	}

	article, err := p.articles.ClaimNext(ctx, family)
	if err != nil {
		return nil, err
	}

	body := strings.TrimSpace(article.Body)
	if len(body) < p.cfg.Workflow.MinArticleChars {
		if markErr := p.articles.MarkProcessed(ctx, article.ID, "skipped: content too short"); markErr != nil {
			log.Error("mark short article processed", logging.Error(markErr))
		}
		return nil, services.Wrap(services.ErrContentTooShort, "start", "validate",
			fmt.Sprintf("article %s has %d chars, need %d", article.ID, len(body), p.cfg.Workflow.MinArticleChars), nil)
	}

	persona, err := p.pickPersona(ctx, family)
	if err != nil {
		return nil, err
	}

	title := SanitizeTitle(article.Title)
	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = p.cfg.Publisher.Platforms
	}
	scheduleMode := req.ScheduleMode
	if scheduleMode == "" {
		scheduleMode = p.cfg.Publisher.ScheduleMode
	}

	record, err := p.store.Create(ctx, records.NewRecordInput{
		ID:           req.WorkflowID,
		Family:       family,
		ArticleID:    article.ID,
		Script:       body,
		Caption:      buildCaption(title, article.SourceURL),
		Title:        title,
		Persona:      persona.Name,
		Platforms:    platforms,
		ScheduleMode: scheduleMode,
	})
	if err != nil {
		if releaseErr := p.articles.ReleaseClaim(ctx, article.ID); releaseErr != nil {
			log.Error("release article claim", logging.Error(releaseErr))
		}
		return nil, err
	}
	ctx = services.WithRecordID(ctx, record.ID)
	log = logging.WithContext(ctx, p.logger)

	if err := p.articles.MarkProcessed(ctx, article.ID, "workflow:"+record.ID); err != nil {
		log.Error("mark article processed", logging.Error(err))
	}

	if err := p.submitAvatar(ctx, record, persona); err != nil {
		p.fail(ctx, record, err.Error())
		return record, err
	}

	log.Info("workflow started",
		logging.String("article_id", article.ID),
		logging.String("persona", persona.Name),
		logging.String("title", title))
	if err := p.notifier.NotifyWorkflowStarted(ctx, family, record.ID, title); err != nil {
		log.Warn("start notification", logging.Error(err))
	}

	if req.SyncWait {
		return p.pollToCompletion(ctx, record.ID)
	}
	return p.store.GetByID(ctx, record.ID)
}

// resumePending re-submits a pending record that was created earlier but
// never reached the avatar provider.
func (p *Pipeline) resumePending(ctx context.Context, record *records.Record, syncWait bool) (*records.Record, error) {
	if err := p.RestartPending(ctx, record); err != nil {
		refreshed, getErr := p.store.GetByID(ctx, record.ID)
		if getErr != nil {
			return record, err
		}
		return refreshed, err
	}
	if syncWait {
		return p.pollToCompletion(ctx, record.ID)
	}
	return p.store.GetByID(ctx, record.ID)
}

// RestartPending submits the avatar render for a pending record that never
// left the gate, typically because the daemon died between record creation
// and job submission.
func (p *Pipeline) RestartPending(ctx context.Context, record *records.Record) error {
	ctx = p.recordContext(ctx, record, "avatar")
	if record.Status != records.StatusPending {
		return fmt.Errorf("record %s is not pending", record.ID)
	}

	persona := p.personaByName(record.Persona)
	if persona == nil {
		fresh, err := p.pickPersona(ctx, record.Family)
		if err != nil {
			return err
		}
		persona = &fresh
	}

	if err := p.submitAvatar(ctx, record, *persona); err != nil {
		return p.handleStageError(ctx, record, err)
	}
	return nil
}

func (p *Pipeline) personaByName(name string) *config.Persona {
	for i := range p.cfg.Avatar.Personas {
		if p.cfg.Avatar.Personas[i].Name == name {
			return &p.cfg.Avatar.Personas[i]
		}
	}
	return nil
}

func (p *Pipeline) submitAvatar(ctx context.Context, record *records.Record, persona config.Persona) error {
	if err := p.allow(ctx, record.Family, "avatar"); err != nil {
		return err
	}

	jobID, err := p.avatar.Submit(ctx, avatar.SubmitRequest{
		Script:     record.Script,
		Persona:    persona,
		WebhookURL: p.cfg.AvatarWebhookURL(record.Family),
		CallbackID: record.ID,
	})
	if err != nil {
		return err
	}

	if err := p.store.MarkAvatarProcessing(ctx, record.ID, jobID); err != nil {
		return fmt.Errorf("record avatar job %s: %w", jobID, err)
	}
	return nil
}

func (p *Pipeline) pickPersona(ctx context.Context, family string) (config.Persona, error) {
	personas := p.cfg.Avatar.Personas
	if len(personas) == 0 {
		return config.Persona{}, services.Wrap(services.ErrConfiguration, "start", "persona", "no avatar personas configured", nil)
	}
	index, err := p.store.NextPersonaIndex(ctx, family)
	if err != nil {
		return config.Persona{}, err
	}
	return personas[index%len(personas)], nil
}

func buildCaption(title, sourceURL string) string {
	caption := title
	if sourceURL = strings.TrimSpace(sourceURL); sourceURL != "" {
		caption += "\n\n" + sourceURL
	}
	return caption
}
