package pipeline

import (
	"context"
	"log/slog"

	"clipflow/internal/articles"
	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/mediastore"
	"clipflow/internal/notifications"
	"clipflow/internal/records"
	"clipflow/internal/services/avatar"
	"clipflow/internal/services/enhancer"
	"clipflow/internal/services/publisher"
)

// AvatarService is the slice of the avatar client the pipeline depends on.
type AvatarService interface {
	Submit(ctx context.Context, req avatar.SubmitRequest) (string, error)
	Status(ctx context.Context, jobID string) (avatar.JobStatus, error)
}

// EnhancerService is the slice of the enhancer client the pipeline depends on.
type EnhancerService interface {
	Submit(ctx context.Context, req enhancer.SubmitRequest) (string, error)
	Status(ctx context.Context, projectID string) (enhancer.ProjectStatus, error)
	Export(ctx context.Context, projectID string) error
}

// PublisherService is the slice of the scheduler client the pipeline depends on.
type PublisherService interface {
	Publish(ctx context.Context, req publisher.PublishRequest) (string, error)
}

// RateLimiter gates provider calls against the shared call budget.
type RateLimiter interface {
	Allow(ctx context.Context, caller, service string) error
}

// Pipeline drives workflow records through their stages. Webhook handlers,
// the reconciler, and the synchronous polling mode all advance records
// through the same methods, so relay and transition behavior cannot drift
// between entry points.
type Pipeline struct {
	cfg       *config.Config
	store     *records.Store
	articles  *articles.Store
	avatar    AvatarService
	enhancer  EnhancerService
	publisher PublisherService
	media     mediastore.Service
	limiter   RateLimiter
	notifier  notifications.Service
	logger    *slog.Logger
}

// Deps carries the collaborators for New.
type Deps struct {
	Config    *config.Config
	Store     *records.Store
	Articles  *articles.Store
	Avatar    AvatarService
	Enhancer  EnhancerService
	Publisher PublisherService
	Media     mediastore.Service
	Limiter   RateLimiter
	Notifier  notifications.Service
	Logger    *slog.Logger
}

// New wires a pipeline.
func New(deps Deps) *Pipeline {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(deps.Config)
	}
	return &Pipeline{
		cfg:       deps.Config,
		store:     deps.Store,
		articles:  deps.Articles,
		avatar:    deps.Avatar,
		enhancer:  deps.Enhancer,
		publisher: deps.Publisher,
		media:     deps.Media,
		limiter:   deps.Limiter,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(deps.Logger, "pipeline"),
	}
}

// Store exposes the record store for read-side consumers such as the API.
func (p *Pipeline) Store() *records.Store {
	return p.store
}

func (p *Pipeline) allow(ctx context.Context, family, service string) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Allow(ctx, family, service)
}

// fail moves a record to failed and sends the failure notification. A stale
// transition means another actor already settled the record, which is fine.
func (p *Pipeline) fail(ctx context.Context, record *records.Record, reason string) {
	log := logging.WithContext(ctx, p.logger)
	if err := p.store.MarkFailed(ctx, record.ID, reason); err != nil {
		log.Error("mark record failed", logging.String(logging.FieldRecordID, record.ID), logging.Error(err))
		return
	}
	log.Warn("workflow failed",
		logging.String(logging.FieldRecordID, record.ID),
		logging.String(logging.FieldFamily, record.Family),
		logging.String("reason", reason))
	if err := p.notifier.NotifyWorkflowFailed(ctx, record.Family, record.ID, reason); err != nil {
		log.Warn("failure notification", logging.Error(err))
	}
}
