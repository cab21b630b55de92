package main

import (
	"log/slog"
	"strings"
	"sync"

	"clipflow/internal/articles"
	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/mediastore"
	"clipflow/internal/pipeline"
	"clipflow/internal/ratelimit"
	"clipflow/internal/reconciler"
	"clipflow/internal/records"
	"clipflow/internal/services/avatar"
	"clipflow/internal/services/enhancer"
	"clipflow/internal/services/publisher"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	store    *records.Store
	articles *articles.Store
	logger   *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	c.logger = logger
	return logger, nil
}

func (c *commandContext) ensureStore() (*records.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := records.Open(cfg)
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

func (c *commandContext) ensureArticles() (*articles.Store, error) {
	if c.articles != nil {
		return c.articles, nil
	}
	store, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	articleStore, err := articles.NewStore(store.DB())
	if err != nil {
		return nil, err
	}
	c.articles = articleStore
	return articleStore, nil
}

// buildPipeline wires the full provider stack. Commands that only read the
// store never call this, so provider credentials stay optional for them.
func (c *commandContext) buildPipeline() (*pipeline.Pipeline, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	store, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	articleStore, err := c.ensureArticles()
	if err != nil {
		return nil, err
	}

	avatarClient, err := avatar.New(cfg.Avatar)
	if err != nil {
		return nil, err
	}
	enhancerClient, err := enhancer.New(cfg.Enhancer)
	if err != nil {
		return nil, err
	}
	publisherClient, err := publisher.New(cfg.Publisher)
	if err != nil {
		return nil, err
	}
	media, err := mediastore.NewService(cfg, logger)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Deps{
		Config:    cfg,
		Store:     store,
		Articles:  articleStore,
		Avatar:    avatarClient,
		Enhancer:  enhancerClient,
		Publisher: publisherClient,
		Media:     media,
		Limiter:   ratelimit.New(store.DB(), cfg.RateLimit),
		Logger:    logger,
	}), nil
}

func (c *commandContext) buildReconciler() (*reconciler.Reconciler, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	store, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	pipe, err := c.buildPipeline()
	if err != nil {
		return nil, err
	}
	avatarClient, err := avatar.New(cfg.Avatar)
	if err != nil {
		return nil, err
	}
	enhancerClient, err := enhancer.New(cfg.Enhancer)
	if err != nil {
		return nil, err
	}

	return reconciler.New(reconciler.Deps{
		Config:   cfg,
		Store:    store,
		Pipeline: pipe,
		Avatar:   avatarClient,
		Enhancer: enhancerClient,
		Limiter:  ratelimit.New(store.DB(), cfg.RateLimit),
		Logger:   logger,
	}), nil
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
	}
}
