package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/pipeline"
	"clipflow/internal/reconciler"
	"clipflow/internal/records"
)

// Daemon hosts the webhook receivers, the HTTP API, and the periodic
// reconcile loop, and enforces single-instance execution through a file lock.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *records.Store
	pipeline   *pipeline.Pipeline
	reconciler *reconciler.Reconciler

	api      *apiServer
	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	DBPath       string
	LockFilePath string
	Stats        records.Stats
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *records.Store, pipe *pipeline.Pipeline, rec *reconciler.Reconciler, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || pipe == nil || rec == nil {
		return nil, errors.New("daemon requires config, store, pipeline, and reconciler")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "clipflowd.lock")
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		pipeline:   pipe,
		reconciler: rec,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, binds the API, and launches the reconcile
// ticker. It returns once everything is running; Wait on the context for
// shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another clipflowd instance holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	go d.reconcileLoop(runCtx)

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("bind", d.cfg.Paths.APIBind),
		logging.String("db", d.store.Path()))
	return nil
}

// Stop shuts the daemon down and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.logger.Info("daemon stopped")
}

// Status reports runtime information for the status API and CLI.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("read stats", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
		Stats:        stats,
	}
}

func (d *Daemon) reconcileLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.Workflow.ReconcileIntervalMins) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.reconciler.Reconcile(ctx); err != nil {
				d.logger.Error("scheduled reconcile", logging.Error(err))
			}
		}
	}
}
