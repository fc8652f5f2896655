package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"podscribe/internal/api"
	"podscribe/internal/cache"
	"podscribe/internal/config"
	"podscribe/internal/deps"
	"podscribe/internal/episodes"
	"podscribe/internal/events"
	"podscribe/internal/logging"
	"podscribe/internal/queue"
	"podscribe/internal/usage"
	"podscribe/internal/vectorindex"
	"podscribe/internal/workflow"
)

// Version is reported by the status endpoint. Release builds override it
// with -ldflags.
var Version = "0.1.0"

// Answerer answers questions from indexed transcripts.
type Answerer interface {
	Answer(ctx context.Context, q vectorindex.Question) (vectorindex.Answer, error)
}

// Reindexer rebuilds the chunk index of one episode from its stored script.
type Reindexer interface {
	Reindex(ctx context.Context, episodeID int64, stats *usage.Collector) (int, error)
}

// Components are the collaborators the daemon serves. Store, Episodes and
// Workflow are required; the rest disable their endpoints when nil.
type Components struct {
	Store     *queue.Store
	Episodes  *episodes.Store
	Workflow  *workflow.Manager
	Reindexer Reindexer
	Answerer  Answerer
	Cache     *cache.Cache
	Hub       *events.Hub
	Emitter   *events.Emitter
	// QAUsage accumulates usage of answered questions; nil disables it.
	QAUsage *usage.Collector
	// Closers are released by Close after the emitter drains, in order.
	Closers []io.Closer
}

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comp   Components

	lockPath string
	lock     *flock.Flock

	api    *apiServer
	health *healthServer

	mu          sync.Mutex
	maintenance *cron.Cron
	running     atomic.Bool
	cancel      context.CancelFunc
	closed      bool
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, comp Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || comp.Store == nil || comp.Episodes == nil || comp.Workflow == nil {
		return nil, errors.New("daemon requires config, task store, episode store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		comp:     comp,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	d.health = newHealthServer(cfg.API.GRPCBind, comp.Store, time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second, logger)
	return d, nil
}

// Start acquires the daemon lock, fails tasks orphaned by a previous
// process, and launches workers, maintenance, and listeners.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another podscribe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	monitor := d.comp.Workflow.Heartbeat()
	if _, err := monitor.FailOrphaned(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "orphaned task sweep failed", "orphan_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "tasks from a previous run stay RUNNING until the stale sweep"),
		)
	}

	if err := d.comp.Workflow.Start(runCtx); err != nil {
		d.rollback(cancel)
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.startMaintenance(runCtx, monitor); err != nil {
		d.comp.Workflow.Stop()
		d.rollback(cancel)
		return err
	}
	if err := d.api.start(runCtx); err != nil {
		d.stopMaintenance()
		d.comp.Workflow.Stop()
		d.rollback(cancel)
		return err
	}
	if err := d.health.start(runCtx); err != nil {
		d.api.stop()
		d.stopMaintenance()
		d.comp.Workflow.Stop()
		d.rollback(cancel)
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("podscribe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddr()),
		logging.Int("workers", d.cfg.Workflow.Workers),
	)
	return nil
}

func (d *Daemon) rollback(cancel context.CancelFunc) {
	cancel()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Stop stops listeners, maintenance, and workers, then releases the lock.
// Tasks interrupted mid-run stay RUNNING and are failed on the next start.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.health.stop()
	d.stopMaintenance()
	d.comp.Workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("podscribe daemon stopped")
}

// Close stops the daemon, drains pending events, and releases stores.
func (d *Daemon) Close() error {
	d.Stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.comp.Emitter.Close(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain events: %w", err))
	}
	if d.comp.Cache != nil {
		if err := d.comp.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	for _, closer := range d.comp.Closers {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.comp.Episodes.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close episodes: %w", err))
	}
	if err := d.comp.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}
	return errors.Join(errs...)
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the bound HTTP address, or "" when the API is disabled or
// not yet listening.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// GRPCAddr returns the bound gRPC health address, or "" when disabled.
func (d *Daemon) GRPCAddr() string {
	return d.health.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Version:      Version,
		QueueDBPath:  d.comp.Store.Path(),
		LockFilePath: d.lockPath,
		IndexBackend: indexBackend(d.cfg),
		Workflow:     api.FromStatusSummary(d.comp.Workflow.Status(ctx)),
	}
	if d.comp.Cache != nil {
		status.Cache = d.comp.Cache.Stats()
	}
	if d.comp.QAUsage != nil {
		qa := d.comp.QAUsage.Snapshot()
		status.QAUsage = &qa
	}
	for _, dep := range deps.CheckBinaries(deps.Requirements(d.cfg)) {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return status
}

func indexBackend(cfg *config.Config) string {
	backend := strings.ToLower(strings.TrimSpace(cfg.Index.Backend))
	if backend == "" {
		return "sqlite"
	}
	return backend
}
