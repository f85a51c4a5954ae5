// Package daemon coordinates the long-running service: single-instance
// locking, the HTTP API, and periodic cleanup of settled tasks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"subforge/internal/config"
	"subforge/internal/deps"
	"subforge/internal/history"
	"subforge/internal/logging"
	"subforge/internal/modelcache"
	"subforge/internal/pipeline"
	"subforge/internal/progress"
	"subforge/internal/task"
)

// Daemon owns the background services and enforces single-instance
// execution via a file lock.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	registry    *task.Registry
	broadcaster *progress.Broadcaster
	executor    *pipeline.Executor
	store       *history.Store
	cache       *modelcache.Cache

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	api     *apiServer
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	HistoryDBPath string
	LockFilePath  string
	PendingTasks  int
	RunningTasks  int
	Dependencies  []deps.Status
	CacheEntries  []modelcache.EntryStats
	CacheBytes    int64
	CacheBudget   int64
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, registry *task.Registry, broadcaster *progress.Broadcaster, executor *pipeline.Executor, store *history.Store, cache *modelcache.Cache, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || registry == nil || broadcaster == nil || executor == nil {
		return nil, errors.New("daemon requires config, registry, broadcaster, and executor")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		registry:    registry,
		broadcaster: broadcaster,
		executor:    executor,
		store:       store,
		cache:       cache,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the API server and the
// cleanup loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another subforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	api, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		_ = d.lock.Unlock()
		cancel()
		return err
	}
	d.api = api
	if err := d.api.start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return err
	}

	d.wg.Add(1)
	go d.cleanupLoop(runCtx)

	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts background processing, cancels running tasks, and
// releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.executor.Close()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and its history store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the API listen address, empty until started.
func (d *Daemon) Addr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

func (d *Daemon) cleanupLoop(ctx context.Context) {
	defer d.wg.Done()
	interval := time.Duration(d.cfg.Workflow.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runCleanup(ctx)
		}
	}
}

func (d *Daemon) runCleanup(ctx context.Context) {
	retention := time.Duration(d.cfg.Workflow.TaskRetentionHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	removed := d.registry.Cleanup(retention)
	for _, id := range removed {
		d.broadcaster.Forget(id)
	}
	if len(removed) > 0 {
		d.logger.Info("cleaned up settled tasks", logging.Int("removed", len(removed)))
	}
	if d.store != nil {
		if pruned, err := d.store.Prune(ctx, retention); err != nil {
			d.logger.Warn("prune task history", logging.Error(err))
		} else if pruned > 0 {
			d.logger.Info("pruned task history", logging.Int64("removed", pruned))
		}
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		Dependencies: deps.CheckBinaries(deps.Requirements(d.cfg)),
	}
	if d.store != nil {
		status.HistoryDBPath = d.store.Path()
	}
	status.RunningTasks = len(d.registry.Running())
	for _, t := range d.registry.List() {
		if t.Status == task.StatusPending {
			status.PendingTasks++
		}
	}
	if d.cache != nil {
		status.CacheEntries, status.CacheBytes, status.CacheBudget = d.cache.Stats()
	}
	return status
}
