package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"reelflow/internal/api"
	"reelflow/internal/config"
	"reelflow/internal/cronlock"
	"reelflow/internal/engine"
	"reelflow/internal/failsafe"
	"reelflow/internal/logging"
	"reelflow/internal/metrics"
	"reelflow/internal/store"
	"reelflow/internal/webhooks"
)

// Components are the collaborators the daemon coordinates.
type Components struct {
	Store   *store.Store
	Engine  *engine.Engine
	Scanner *failsafe.Scanner
	Ingress *webhooks.Ingress
	Locker  *cronlock.Locker
	Metrics *metrics.Metrics
}

// Daemon runs the HTTP surface and the maintenance loops, and enforces
// single-instance execution per data directory.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	engine  *engine.Engine
	scanner *failsafe.Scanner
	ingress *webhooks.Ingress
	locker  *cronlock.Locker
	metrics *metrics.Metrics
	service *api.WorkflowService

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	server  *apiServer

	runsMu    sync.Mutex
	lastScan  *api.CronRun
	lastPurge *api.CronRun
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, c Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || c.Store == nil || c.Engine == nil || c.Scanner == nil || c.Ingress == nil || c.Locker == nil {
		return nil, errors.New("daemon requires config, store, engine, scanner, ingress, and locker")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "reelflow.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    c.Store,
		engine:   c.Engine,
		scanner:  c.Scanner,
		ingress:  c.Ingress,
		locker:   c.Locker,
		metrics:  c.Metrics,
		service:  api.NewWorkflowService(c.Engine, c.Scanner, c.Ingress),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, starts the API server, and launches the
// maintenance loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reelflow daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	server, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.abortStart()
		return err
	}
	if err := server.start(d.ctx); err != nil {
		d.abortStart()
		return err
	}
	d.server = server
	d.startMaintenance(d.ctx)

	d.running.Store(true)
	d.logger.Info("reelflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("lock_backend", d.locker.Backend()),
		logging.String("holder", d.locker.Holder()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	d.server = nil
	d.loops.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.String(logging.FieldEventType, "daemon_unlock_failed"),
			logging.Error(err),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("reelflow daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.locker != nil {
		errs = append(errs, d.locker.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Service returns the workflow service backing the API handlers.
func (d *Daemon) Service() *api.WorkflowService {
	return d.service
}

// Handler returns the full HTTP surface without binding a listener.
func (d *Daemon) Handler() http.Handler {
	return newMux(d.cfg, d, d.logger)
}

// Addr reports the API listener address once started.
func (d *Daemon) Addr() string {
	if d.server == nil {
		return ""
	}
	return d.server.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		LockBackend:  d.locker.Backend(),
		Holder:       d.locker.Holder(),
		Drivers:      api.FromHealth(d.engine.Drivers().HealthCheck(ctx)),
	}
	db, summary, err := d.service.StoreHealth(ctx)
	status.Database, status.Summary = db, summary
	if err != nil {
		d.logger.Warn("database health check failed",
			logging.String(logging.FieldEventType, "status_database_failed"),
			logging.Error(err),
		)
	}
	if counts, err := d.service.Stats(ctx, ""); err == nil {
		status.Counts = counts
	} else {
		d.logger.Warn("status counts unavailable",
			logging.String(logging.FieldEventType, "status_counts_failed"),
			logging.Error(err),
		)
	}
	d.runsMu.Lock()
	status.LastScan = d.lastScan
	status.LastPurge = d.lastPurge
	d.runsMu.Unlock()
	return status
}
