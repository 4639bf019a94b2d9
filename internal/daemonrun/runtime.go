package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"reelflow/internal/api"
	"reelflow/internal/config"
	"reelflow/internal/cronlock"
	"reelflow/internal/drivers"
	"reelflow/internal/engine"
	"reelflow/internal/failsafe"
	"reelflow/internal/metrics"
	"reelflow/internal/notifications"
	"reelflow/internal/store"
	"reelflow/internal/webhooks"
)

// Runtime is the fully wired set of collaborators shared by the daemon and
// the in-process CLI commands.
type Runtime struct {
	Config   *config.Config
	Store    *store.Store
	Engine   *engine.Engine
	Scanner  *failsafe.Scanner
	Ingress  *webhooks.Ingress
	Locker   *cronlock.Locker
	Metrics  *metrics.Metrics
	Notifier notifications.Service
	Service  *api.WorkflowService
}

// RuntimeOption customizes Open.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	drivers  *drivers.Set
	notifier notifications.Service
}

// WithDrivers replaces the configured stage drivers.
func WithDrivers(set drivers.Set) RuntimeOption {
	return func(o *runtimeOptions) { o.drivers = &set }
}

// WithNotifier replaces the configured notification service.
func WithNotifier(n notifications.Service) RuntimeOption {
	return func(o *runtimeOptions) { o.notifier = n }
}

// Open opens the store and builds every component from cfg. Callers must
// Close the runtime.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	var o runtimeOptions
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open workflow store: %w", err)
	}

	set := drivers.NewSet(cfg)
	if o.drivers != nil {
		set = *o.drivers
	}
	notifier := o.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	eng := engine.New(cfg, st, set, logger, engine.WithNotifier(notifier), engine.WithMetrics(m))
	scanner := failsafe.New(cfg, eng, logger, failsafe.WithNotifier(notifier), failsafe.WithMetrics(m))
	ingress := webhooks.New(cfg, eng, logger, webhooks.WithMetrics(m))
	locker, err := cronlock.New(ctx, cfg, st, logger, cronlock.WithMetrics(m))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init cron locker: %w", err)
	}

	return &Runtime{
		Config:   cfg,
		Store:    st,
		Engine:   eng,
		Scanner:  scanner,
		Ingress:  ingress,
		Locker:   locker,
		Metrics:  m,
		Notifier: notifier,
		Service:  api.NewWorkflowService(eng, scanner, ingress),
	}, nil
}

// Close releases the locker and the store.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	return errors.Join(r.Locker.Close(), r.Store.Close())
}
