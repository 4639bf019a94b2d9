// Package cronlock runs periodic jobs under a lease so that overlapping
// triggers (two daemons, a slow scan and the next tick, an operator running
// `reelflow scan`) never execute the same job concurrently.
//
// A lease is (job, holder, expiresAt). Acquire succeeds only when no
// unexpired lease exists and a crashed holder's lease simply expires. Every
// acquisition writes its own token as the lease holder and release is fenced
// on that token. Skipping a run that could have been safe is allowed;
// running twice is not.
package cronlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"reelflow/internal/config"
	"reelflow/internal/logging"
	"reelflow/internal/metrics"
	"reelflow/internal/store"
)

// Outcome reports whether the job ran.
type Outcome string

const (
	OutcomeRan     Outcome = "ran"
	OutcomeSkipped Outcome = "skipped"
)

// Result describes one WithLock call.
type Result struct {
	Job      string        `json:"job"`
	Outcome  Outcome       `json:"outcome"`
	Holder   string        `json:"holder"`
	Duration time.Duration `json:"duration"`
}

// Ran reports whether fn executed.
func (r Result) Ran() bool { return r.Outcome == OutcomeRan }

// Backend stores leases.
type Backend interface {
	Name() string
	Acquire(ctx context.Context, job, holder string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, job, holder string) error
	Close() error
}

// Locker wraps job execution in a lease.
type Locker struct {
	backend Backend
	holder  string
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Locker.
type Option func(*Locker)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Locker) { l.metrics = m }
}

// WithClock replaces time.Now for lease arithmetic.
func WithClock(now func() time.Time) Option {
	return func(l *Locker) { l.now = now }
}

// New builds a Locker using the backend named in cfg.Lock.Backend.
func New(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) (*Locker, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Lock.Backend {
	case config.LockBackendSQLite, "":
		if st == nil {
			return nil, errors.New("sqlite lock backend requires the record store")
		}
		backend = NewSQLiteBackend(st)
	case config.LockBackendNATS:
		backend, err = DialNATS(ctx, cfg.Lock.NATSURL, cfg.Lock.NATSBucket, cfg.Lock.LeaseDuration())
	case config.LockBackendFile:
		backend, err = NewFileBackend(cfg.LockDir())
	default:
		err = fmt.Errorf("unsupported lock backend %q", cfg.Lock.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewWithBackend(backend, cfg.Lock.HolderID, cfg.Lock.LeaseDuration(), logger, opts...), nil
}

// NewWithBackend builds a Locker over an explicit backend.
func NewWithBackend(backend Backend, holder string, ttl time.Duration, logger *slog.Logger, opts ...Option) *Locker {
	l := &Locker{
		backend: backend,
		holder:  holder,
		ttl:     ttl,
		logger:  logging.NewComponentLogger(logger, "cronlock"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Minute
	}
	return l
}

// Backend returns the lease backend name.
func (l *Locker) Backend() string { return l.backend.Name() }

// Holder returns the holder id that prefixes every lease token.
func (l *Locker) Holder() string { return l.holder }

// Close releases backend resources.
func (l *Locker) Close() error { return l.backend.Close() }

// WithLock runs fn if the lease for job can be taken. A held lease yields a
// Skipped result with no error. The lease is released after fn returns,
// whatever fn returned.
func (l *Locker) WithLock(ctx context.Context, job string, fn func(context.Context) error) (Result, error) {
	logger := logging.WithContext(ctx, l.logger).With(logging.String(logging.FieldJob, job))
	result := Result{Job: job, Holder: l.holder, Outcome: OutcomeSkipped}

	// A run that outlives its lease must not release the lease of the run
	// that took it over, even from the same process.
	token := l.holder + "/" + uuid.NewString()
	acquired, err := l.backend.Acquire(ctx, job, token, l.now(), l.ttl)
	if err != nil {
		l.metrics.CronRun(job, "error")
		return result, fmt.Errorf("acquire %s lease: %w", job, err)
	}
	if !acquired {
		l.metrics.CronRun(job, string(OutcomeSkipped))
		logger.Debug("lease held elsewhere, skipping run",
			logging.String(logging.FieldEventType, "cron_skipped"),
			logging.String("backend", l.backend.Name()),
		)
		return result, nil
	}

	result.Outcome = OutcomeRan
	started := time.Now()
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.backend.Release(releaseCtx, job, token); err != nil {
			logger.Warn("lease release failed; it will expire on its own",
				logging.String(logging.FieldEventType, "cron_release_failed"),
				logging.Duration("ttl", l.ttl),
				logging.Error(err),
			)
		}
	}()

	err = fn(ctx)
	result.Duration = time.Since(started)
	if err != nil {
		l.metrics.CronRun(job, "error")
		return result, err
	}
	l.metrics.CronRun(job, string(OutcomeRan))
	if result.Duration > l.ttl/2 {
		logging.WarnWithContext(logger, "job ran for more than half its lease", "cron_slow",
			logging.Alert("lease_margin"),
			logging.Duration("duration", result.Duration),
			logging.Duration("ttl", l.ttl),
			logging.String(logging.FieldErrorHint, "raise lock.lease_seconds or shrink failsafe.batch_size"),
		)
	}
	return result, nil
}
