package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelflow/internal/config"
	"reelflow/internal/drivers"
	"reelflow/internal/logging"
	"reelflow/internal/metrics"
	"reelflow/internal/notifications"
	"reelflow/internal/pipeline"
	"reelflow/internal/services"
	"reelflow/internal/store"
)

// Engine coordinates the state machine, the store, and the stage drivers.
type Engine struct {
	cfg             *config.Config
	store           *store.Store
	drivers         drivers.Set
	logger          *slog.Logger
	notifier        notifications.Service
	metrics         *metrics.Metrics
	policy          pipeline.Policy
	conflictRetries int
	now             func() time.Time
	newID           func() string
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithNotifier overrides the notification service.
func WithNotifier(n notifications.Service) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the workflow id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// New constructs an Engine.
func New(cfg *config.Config, st *store.Store, set drivers.Set, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:             cfg,
		store:           st,
		drivers:         set,
		logger:          logging.NewComponentLogger(logger, "engine"),
		notifier:        notifications.NewService(cfg),
		policy:          pipeline.Policy{MaxRetries: cfg.Workflow.MaxRetries},
		conflictRetries: cfg.Workflow.ConflictRetries,
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.conflictRetries <= 0 {
		e.conflictRetries = 1
	}
	return e
}

// Store returns the backing record store.
func (e *Engine) Store() *store.Store { return e.store }

// Drivers returns the configured stage drivers.
func (e *Engine) Drivers() drivers.Set { return e.drivers }

// Policy returns the state machine policy in force.
func (e *Engine) Policy() pipeline.Policy { return e.policy }

// Now returns the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// Inspect loads a workflow.
func (e *Engine) Inspect(ctx context.Context, id string) (pipeline.Record, error) {
	return e.store.Get(ctx, id)
}

// Apply runs ev against the stored workflow until the write lands or the
// event turns out stale. Applied results carry the persisted record.
func (e *Engine) Apply(ctx context.Context, id string, ev pipeline.Event) (pipeline.Result, error) {
	ctx = services.WithWorkflowID(ctx, id)
	if ev != nil {
		ctx = services.WithStage(ctx, string(ev.EventStage()))
	}

	for attempt := 0; ; attempt++ {
		current, err := e.store.Get(ctx, id)
		if err != nil {
			return pipeline.Result{}, err
		}
		ctx = services.WithBrand(ctx, current.Brand)
		logger := logging.WithContext(ctx, e.logger)

		res := pipeline.Transition(current, ev, e.policy, e.now())
		e.metrics.Transition(stageLabel(ev), eventLabel(ev), string(res.Outcome))
		if !res.Applied() {
			if res.Outcome == pipeline.OutcomeStale {
				logger.Debug("stale event discarded",
					logging.String(logging.FieldEventType, eventLabel(ev)),
					logging.String("reason", res.Reason),
					logging.String(logging.FieldStatus, string(current.Status)),
				)
			}
			return res, nil
		}

		saved, err := e.store.CompareAndSwap(ctx, res.Record, current.Version)
		if errors.Is(err, store.ErrConflict) {
			e.metrics.Conflict()
			if attempt+1 >= e.conflictRetries {
				return pipeline.Result{}, services.Wrap(services.ErrTransient, "engine", "apply",
					fmt.Sprintf("gave up after %d conflicting writes", attempt+1), err)
			}
			logger.Debug("write conflict, retrying", logging.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return pipeline.Result{}, err
		}
		res.Record = saved
		e.afterApplied(ctx, logger, current, res, ev)

		if res.Effect.Kind == pipeline.EffectSubmit {
			if err := e.submit(ctx, res.Record, res.Effect); err != nil {
				return res, err
			}
		}
		return res, nil
	}
}

func (e *Engine) afterApplied(ctx context.Context, logger *slog.Logger, before pipeline.Record, res pipeline.Result, ev pipeline.Event) {
	rec := res.Record
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, eventLabel(ev)),
		logging.String("from", string(before.Status)),
		logging.String(logging.FieldStatus, string(rec.Status)),
	}
	if res.Reason != "" {
		attrs = append(attrs, logging.String("reason", res.Reason))
	}
	if rec.RetryCount > before.RetryCount {
		attrs = append(attrs, logging.Int("retry", rec.RetryCount))
		logger.Warn("stage retry scheduled", logging.Args(attrs...)...)
	} else {
		logger.Info("transition applied", logging.Args(attrs...)...)
	}

	switch {
	case rec.Status == pipeline.StatusCompleted && before.Status != pipeline.StatusCompleted:
		e.metrics.WorkflowFinished(rec.Brand, string(rec.Status))
		e.notify(ctx, logger, notifications.EventWorkflowCompleted, notifications.Payload{
			"brand": rec.Brand,
			"title": rec.Brief.Title,
			"url":   finalURL(rec),
		})
	case rec.Status == pipeline.StatusFailed && before.Status != pipeline.StatusFailed:
		e.metrics.WorkflowFinished(rec.Brand, string(rec.Status))
		logging.WarnWithContext(logger, "workflow failed", "workflow_failed",
			logging.Alert("workflow_failed"),
			logging.String("error", rec.Error),
			logging.String(logging.FieldErrorHint, "inspect with 'reelflow workflow show' and resubmit if appropriate"),
		)
		stage, _ := before.CurrentStage()
		e.notify(ctx, logger, notifications.EventWorkflowFailed, notifications.Payload{
			"brand": rec.Brand,
			"title": rec.Brief.Title,
			"stage": string(stage),
			"error": rec.Error,
		})
	}
}

func (e *Engine) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, notification not sent")
			return
		}
		logger.Debug("notification failed", logging.Error(err))
	}
}

func finalURL(rec pipeline.Record) string {
	for _, stage := range []pipeline.Stage{pipeline.StagePublish, pipeline.StageCaption, pipeline.StageRender} {
		if url := rec.ArtifactURL(stage); url != "" {
			return url
		}
	}
	return ""
}

func eventLabel(ev pipeline.Event) string {
	if ev == nil {
		return "none"
	}
	return string(ev.Kind())
}

func stageLabel(ev pipeline.Event) string {
	if ev == nil {
		return ""
	}
	return strings.ToLower(string(ev.EventStage()))
}
