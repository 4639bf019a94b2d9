package failsafe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reelflow/internal/config"
	"reelflow/internal/drivers"
	"reelflow/internal/engine"
	"reelflow/internal/logging"
	"reelflow/internal/metrics"
	"reelflow/internal/notifications"
	"reelflow/internal/pipeline"
	"reelflow/internal/services"
)

// Action is what the scanner did with one candidate.
type Action string

const (
	ActionHealed   Action = "healed"
	ActionAdvanced Action = "advanced"
	ActionRetried  Action = "retried"
	ActionFailed   Action = "failed"
	ActionPending  Action = "pending"
	ActionSkipped  Action = "skipped"
	ActionError    Action = "error"
)

// Report summarizes one scan.
type Report struct {
	Checked  int `json:"checked"`
	Healed   int `json:"healed"`
	Advanced int `json:"advanced"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
	Errors   int `json:"errors"`
}

// Recovered counts workflows the scan moved.
func (r Report) Recovered() int {
	return r.Healed + r.Advanced + r.Retried + r.Failed
}

func (r *Report) record(action Action) {
	switch action {
	case ActionHealed:
		r.Healed++
	case ActionAdvanced:
		r.Advanced++
	case ActionRetried:
		r.Retried++
	case ActionFailed:
		r.Failed++
	case ActionPending:
		r.Pending++
	}
}

// Scanner detects and recovers stuck workflows.
type Scanner struct {
	engine      *engine.Engine
	cfg         config.Failsafe
	logger      *slog.Logger
	metrics     *metrics.Metrics
	notifier    notifications.Service
	pollTimeout time.Duration
	batchSize   int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// WithNotifier overrides the notification service used for recovery summaries.
func WithNotifier(n notifications.Service) Option {
	return func(s *Scanner) { s.notifier = n }
}

// New constructs a Scanner over eng.
func New(cfg *config.Config, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		engine:      eng,
		cfg:         cfg.Failsafe,
		logger:      logging.NewComponentLogger(logger, "failsafe"),
		notifier:    notifications.NewService(cfg),
		pollTimeout: cfg.Failsafe.PollTimeoutDuration(),
		batchSize:   cfg.Failsafe.BatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pollTimeout <= 0 {
		s.pollTimeout = 45 * time.Second
	}
	if s.batchSize <= 0 {
		s.batchSize = 25
	}
	return s
}

// Scan checks every active status once. A failure on one workflow is
// counted and logged; only store read errors abort the scan.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	started := time.Now()
	defer func() { s.metrics.ScanDuration(time.Since(started)) }()

	logger := logging.WithContext(ctx, s.logger)
	now := s.engine.Now()
	var report Report
	for _, status := range pipeline.ActiveStatuses() {
		threshold := s.cfg.StageTimeouts.Threshold(string(status))
		if threshold <= 0 {
			continue
		}
		cutoff := now.Add(-threshold)
		candidates, err := s.engine.Store().StaleCandidates(ctx, status, cutoff, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("list stale %s workflows: %w", status, err)
		}
		for _, rec := range candidates {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Checked++
			action, err := s.recover(ctx, rec)
			s.count(&report, action, err)
		}
	}

	if report.Checked > 0 {
		logger.Info("failsafe scan finished",
			logging.String(logging.FieldEventType, "failsafe_scan"),
			logging.Int("checked", report.Checked),
			logging.Int("healed", report.Healed),
			logging.Int("advanced", report.Advanced),
			logging.Int("retried", report.Retried),
			logging.Int("failed", report.Failed),
			logging.Int("pending", report.Pending),
			logging.Int("errors", report.Errors),
		)
	} else {
		logger.Debug("failsafe scan found nothing stale")
	}
	s.publish(ctx, logger, report)
	return report, nil
}

// ScanOne runs the recovery path for a single workflow regardless of how
// recently it was updated.
func (s *Scanner) ScanOne(ctx context.Context, id string) (Report, error) {
	rec, err := s.engine.Inspect(ctx, id)
	if err != nil {
		return Report{}, err
	}
	var report Report
	if rec.Status.IsTerminal() {
		return report, nil
	}
	report.Checked = 1
	action, err := s.recover(ctx, rec)
	s.count(&report, action, err)
	return report, err
}

func (s *Scanner) count(report *Report, action Action, err error) {
	report.record(action)
	s.metrics.FailsafeAction(string(action), 1)
	if err != nil {
		report.Errors++
		if action != ActionError {
			s.metrics.FailsafeAction(string(ActionError), 1)
		}
	}
}

// recover decides and performs the next step for one stale record. The
// returned action is meaningful even when err is set: a transition may have
// landed before its follow-up submission failed.
func (s *Scanner) recover(ctx context.Context, rec pipeline.Record) (Action, error) {
	ctx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()
	ctx = services.WithBrand(services.WithWorkflowID(ctx, rec.ID), rec.Brand)
	logger := logging.WithContext(ctx, s.logger)

	stage, ok := rec.CurrentStage()
	if !ok {
		return ActionSkipped, nil
	}
	ctx = services.WithStage(ctx, string(stage))
	decision := pipeline.Transition(rec, pipeline.StageTimedOut{Stage: stage}, s.engine.Policy(), s.engine.Now())

	var (
		action Action
		err    error
	)
	switch decision.Effect.Kind {
	case pipeline.EffectHeal:
		action, err = s.heal(ctx, decision.Effect)
	case pipeline.EffectPoll:
		action, err = s.poll(ctx, logger, decision.Effect)
	case pipeline.EffectSubmit:
		action, err = s.resubmit(ctx, stage, rec.UpdatedAt)
	default:
		return ActionSkipped, nil
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "failsafe_"+string(action)),
		logging.String(logging.FieldStatus, string(rec.Status)),
		logging.Duration("stale_for", s.engine.Now().Sub(rec.UpdatedAt)),
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, failsafe recovery interrupted")
			return action, err
		}
		attrs = append(attrs, logging.ErrorAttrs(err)...)
		logging.WarnWithContext(logger, "failsafe recovery failed", "failsafe_error", attrs...)
		return action, err
	}
	switch action {
	case ActionPending, ActionSkipped:
		logger.Debug("stale workflow left alone", logging.Args(attrs...)...)
	default:
		logger.Info("stale workflow recovered", logging.Args(attrs...)...)
	}
	return action, nil
}

// heal finishes a stage whose artifact was stored but whose transition never
// landed.
func (s *Scanner) heal(ctx context.Context, effect pipeline.Effect) (Action, error) {
	id, _ := services.WorkflowIDFromContext(ctx)
	res, err := s.engine.Apply(ctx, id, pipeline.StageCompleted{
		Stage:       effect.Stage,
		ExternalID:  effect.ExternalID,
		ArtifactURL: effect.ArtifactURL,
	})
	return classify(res, ActionHealed), err
}

func (s *Scanner) poll(ctx context.Context, logger *slog.Logger, effect pipeline.Effect) (Action, error) {
	id, _ := services.WorkflowIDFromContext(ctx)
	driver, err := s.engine.Drivers().ForStage(effect.Stage)
	if err != nil {
		return ActionError, err
	}
	status, err := driver.PollStatus(ctx, effect.ExternalID)
	if err != nil {
		return ActionError, err
	}

	var ev pipeline.Event
	switch status.State {
	case drivers.PollPending:
		return ActionPending, nil
	case drivers.PollDone:
		ev = pipeline.StageCompleted{Stage: effect.Stage, ExternalID: effect.ExternalID, ArtifactURL: status.ArtifactURL}
	case drivers.PollFailed:
		ev = pipeline.StageFailed{Stage: effect.Stage, ExternalID: effect.ExternalID, Reason: status.Reason}
	default:
		logging.WarnWithContext(logger, "vendor has no record of job", "orphaned_job",
			logging.Alert("orphaned_job"),
			logging.String(logging.FieldExternalID, effect.ExternalID),
			logging.String(logging.FieldErrorHint, "the stage is retried if attempts remain"),
		)
		ev = pipeline.StageFailed{Stage: effect.Stage, ExternalID: effect.ExternalID, Reason: pipeline.ReasonOrphaned}
	}

	res, err := s.engine.Apply(ctx, id, ev)
	if res.Outcome == pipeline.OutcomeIgnored {
		// Vendor says done but gave no artifact to hand to the next stage.
		return ActionPending, err
	}
	return classify(res, ActionAdvanced), err
}

// resubmit claims the stage only if the record is still the snapshot the
// scanner loaded.
func (s *Scanner) resubmit(ctx context.Context, stage pipeline.Stage, snapshot time.Time) (Action, error) {
	id, _ := services.WorkflowIDFromContext(ctx)
	res, err := s.engine.Apply(ctx, id, pipeline.StageResubmit{
		Stage:         stage,
		Reason:        pipeline.ReasonSubmissionLost,
		UpdatedBefore: snapshot,
	})
	return classify(res, ActionRetried), err
}

// classify maps an Apply result onto a report action. Completions count as
// the caller's action, retries as retried, and terminal failures as failed.
func classify(res pipeline.Result, onAdvance Action) Action {
	if !res.Applied() {
		if res.Outcome == "" {
			return ActionError
		}
		return ActionSkipped
	}
	switch {
	case res.Record.Status == pipeline.StatusFailed:
		return ActionFailed
	case res.Record.AwaitingSubmission && res.Reason != "" && onAdvance != ActionRetried:
		return ActionRetried
	default:
		return onAdvance
	}
}

func (s *Scanner) publish(ctx context.Context, logger *slog.Logger, report Report) {
	if s.notifier == nil || report.Healed+report.Advanced+report.Failed == 0 {
		return
	}
	err := s.notifier.Publish(ctx, notifications.EventFailsafeRecovered, notifications.Payload{
		"healed":   report.Healed,
		"advanced": report.Advanced,
		"failed":   report.Failed,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("recovery notification failed", logging.Error(err))
	}
}
