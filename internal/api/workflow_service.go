package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"reelflow/internal/engine"
	"reelflow/internal/failsafe"
	"reelflow/internal/pipeline"
	"reelflow/internal/services"
	"reelflow/internal/store"
	"reelflow/internal/webhooks"
)

// Replayer re-processes a dead-lettered webhook delivery.
type Replayer interface {
	Replay(ctx context.Context, id int64) (webhooks.Response, error)
}

// WorkflowService exposes workflow operations returning API DTOs. It is shared
// by the daemon's HTTP handlers and the CLI.
type WorkflowService struct {
	engine   *engine.Engine
	scanner  *failsafe.Scanner
	replayer Replayer
}

// NewWorkflowService constructs a service. scanner and replayer may be nil,
// which disables Heal and Replay respectively.
func NewWorkflowService(eng *engine.Engine, scanner *failsafe.Scanner, replayer Replayer) *WorkflowService {
	if eng == nil {
		return nil
	}
	return &WorkflowService{engine: eng, scanner: scanner, replayer: replayer}
}

// ListOptions filters List.
type ListOptions struct {
	Statuses []string
	Brand    string
	Limit    int
}

// List returns workflows matching the filter, newest first.
func (s *WorkflowService) List(ctx context.Context, opts ListOptions) ([]Workflow, error) {
	if s == nil {
		return nil, nil
	}
	filter := store.ListFilter{Brand: strings.ToLower(strings.TrimSpace(opts.Brand)), Limit: opts.Limit}
	for _, raw := range opts.Statuses {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		status, ok := pipeline.ParseStatus(raw)
		if !ok {
			return nil, invalid("list", "unknown status %q", raw)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	recs, err := s.engine.Store().List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromRecords(recs), nil
}

// Stats returns counts for every status, optionally scoped to a brand.
func (s *WorkflowService) Stats(ctx context.Context, brand string) (map[string]int, error) {
	if s == nil {
		return nil, nil
	}
	stats, err := s.engine.Store().Stats(ctx, strings.ToLower(strings.TrimSpace(brand)))
	if err != nil {
		return nil, err
	}
	return MergeCounts(stats), nil
}

// StoreHealth reports database diagnostics and phase totals. Diagnostics are
// returned even when a check fails so callers can show what went wrong.
func (s *WorkflowService) StoreHealth(ctx context.Context) (*DatabaseHealth, *WorkflowSummary, error) {
	st := s.engine.Store()
	db, dbErr := st.CheckHealth(ctx)
	summary, err := st.Health(ctx)
	if err != nil {
		return FromDatabaseHealth(db), nil, errors.Join(dbErr, err)
	}
	return FromDatabaseHealth(db), FromSummary(summary), dbErr
}

// Describe fetches one workflow including its brief.
func (s *WorkflowService) Describe(ctx context.Context, id string) (Workflow, error) {
	rec, err := s.engine.Inspect(ctx, strings.TrimSpace(id))
	if err != nil {
		return Workflow{}, err
	}
	return FromRecord(rec, true), nil
}

// Launch starts a new workflow.
func (s *WorkflowService) Launch(ctx context.Context, req LaunchRequest) (Workflow, error) {
	rec, err := s.engine.Launch(ctx, req.Brand, req.Brief)
	if err != nil {
		return Workflow{}, err
	}
	return FromRecord(rec, true), nil
}

// Resubmit clones a failed workflow into a fresh one.
func (s *WorkflowService) Resubmit(ctx context.Context, id string) (Workflow, error) {
	rec, err := s.engine.Resubmit(ctx, strings.TrimSpace(id))
	if err != nil {
		return Workflow{}, err
	}
	return FromRecord(rec, true), nil
}

// Heal runs failsafe recovery for one workflow immediately and returns the
// record as it stands afterwards.
func (s *WorkflowService) Heal(ctx context.Context, id string) (Workflow, *FailsafeReport, error) {
	if s.scanner == nil {
		return Workflow{}, nil, invalid("heal", "failsafe scanner is not configured")
	}
	id = strings.TrimSpace(id)
	report, scanErr := s.scanner.ScanOne(ctx, id)
	if scanErr != nil && errors.Is(scanErr, store.ErrNotFound) {
		return Workflow{}, nil, scanErr
	}
	rec, err := s.engine.Inspect(ctx, id)
	if err != nil {
		return Workflow{}, nil, err
	}
	return FromRecord(rec, true), FromReport(report), scanErr
}

// DeadLetters lists parked webhook deliveries.
func (s *WorkflowService) DeadLetters(ctx context.Context, includeResolved bool, limit int) ([]DeadLetter, error) {
	if s == nil {
		return nil, nil
	}
	items, err := s.engine.Store().ListDeadLetters(ctx, includeResolved, limit)
	if err != nil {
		return nil, err
	}
	return FromDeadLetters(items), nil
}

// Replay re-processes one dead letter.
func (s *WorkflowService) Replay(ctx context.Context, id int64) (ReplayResponse, error) {
	if s.replayer == nil {
		return ReplayResponse{}, invalid("replay", "webhook ingress is not configured")
	}
	resp, err := s.replayer.Replay(ctx, id)
	return ReplayResponse{
		ID:         id,
		Status:     resp.Status,
		Outcome:    resp.Outcome,
		WorkflowID: resp.WorkflowID,
		Reason:     resp.Reason,
		Error:      resp.Error,
	}, err
}

func invalid(operation, format string, args ...any) error {
	return services.Wrap(services.ErrValidation, "api", operation, fmt.Sprintf(format, args...), nil)
}
