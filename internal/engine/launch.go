package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"reelflow/internal/logging"
	"reelflow/internal/pipeline"
	"reelflow/internal/services"
)

// LaunchReason is recorded on the initial render claim.
const LaunchReason = "initial submission"

// Launch creates a pending workflow for brand and submits its render job. A
// failed submission does not fail the launch: the workflow is durable and the
// failsafe scanner picks it up once the pending threshold passes.
func (e *Engine) Launch(ctx context.Context, brand string, brief pipeline.Brief) (pipeline.Record, error) {
	return e.launch(ctx, brand, brief, "")
}

// Resubmit starts a fresh workflow with the brief of a failed one. The failed
// record is left untouched.
func (e *Engine) Resubmit(ctx context.Context, failedID string) (pipeline.Record, error) {
	failed, err := e.store.Get(ctx, failedID)
	if err != nil {
		return pipeline.Record{}, err
	}
	if failed.Status != pipeline.StatusFailed {
		return pipeline.Record{}, services.Wrap(services.ErrValidation, "engine", "resubmit",
			fmt.Sprintf("workflow %s is %s, only failed workflows can be resubmitted", failedID, failed.Status), nil)
	}
	return e.launch(ctx, failed.Brand, failed.Brief, failed.ID)
}

func (e *Engine) launch(ctx context.Context, brand string, brief pipeline.Brief, resubmittedFrom string) (pipeline.Record, error) {
	brand = strings.ToLower(strings.TrimSpace(brand))
	brandCfg, ok := e.cfg.LookupBrand(brand)
	if !ok {
		return pipeline.Record{}, services.Wrap(services.ErrValidation, "engine", "launch",
			fmt.Sprintf("unknown brand %q", brand), nil)
	}
	brief.Title = strings.TrimSpace(brief.Title)
	brief.Script = strings.TrimSpace(brief.Script)
	if brief.Title == "" && brief.Script == "" {
		return pipeline.Record{}, services.Wrap(services.ErrValidation, "engine", "launch", "brief needs a title or script", nil)
	}
	if brief.AvatarID == "" {
		brief.AvatarID = brandCfg.AvatarID
	}
	if brief.VoiceID == "" {
		brief.VoiceID = brandCfg.VoiceID
	}
	if brief.CaptionTemplate == "" {
		brief.CaptionTemplate = brandCfg.CaptionTemplate
	}
	if len(brief.Platforms) == 0 {
		brief.Platforms = append([]string(nil), brandCfg.Platforms...)
	}

	rec := pipeline.NewRecord(e.newID(), brand, brief, e.now())
	rec.ResubmittedFrom = resubmittedFrom
	created, err := e.store.Create(ctx, rec)
	if err != nil {
		return pipeline.Record{}, err
	}
	e.metrics.WorkflowLaunched(brand)

	ctx = services.WithBrand(services.WithWorkflowID(ctx, created.ID), brand)
	logger := logging.WithContext(ctx, e.logger)
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "workflow_launched")}
	if resubmittedFrom != "" {
		attrs = append(attrs, logging.String("resubmitted_from", resubmittedFrom))
	}
	logger.Info("workflow created", logging.Args(attrs...)...)

	res, err := e.Apply(ctx, created.ID, pipeline.StageResubmit{
		Stage:         pipeline.StageRender,
		Reason:        LaunchReason,
		UpdatedBefore: created.UpdatedAt,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return created, err
		}
		logger.Warn("initial render submission deferred to failsafe",
			logging.String(logging.FieldEventType, "launch_submit_deferred"),
			logging.Error(err),
		)
	}
	latest, getErr := e.store.Get(ctx, created.ID)
	if getErr != nil {
		if res.Applied() {
			return res.Record, nil
		}
		return created, nil
	}
	return latest, nil
}
