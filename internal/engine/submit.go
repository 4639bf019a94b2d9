package engine

import (
	"context"
	"fmt"
	"strings"

	"reelflow/internal/drivers"
	"reelflow/internal/logging"
	"reelflow/internal/pipeline"
	"reelflow/internal/services"
)

// submit hands the stage job to its driver and records the returned id.
func (e *Engine) submit(ctx context.Context, rec pipeline.Record, effect pipeline.Effect) error {
	ctx = services.WithStage(ctx, string(effect.Stage))
	logger := logging.WithContext(ctx, e.logger)

	driver, err := e.drivers.ForStage(effect.Stage)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "engine", "submit", "resolve driver", err)
	}
	job := e.buildJob(rec, effect)
	externalID, err := driver.Submit(ctx, job)
	if err != nil {
		e.metrics.Submission(string(effect.Stage), "error")
		attrs := append([]logging.Attr{
			logging.String(logging.FieldEventType, "submit_failed"),
			logging.Int("attempt", effect.Attempt),
			logging.String(logging.FieldErrorHint, "the failsafe scanner resubmits once the stage threshold passes"),
		}, logging.ErrorAttrs(err)...)
		logger.Warn("stage submission failed", logging.Args(attrs...)...)
		return fmt.Errorf("submit %s for %s: %w", effect.Stage, rec.ID, err)
	}
	e.metrics.Submission(string(effect.Stage), "accepted")
	logger.Info("stage submitted",
		logging.String(logging.FieldExternalID, externalID),
		logging.Int("attempt", effect.Attempt),
	)

	res, err := e.Apply(ctx, rec.ID, pipeline.StageSubmitted{Stage: effect.Stage, ExternalID: externalID, Attempt: effect.Attempt})
	if err != nil {
		return fmt.Errorf("record %s submission: %w", effect.Stage, err)
	}
	if !res.Applied() {
		// The vendor is now running a job nobody will listen for.
		logging.WarnWithContext(logger, "submission not recorded", "orphaned_submission",
			logging.Alert("orphaned_submission"),
			logging.String(logging.FieldExternalID, externalID),
			logging.String("reason", res.Reason),
		)
	}
	return nil
}

func (e *Engine) buildJob(rec pipeline.Record, effect pipeline.Effect) drivers.Job {
	job := drivers.Job{
		WorkflowID:  rec.ID,
		Brand:       rec.Brand,
		Stage:       effect.Stage,
		Attempt:     effect.Attempt,
		Brief:       rec.Brief,
		Platforms:   rec.Brief.Platforms,
		CallbackURL: e.callbackURL(effect.Stage, rec.Brand),
	}
	switch effect.Stage {
	case pipeline.StageCaption:
		job.InputURL = rec.ArtifactURL(pipeline.StageRender)
	case pipeline.StagePublish:
		job.InputURL = rec.ArtifactURL(pipeline.StageCaption)
	}
	if len(job.Platforms) == 0 {
		if brand, ok := e.cfg.LookupBrand(rec.Brand); ok {
			job.Platforms = brand.Platforms
		}
	}
	return job
}

func (e *Engine) callbackURL(stage pipeline.Stage, brand string) string {
	base := strings.TrimRight(strings.TrimSpace(e.cfg.API.PublicBaseURL), "/")
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/webhooks/%s/%s", base, drivers.VendorForStage(stage), brand)
}
