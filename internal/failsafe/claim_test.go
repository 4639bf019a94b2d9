package failsafe

import (
	"context"
	"errors"
	"testing"
	"time"

	"reelflow/internal/drivers"
	"reelflow/internal/engine"
	"reelflow/internal/logging"
	"reelflow/internal/pipeline"
	"reelflow/internal/testsupport"
)

func TestResubmitClaimIsFencedOnLoadedSnapshot(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		// reload picks the snapshot recover works from after a failed claim
		// has already moved the record on.
		reload    bool
		want      Action
		wantRetry int
	}{
		{"superseded snapshot", false, ActionSkipped, 1},
		{"current snapshot", true, ActionRetried, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			st := testsupport.MustOpenStore(t, cfg)
			captioner := drivers.NewMemoryDriver(drivers.VendorCaptioner)
			captioner.FailSubmissions(errors.New("captioner unavailable"))
			eng := engine.New(cfg, st, drivers.Set{
				Renderer:  drivers.NewMemoryDriver(drivers.VendorRenderer),
				Captioner: captioner,
				Publisher: drivers.NewMemoryDriver(drivers.VendorPublisher),
			}, logging.NewNop(), engine.WithClock(func() time.Time { return now }))
			scanner := New(cfg, eng, logging.NewNop())

			rec := testsupport.NewWorkflow(t, st, "wf-1", "carz", now.Add(-time.Hour))
			rec.Status = pipeline.StatusCaptioning
			rec.AwaitingSubmission = true
			rec.ExternalIDs[pipeline.StageRender] = "vid-1"
			rec.ArtifactURLs[pipeline.StageRender] = "https://cdn/render.mp4"
			rec.UpdatedAt = now.Add(-time.Minute)
			snapshot := testsupport.MustSave(t, st, rec)

			// An operator heal claims the stage first; its submit fails so the
			// record stays awaiting with a newer updated_at.
			if _, err := scanner.ScanOne(context.Background(), "wf-1"); err == nil {
				t.Fatal("expected the failing caption submit to surface")
			}
			if got := testsupport.MustGet(t, st, "wf-1"); got.RetryCount != 1 || !got.AwaitingSubmission {
				t.Fatalf("unexpected record after first claim: %+v", got)
			}

			if tt.reload {
				snapshot = testsupport.MustGet(t, st, "wf-1")
				// Let the claim's follow-up submit succeed.
				captioner.FailSubmissions(nil)
			}
			action, _ := scanner.recover(context.Background(), snapshot)
			if action != tt.want {
				t.Fatalf("action = %s, want %s", action, tt.want)
			}
			if got := testsupport.MustGet(t, st, "wf-1"); got.RetryCount != tt.wantRetry {
				t.Fatalf("retry count = %d, want %d", got.RetryCount, tt.wantRetry)
			}
		})
	}
}
