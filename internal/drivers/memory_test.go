package drivers_test

import (
	"context"
	"errors"
	"testing"

	"reelflow/internal/drivers"
	"reelflow/internal/pipeline"
	"reelflow/internal/testsupport"
)

func TestMemoryDriverScriptsResults(t *testing.T) {
	ctx := context.Background()
	d := drivers.NewMemoryDriver(drivers.VendorCaptioner)
	d.QueueIDs("proj-1")

	id, err := d.Submit(ctx, drivers.Job{WorkflowID: "wf-1", Stage: pipeline.StageCaption})
	if err != nil || id != "proj-1" {
		t.Fatalf("unexpected submit result %q %v", id, err)
	}
	if res, _ := d.PollStatus(ctx, id); res.State != drivers.PollPending {
		t.Fatalf("expected pending, got %+v", res)
	}
	d.SetResult(id, drivers.PollResult{State: drivers.PollDone, ArtifactURL: "https://cdn/c.mp4"})
	if res, _ := d.PollStatus(ctx, id); res.State != drivers.PollDone || res.ArtifactURL != "https://cdn/c.mp4" {
		t.Fatalf("expected scripted result, got %+v", res)
	}

	d.FailSubmissions(errors.New("down"))
	if _, err := d.Submit(ctx, drivers.Job{}); err == nil {
		t.Fatal("expected scripted submit failure")
	}
	if got := len(d.Submissions()); got != 1 {
		t.Fatalf("expected one recorded submission, got %d", got)
	}
}

func TestDryRunSetAutoCompletes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	set := drivers.NewSet(cfg)
	for _, stage := range pipeline.Stages() {
		d, err := set.ForStage(stage)
		if err != nil {
			t.Fatalf("ForStage(%s): %v", stage, err)
		}
		res, err := d.PollStatus(context.Background(), "x")
		if err != nil || res.State != drivers.PollDone {
			t.Fatalf("expected auto-complete for %s, got %+v %v", stage, res, err)
		}
	}
	for _, h := range set.HealthCheck(context.Background()) {
		if !h.Ready {
			t.Fatalf("expected healthy memory driver, got %+v", h)
		}
	}
}

func TestVendorStageMapping(t *testing.T) {
	for _, stage := range pipeline.Stages() {
		vendor := drivers.VendorForStage(stage)
		back, ok := drivers.StageForVendor(vendor)
		if !ok || back != stage {
			t.Fatalf("round trip for %s failed: %q %q", stage, vendor, back)
		}
	}
	if _, ok := drivers.StageForVendor("heygen"); ok {
		t.Fatal("expected unknown vendor")
	}
}
