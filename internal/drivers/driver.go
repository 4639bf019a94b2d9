package drivers

import (
	"context"
	"fmt"

	"reelflow/internal/config"
	"reelflow/internal/pipeline"
)

// Vendor names used in webhook routes and configuration.
const (
	VendorRenderer  = "renderer"
	VendorCaptioner = "captioner"
	VendorPublisher = "publisher"
)

// Job is everything a vendor needs to run one stage of a workflow.
type Job struct {
	WorkflowID  string         `json:"workflow_id"`
	Brand       string         `json:"brand"`
	Stage       pipeline.Stage `json:"stage"`
	Attempt     int            `json:"attempt"`
	Brief       pipeline.Brief `json:"brief"`
	InputURL    string         `json:"input_url,omitempty"`
	Platforms   []string       `json:"platforms,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

// PollState is the vendor-reported state of a submitted job.
type PollState string

const (
	PollPending PollState = "pending"
	PollDone    PollState = "done"
	PollFailed  PollState = "failed"
	// PollUnknown means the vendor does not recognize the id.
	PollUnknown PollState = "unknown"
)

// PollResult is the answer to PollStatus.
type PollResult struct {
	State       PollState
	ArtifactURL string
	Reason      string
}

// Health summarizes the readiness of a vendor driver.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Driver is the contract every stage vendor satisfies.
type Driver interface {
	Submit(ctx context.Context, job Job) (string, error)
	PollStatus(ctx context.Context, externalID string) (PollResult, error)
	HealthCheck(ctx context.Context) Health
}

// VendorForStage maps a pipeline stage to its vendor name.
func VendorForStage(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageRender:
		return VendorRenderer
	case pipeline.StageCaption:
		return VendorCaptioner
	case pipeline.StagePublish:
		return VendorPublisher
	default:
		return ""
	}
}

// StageForVendor maps a vendor name to the stage it serves.
func StageForVendor(vendor string) (pipeline.Stage, bool) {
	switch vendor {
	case VendorRenderer:
		return pipeline.StageRender, true
	case VendorCaptioner:
		return pipeline.StageCaption, true
	case VendorPublisher:
		return pipeline.StagePublish, true
	default:
		return "", false
	}
}

// Set holds one driver per stage.
type Set struct {
	Renderer  Driver
	Captioner Driver
	Publisher Driver
}

// ForStage returns the driver responsible for stage.
func (s Set) ForStage(stage pipeline.Stage) (Driver, error) {
	var d Driver
	switch stage {
	case pipeline.StageRender:
		d = s.Renderer
	case pipeline.StageCaption:
		d = s.Captioner
	case pipeline.StagePublish:
		d = s.Publisher
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	if d == nil {
		return nil, fmt.Errorf("no driver configured for stage %s", stage)
	}
	return d, nil
}

// HealthCheck reports health for every configured driver in stage order.
func (s Set) HealthCheck(ctx context.Context) []Health {
	out := make([]Health, 0, 3)
	for _, stage := range pipeline.Stages() {
		d, err := s.ForStage(stage)
		if err != nil {
			out = append(out, Unhealthy(VendorForStage(stage), err.Error()))
			continue
		}
		out = append(out, d.HealthCheck(ctx))
	}
	return out
}

// NewSet builds drivers from configuration. Dry-run mode returns in-memory
// drivers that complete every job on the first poll.
func NewSet(cfg *config.Config) Set {
	if cfg.Drivers.DryRun {
		return Set{
			Renderer:  NewMemoryDriver(VendorRenderer, WithAutoComplete()),
			Captioner: NewMemoryDriver(VendorCaptioner, WithAutoComplete()),
			Publisher: NewMemoryDriver(VendorPublisher, WithAutoComplete()),
		}
	}
	return Set{
		Renderer:  NewHTTPDriver(VendorRenderer, cfg.Drivers.Renderer, nil),
		Captioner: NewHTTPDriver(VendorCaptioner, cfg.Drivers.Captioner, nil),
		Publisher: NewHTTPDriver(VendorPublisher, cfg.Drivers.Publisher, nil),
	}
}
