package webhooks

import (
	"encoding/json"
	"fmt"
	"strings"

	"reelflow/internal/drivers"
	"reelflow/internal/pipeline"
	"reelflow/internal/services"
)

// Result is the vendor-reported outcome of a job.
type Result string

const (
	ResultDone   Result = "done"
	ResultFailed Result = "failed"
)

// Delivery is a vendor callback normalized across vendors.
type Delivery struct {
	WorkflowID  string
	Stage       pipeline.Stage
	ExternalID  string
	Result      Result
	ArtifactURL string
	Reason      string
	EventKey    string
}

// Event returns the state machine event the delivery maps to.
func (d Delivery) Event() pipeline.Event {
	if d.Result == ResultDone {
		return pipeline.StageCompleted{Stage: d.Stage, ExternalID: d.ExternalID, ArtifactURL: d.ArtifactURL}
	}
	return pipeline.StageFailed{Stage: d.Stage, ExternalID: d.ExternalID, Reason: d.Reason}
}

type adapter func(body []byte) (Delivery, error)

var adapters = map[string]adapter{
	drivers.VendorRenderer:  parseRenderer,
	drivers.VendorCaptioner: parseCaptioner,
	drivers.VendorPublisher: parsePublisher,
}

// Parse decodes a vendor payload. Malformed bodies and unknown event kinds
// return a validation error.
func Parse(vendor string, body []byte) (Delivery, error) {
	parse, ok := adapters[vendor]
	if !ok {
		return Delivery{}, invalid(vendor, fmt.Sprintf("unknown vendor %q", vendor), nil)
	}
	stage, _ := drivers.StageForVendor(vendor)
	d, err := parse(body)
	if err != nil {
		return Delivery{}, err
	}
	d.Stage = stage
	d.WorkflowID = strings.TrimSpace(d.WorkflowID)
	d.ExternalID = strings.TrimSpace(d.ExternalID)
	d.ArtifactURL = strings.TrimSpace(d.ArtifactURL)
	d.Reason = strings.TrimSpace(d.Reason)
	if d.ExternalID == "" {
		return Delivery{}, invalid(vendor, "payload carries no job id", nil)
	}
	if d.Result == ResultFailed && d.Reason == "" {
		d.Reason = fmt.Sprintf("%s reported failure", vendor)
	}
	return d, nil
}

func invalid(vendor, message string, err error) error {
	return services.Wrap(services.ErrValidation, "webhooks", vendor, message, err)
}

type rendererPayload struct {
	EventType string `json:"event_type"`
	EventData struct {
		VideoID    string `json:"video_id"`
		URL        string `json:"url"`
		CallbackID string `json:"callback_id"`
		Msg        string `json:"msg"`
	} `json:"event_data"`
}

func parseRenderer(body []byte) (Delivery, error) {
	var p rendererPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Delivery{}, invalid(drivers.VendorRenderer, "decode payload", err)
	}
	d := Delivery{
		WorkflowID: p.EventData.CallbackID,
		ExternalID: p.EventData.VideoID,
		EventKey:   p.EventType,
	}
	switch p.EventType {
	case "avatar_video.success":
		d.Result = ResultDone
		d.ArtifactURL = p.EventData.URL
	case "avatar_video.fail":
		d.Result = ResultFailed
		d.Reason = p.EventData.Msg
	default:
		return Delivery{}, invalid(drivers.VendorRenderer, fmt.Sprintf("unsupported event %q", p.EventType), nil)
	}
	return d, nil
}

type captionerPayload struct {
	ProjectID   string `json:"projectId"`
	ID          string `json:"id"`
	Status      string `json:"status"`
	DownloadURL string `json:"downloadUrl"`
	DirectURL   string `json:"directUrl"`
	MediaURL    string `json:"media_url"`
	VideoURL    string `json:"videoUrl"`
	Error       string `json:"error"`
}

func parseCaptioner(body []byte) (Delivery, error) {
	var p captionerPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Delivery{}, invalid(drivers.VendorCaptioner, "decode payload", err)
	}
	d := Delivery{
		ExternalID: firstNonEmpty(p.ProjectID, p.ID),
		EventKey:   strings.ToLower(strings.TrimSpace(p.Status)),
	}
	switch d.EventKey {
	case "completed", "complete", "done":
		d.Result = ResultDone
		d.ArtifactURL = firstNonEmpty(p.DownloadURL, p.DirectURL, p.MediaURL, p.VideoURL)
	case "failed", "error":
		d.Result = ResultFailed
		d.Reason = p.Error
	default:
		return Delivery{}, invalid(drivers.VendorCaptioner, fmt.Sprintf("unsupported status %q", p.Status), nil)
	}
	return d, nil
}

type publisherPayload struct {
	Event      string `json:"event"`
	WorkflowID string `json:"workflow_id"`
	Error      string `json:"error"`
	Post       struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"post"`
}

func parsePublisher(body []byte) (Delivery, error) {
	var p publisherPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Delivery{}, invalid(drivers.VendorPublisher, "decode payload", err)
	}
	d := Delivery{
		WorkflowID: p.WorkflowID,
		ExternalID: p.Post.ID,
		EventKey:   p.Event,
	}
	switch p.Event {
	case "post.published":
		d.Result = ResultDone
		d.ArtifactURL = p.Post.URL
	case "post.failed":
		d.Result = ResultFailed
		d.Reason = p.Error
	default:
		return Delivery{}, invalid(drivers.VendorPublisher, fmt.Sprintf("unsupported event %q", p.Event), nil)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
