package pipeline

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a workflow record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRendering  Status = "rendering"
	StatusCaptioning Status = "captioning"
	StatusPublishing Status = "publishing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusRendering,
	StatusCaptioning,
	StatusPublishing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// statusRank orders statuses along the forward path; failed sits outside it.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusRendering:  1,
	StatusCaptioning: 2,
	StatusPublishing: 3,
	StatusCompleted:  4,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ActiveStatuses returns the non-terminal statuses in pipeline order.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusRendering, StatusCaptioning, StatusPublishing}
}

// ParseStatus converts a string into a known status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage returns the pipeline stage a status is working on. Pending records
// are waiting on the render stage.
func (s Status) Stage() (Stage, bool) {
	switch s {
	case StatusPending, StatusRendering:
		return StageRender, true
	case StatusCaptioning:
		return StageCaption, true
	case StatusPublishing:
		return StagePublish, true
	default:
		return "", false
	}
}

// Precedes reports whether s comes strictly before other on the forward path.
// Failed never precedes anything and every active status precedes failed.
func (s Status) Precedes(other Status) bool {
	if s == StatusFailed {
		return false
	}
	if other == StatusFailed {
		return !s.IsTerminal()
	}
	return statusRank[s] < statusRank[other]
}

// Stage is one of the three vendor-backed steps of the pipeline.
type Stage string

const (
	StageRender  Stage = "render"
	StageCaption Stage = "caption"
	StagePublish Stage = "publish"
)

var stageOrder = []Stage{StageRender, StageCaption, StagePublish}

// Stages returns the pipeline stages in order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseStage converts a string into a known stage.
func ParseStage(value string) (Stage, bool) {
	stage := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range stageOrder {
		if s == stage {
			return stage, true
		}
	}
	return "", false
}

// Status returns the in-progress status for the stage.
func (s Stage) Status() Status {
	switch s {
	case StageRender:
		return StatusRendering
	case StageCaption:
		return StatusCaptioning
	case StagePublish:
		return StatusPublishing
	default:
		return ""
	}
}

// Next returns the stage after s, or false when s is the last stage.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Brief is the content request a workflow produces a video for.
type Brief struct {
	Title           string            `json:"title" toml:"title"`
	Script          string            `json:"script" toml:"script"`
	AvatarID        string            `json:"avatar_id,omitempty" toml:"avatar_id"`
	VoiceID         string            `json:"voice_id,omitempty" toml:"voice_id"`
	CaptionTemplate string            `json:"caption_template,omitempty" toml:"caption_template"`
	Platforms       []string          `json:"platforms,omitempty" toml:"platforms"`
	Metadata        map[string]string `json:"metadata,omitempty" toml:"metadata"`
}

// Record is the durable state of one content-production workflow.
type Record struct {
	ID                 string
	Brand              string
	Status             Status
	Brief              Brief
	ExternalIDs        map[Stage]string
	ArtifactURLs       map[Stage]string
	AwaitingSubmission bool
	RetryCount         int
	Error              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
	Version            int64
	ResubmittedFrom    string
}

// NewRecord builds a pending record waiting for its first render submission.
func NewRecord(id, brand string, brief Brief, now time.Time) Record {
	now = now.UTC()
	return Record{
		ID:                 id,
		Brand:              brand,
		Status:             StatusPending,
		Brief:              brief,
		ExternalIDs:        map[Stage]string{},
		ArtifactURLs:       map[Stage]string{},
		AwaitingSubmission: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// CurrentStage returns the stage the record is waiting on.
func (r Record) CurrentStage() (Stage, bool) {
	return r.Status.Stage()
}

// ExternalID returns the vendor job id recorded for stage.
func (r Record) ExternalID(stage Stage) string {
	return r.ExternalIDs[stage]
}

// ArtifactURL returns the output URL recorded for stage.
func (r Record) ArtifactURL(stage Stage) string {
	return r.ArtifactURLs[stage]
}

// LiveExternalID returns the external id of the in-flight submission for the
// current stage, or "" when none is live.
func (r Record) LiveExternalID() string {
	stage, ok := r.CurrentStage()
	if !ok || r.AwaitingSubmission || r.Status == StatusPending {
		return ""
	}
	return r.ExternalIDs[stage]
}

// Clone returns a deep copy so callers can mutate without aliasing maps.
func (r Record) Clone() Record {
	out := r
	out.ExternalIDs = cloneStageMap(r.ExternalIDs)
	out.ArtifactURLs = cloneStageMap(r.ArtifactURLs)
	if r.CompletedAt != nil {
		ts := *r.CompletedAt
		out.CompletedAt = &ts
	}
	if r.Brief.Platforms != nil {
		out.Brief.Platforms = append([]string(nil), r.Brief.Platforms...)
	}
	if r.Brief.Metadata != nil {
		out.Brief.Metadata = make(map[string]string, len(r.Brief.Metadata))
		for k, v := range r.Brief.Metadata {
			out.Brief.Metadata[k] = v
		}
	}
	return out
}

func cloneStageMap(in map[Stage]string) map[Stage]string {
	out := make(map[Stage]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
