package pipeline

import "time"

// EventKind names an event variant for logs and metrics.
type EventKind string

const (
	KindStageSubmitted EventKind = "stage_submitted"
	KindStageCompleted EventKind = "stage_completed"
	KindStageFailed    EventKind = "stage_failed"
	KindStageTimedOut  EventKind = "stage_timed_out"
	KindStageResubmit  EventKind = "stage_resubmit"
)

// Event is the closed set of inputs the state machine accepts.
type Event interface {
	EventStage() Stage
	Kind() EventKind
	sealed()
}

// StageSubmitted reports that a driver accepted a job for the stage.
// Attempt echoes the Effect.Attempt that asked for the submission.
type StageSubmitted struct {
	Stage      Stage
	ExternalID string
	Attempt    int
}

// StageCompleted reports that the vendor finished the job and produced an
// artifact.
type StageCompleted struct {
	Stage       Stage
	ExternalID  string
	ArtifactURL string
}

// StageFailed reports that the vendor job failed.
type StageFailed struct {
	Stage      Stage
	ExternalID string
	Reason     string
}

// StageTimedOut asks what the failsafe should do about a stale record. It
// never mutates the record.
type StageTimedOut struct {
	Stage Stage
}

// StageResubmit claims a stage whose submission never landed. The claim only
// succeeds if the record has not been touched since UpdatedBefore, so two
// scanners racing on the same snapshot cannot both win.
type StageResubmit struct {
	Stage         Stage
	Reason        string
	UpdatedBefore time.Time
}

func (e StageSubmitted) EventStage() Stage { return e.Stage }
func (e StageCompleted) EventStage() Stage { return e.Stage }
func (e StageFailed) EventStage() Stage    { return e.Stage }
func (e StageTimedOut) EventStage() Stage  { return e.Stage }
func (e StageResubmit) EventStage() Stage  { return e.Stage }

func (StageSubmitted) Kind() EventKind { return KindStageSubmitted }
func (StageCompleted) Kind() EventKind { return KindStageCompleted }
func (StageFailed) Kind() EventKind    { return KindStageFailed }
func (StageTimedOut) Kind() EventKind  { return KindStageTimedOut }
func (StageResubmit) Kind() EventKind  { return KindStageResubmit }

func (StageSubmitted) sealed() {}
func (StageCompleted) sealed() {}
func (StageFailed) sealed()    {}
func (StageTimedOut) sealed()  {}
func (StageResubmit) sealed()  {}
