package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Outcome classifies what Transition did with an event.
type Outcome string

const (
	// OutcomeApplied means the returned record differs from the input and
	// must be persisted.
	OutcomeApplied Outcome = "applied"
	// OutcomeStale means the event belongs to a superseded submission, a
	// different stage, or a terminal record.
	OutcomeStale Outcome = "stale"
	// OutcomeIgnored means the event was valid but required no mutation.
	OutcomeIgnored Outcome = "ignored"
)

// Reasons attached to non-applied results.
const (
	ReasonTerminal            = "record is terminal"
	ReasonStageMismatch       = "event stage does not match current stage"
	ReasonExternalIDMismatch  = "external id does not match live submission"
	ReasonNotAwaiting         = "stage already has a live submission"
	ReasonSupersededAttempt   = "submission belongs to a superseded attempt"
	ReasonMissingAttempt      = "submission carries no attempt"
	ReasonNotStale            = "record updated since scan snapshot"
	ReasonMissingArtifact     = "completion carries no artifact url"
	ReasonUnknownEvent        = "unknown event"
	ReasonOrphaned            = "orphaned — no result from provider"
	ReasonSubmissionLost      = "submission never confirmed"
	ReasonRetriesExhaustedFmt = "%s (retries exhausted after %d attempts)"
)

// EffectKind names the side effect a caller must perform after persisting.
type EffectKind string

const (
	EffectNone   EffectKind = ""
	EffectSubmit EffectKind = "submit"
	EffectPoll   EffectKind = "poll"
	EffectHeal   EffectKind = "heal"
)

// Effect is the single follow-up action implied by a transition.
type Effect struct {
	Kind        EffectKind
	Stage       Stage
	ExternalID  string
	ArtifactURL string
	Attempt     int
}

// Policy holds the knobs the state machine needs.
type Policy struct {
	MaxRetries int
}

// Result is the full output of Transition.
type Result struct {
	Record  Record
	Outcome Outcome
	Effect  Effect
	Reason  string
}

// Applied reports whether the result must be persisted.
func (r Result) Applied() bool { return r.Outcome == OutcomeApplied }

// Transition computes the next state of rec given ev. It is pure: it never
// blocks, never performs I/O, and always returns a result. The input record
// is never mutated.
func Transition(rec Record, ev Event, policy Policy, now time.Time) Result {
	if ev == nil {
		return ignored(rec, ReasonUnknownEvent)
	}
	if rec.Status.IsTerminal() {
		return stale(rec, ReasonTerminal)
	}
	current, ok := rec.CurrentStage()
	if !ok || ev.EventStage() != current {
		return stale(rec, ReasonStageMismatch)
	}

	switch e := ev.(type) {
	case StageSubmitted:
		return applySubmitted(rec, e, now)
	case StageCompleted:
		return applyCompleted(rec, e, now)
	case StageFailed:
		return applyFailed(rec, e, policy, now)
	case StageTimedOut:
		return evaluateTimeout(rec, current)
	case StageResubmit:
		return applyResubmit(rec, e, policy, now)
	default:
		return ignored(rec, ReasonUnknownEvent)
	}
}

func applySubmitted(rec Record, e StageSubmitted, now time.Time) Result {
	if !rec.AwaitingSubmission {
		return stale(rec, ReasonNotAwaiting)
	}
	if strings.TrimSpace(e.ExternalID) == "" {
		return ignored(rec, "submission carries no external id")
	}
	if e.Attempt <= 0 {
		return ignored(rec, ReasonMissingAttempt)
	}
	// After a retry the slot still holds the replaced id; neither it nor a
	// confirmation for an earlier attempt may become live again.
	if e.Attempt != rec.RetryCount+1 || e.ExternalID == rec.ExternalIDs[e.Stage] {
		return stale(rec, ReasonSupersededAttempt)
	}
	next := rec.Clone()
	next.ExternalIDs[e.Stage] = e.ExternalID
	next.AwaitingSubmission = false
	if next.Status == StatusPending {
		next.Status = StatusRendering
	}
	return applied(next, Effect{}, now)
}

func applyCompleted(rec Record, e StageCompleted, now time.Time) Result {
	if reason, live := matchesLive(rec, e.Stage, e.ExternalID); !live {
		return stale(rec, reason)
	}
	next := rec.Clone()
	if next.ArtifactURLs[e.Stage] == "" {
		next.ArtifactURLs[e.Stage] = strings.TrimSpace(e.ArtifactURL)
	}
	following, hasNext := e.Stage.Next()
	if hasNext && next.ArtifactURLs[e.Stage] == "" {
		return ignored(rec, ReasonMissingArtifact)
	}
	next.RetryCount = 0
	if !hasNext {
		next.Status = StatusCompleted
		next.AwaitingSubmission = false
		completed := now.UTC()
		next.CompletedAt = &completed
		return applied(next, Effect{}, now)
	}
	next.Status = following.Status()
	next.AwaitingSubmission = true
	return applied(next, Effect{Kind: EffectSubmit, Stage: following, Attempt: 1}, now)
}

func applyFailed(rec Record, e StageFailed, policy Policy, now time.Time) Result {
	if reason, live := matchesLive(rec, e.Stage, e.ExternalID); !live {
		return stale(rec, reason)
	}
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = fmt.Sprintf("%s failed", e.Stage)
	}
	return retryOrFail(rec, e.Stage, reason, policy, now)
}

func evaluateTimeout(rec Record, stage Stage) Result {
	switch {
	case rec.AwaitingSubmission:
		return Result{Record: rec, Outcome: OutcomeIgnored, Effect: Effect{Kind: EffectSubmit, Stage: stage, Attempt: rec.RetryCount + 1}}
	case rec.ArtifactURLs[stage] != "":
		return Result{Record: rec, Outcome: OutcomeIgnored, Effect: Effect{
			Kind:        EffectHeal,
			Stage:       stage,
			ExternalID:  rec.ExternalIDs[stage],
			ArtifactURL: rec.ArtifactURLs[stage],
		}}
	default:
		return Result{Record: rec, Outcome: OutcomeIgnored, Effect: Effect{
			Kind:       EffectPoll,
			Stage:      stage,
			ExternalID: rec.ExternalIDs[stage],
		}}
	}
}

func applyResubmit(rec Record, e StageResubmit, policy Policy, now time.Time) Result {
	if !rec.AwaitingSubmission {
		return stale(rec, ReasonNotAwaiting)
	}
	if !e.UpdatedBefore.IsZero() && rec.UpdatedAt.After(e.UpdatedBefore) {
		return stale(rec, ReasonNotStale)
	}
	// The first claim of a never-touched pending record starts the pipeline.
	// Later claims mean the initial submission was lost and count as retries.
	if rec.Status == StatusPending && rec.UpdatedAt.Equal(rec.CreatedAt) {
		next := rec.Clone()
		return applied(next, Effect{Kind: EffectSubmit, Stage: e.Stage, Attempt: 1}, now)
	}
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = ReasonSubmissionLost
	}
	return retryOrFail(rec, e.Stage, reason, policy, now)
}

func retryOrFail(rec Record, stage Stage, reason string, policy Policy, now time.Time) Result {
	next := rec.Clone()
	if next.RetryCount < policy.MaxRetries {
		next.RetryCount++
		next.AwaitingSubmission = true
		res := applied(next, Effect{Kind: EffectSubmit, Stage: stage, Attempt: next.RetryCount + 1}, now)
		res.Reason = reason
		return res
	}
	next.Status = StatusFailed
	next.AwaitingSubmission = false
	next.Error = fmt.Sprintf(ReasonRetriesExhaustedFmt, reason, next.RetryCount+1)
	res := applied(next, Effect{}, now)
	res.Reason = reason
	return res
}

// matchesLive reports whether externalID identifies the in-flight submission
// for stage.
func matchesLive(rec Record, stage Stage, externalID string) (string, bool) {
	if rec.AwaitingSubmission || rec.Status == StatusPending {
		return ReasonExternalIDMismatch, false
	}
	if externalID == "" || rec.ExternalIDs[stage] != externalID {
		return ReasonExternalIDMismatch, false
	}
	return "", true
}

func applied(next Record, effect Effect, now time.Time) Result {
	next.UpdatedAt = now.UTC()
	return Result{Record: next, Outcome: OutcomeApplied, Effect: effect}
}

func stale(rec Record, reason string) Result {
	return Result{Record: rec, Outcome: OutcomeStale, Reason: reason}
}

func ignored(rec Record, reason string) Result {
	return Result{Record: rec, Outcome: OutcomeIgnored, Reason: reason}
}
