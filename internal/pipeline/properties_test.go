package pipeline_test

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"reelflow/internal/pipeline"
)

// randomEvent produces an event that is plausible for the record: sometimes
// for the live submission, sometimes for an old or foreign one.
func randomEvent(r *rand.Rand, rec pipeline.Record, seq int) pipeline.Event {
	stages := pipeline.Stages()
	stage := stages[r.IntN(len(stages))]
	if current, ok := rec.CurrentStage(); ok && r.IntN(3) > 0 {
		stage = current
	}
	id := rec.ExternalID(stage)
	if id == "" || r.IntN(4) == 0 {
		id = fmt.Sprintf("ext-%d", r.IntN(seq+1))
	}
	switch r.IntN(5) {
	case 0:
		attempt := rec.RetryCount + 1
		if r.IntN(5) == 0 {
			attempt = r.IntN(attempt + 1)
		}
		return pipeline.StageSubmitted{Stage: stage, ExternalID: fmt.Sprintf("ext-%d", seq), Attempt: attempt}
	case 1:
		return pipeline.StageCompleted{Stage: stage, ExternalID: id, ArtifactURL: "https://cdn/" + id}
	case 2:
		return pipeline.StageFailed{Stage: stage, ExternalID: id, Reason: "vendor error"}
	case 3:
		return pipeline.StageTimedOut{Stage: stage}
	default:
		return pipeline.StageResubmit{Stage: stage, UpdatedBefore: rec.UpdatedAt}
	}
}

func TestTransitionPropertiesHoldForRandomSequences(t *testing.T) {
	for seed := uint64(1); seed <= 200; seed++ {
		r := rand.New(rand.NewPCG(seed, seed*31))
		rec := pipeline.NewRecord("wf", "carz", pipeline.Brief{}, t0)
		at := t0
		var history []pipeline.Event
		for step := 0; step < 60; step++ {
			at = at.Add(time.Minute)
			ev := randomEvent(r, rec, step)
			res := pipeline.Transition(rec, ev, policy, at)

			switch res.Outcome {
			case pipeline.OutcomeApplied:
				if res.Record.Status != rec.Status && !rec.Status.Precedes(res.Record.Status) {
					t.Fatalf("seed %d step %d: status moved backwards %s -> %s", seed, step, rec.Status, res.Record.Status)
				}
				if res.Record.RetryCount > policy.MaxRetries {
					t.Fatalf("seed %d step %d: retry count %d above cap", seed, step, res.Record.RetryCount)
				}
				for stage, url := range rec.ArtifactURLs {
					if url != "" && res.Record.ArtifactURLs[stage] != url {
						t.Fatalf("seed %d step %d: artifact for %s overwritten", seed, step, stage)
					}
				}
				rec = res.Record
				history = append(history, ev)
				// Replaying anything already applied must not change the record.
				for i, old := range history {
					again := pipeline.Transition(rec, old, policy, at.Add(time.Second))
					if again.Applied() {
						t.Fatalf("seed %d step %d: replay of applied event %d (%s) applied again", seed, step, i, old.Kind())
					}
				}
			default:
				if res.Effect.Kind != pipeline.EffectNone && ev.Kind() != pipeline.KindStageTimedOut {
					t.Fatalf("seed %d step %d: non-applied %s emitted effect %+v", seed, step, ev.Kind(), res.Effect)
				}
				if !res.Record.UpdatedAt.Equal(rec.UpdatedAt) || res.Record.Status != rec.Status {
					t.Fatalf("seed %d step %d: non-applied result mutated record", seed, step)
				}
			}

			if rec.Status.IsTerminal() && rec.AwaitingSubmission {
				t.Fatalf("seed %d step %d: terminal record still awaiting submission", seed, step)
			}
			if rec.Status.IsTerminal() {
				break
			}
		}
	}
}
