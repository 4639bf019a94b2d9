package api

import (
	"sort"
	"time"

	"reelflow/internal/cronlock"
	"reelflow/internal/drivers"
	"reelflow/internal/failsafe"
	"reelflow/internal/pipeline"
	"reelflow/internal/store"
)

// FromRecord converts a workflow record to its API representation. The brief
// is only included when withBrief is set, which keeps list payloads small.
func FromRecord(rec pipeline.Record, withBrief bool) Workflow {
	dto := Workflow{
		ID:                 rec.ID,
		Brand:              rec.Brand,
		Status:             string(rec.Status),
		Title:              rec.Brief.Title,
		ExternalIDs:        stageMap(rec.ExternalIDs),
		ArtifactURLs:       stageMap(rec.ArtifactURLs),
		AwaitingSubmission: rec.AwaitingSubmission,
		RetryCount:         rec.RetryCount,
		Error:              rec.Error,
		Version:            rec.Version,
		ResubmittedFrom:    rec.ResubmittedFrom,
		CreatedAt:          formatTime(rec.CreatedAt),
		UpdatedAt:          formatTime(rec.UpdatedAt),
	}
	if stage, ok := rec.CurrentStage(); ok {
		dto.Stage = string(stage)
	}
	if rec.CompletedAt != nil {
		dto.CompletedAt = formatTime(*rec.CompletedAt)
	}
	if withBrief {
		brief := rec.Clone().Brief
		dto.Brief = &brief
	}
	return dto
}

// FromRecords converts a slice of records, omitting briefs.
func FromRecords(recs []pipeline.Record) []Workflow {
	out := make([]Workflow, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec, false))
	}
	return out
}

// FromDeadLetter converts a stored dead letter.
func FromDeadLetter(dl store.DeadLetter, withBody bool) DeadLetter {
	dto := DeadLetter{
		ID:          dl.ID,
		Vendor:      dl.Vendor,
		Brand:       dl.Brand,
		Error:       dl.Error,
		CreatedAt:   formatTime(dl.CreatedAt),
		ReplayCount: dl.ReplayCount,
		Resolved:    dl.Resolved,
	}
	if dl.ReplayedAt != nil {
		dto.ReplayedAt = formatTime(*dl.ReplayedAt)
	}
	if withBody {
		dto.Body = string(dl.Body)
	}
	return dto
}

// FromDeadLetters converts a slice of dead letters without bodies.
func FromDeadLetters(items []store.DeadLetter) []DeadLetter {
	out := make([]DeadLetter, 0, len(items))
	for _, dl := range items {
		out = append(out, FromDeadLetter(dl, false))
	}
	return out
}

// FromHealth converts driver health in deterministic name order.
func FromHealth(health []drivers.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FromReport converts a failsafe scan report.
func FromReport(r failsafe.Report) *FailsafeReport {
	return &FailsafeReport{
		Checked:  r.Checked,
		Healed:   r.Healed,
		Advanced: r.Advanced,
		Retried:  r.Retried,
		Failed:   r.Failed,
		Pending:  r.Pending,
		Errors:   r.Errors,
	}
}

// FromCronResult converts a lock-guarded job result. err is the job's own
// error, if any.
func FromCronResult(res cronlock.Result, finishedAt time.Time, err error) CronRun {
	run := CronRun{
		Job:        res.Job,
		Outcome:    string(res.Outcome),
		Holder:     res.Holder,
		DurationMs: res.Duration.Milliseconds(),
		FinishedAt: formatTime(finishedAt),
		Skipped:    res.Outcome == cronlock.OutcomeSkipped,
	}
	if err != nil {
		run.Error = err.Error()
	}
	return run
}

// FromDatabaseHealth converts store diagnostics.
func FromDatabaseHealth(h store.Diagnostics) *DatabaseHealth {
	return &DatabaseHealth{
		Path:           h.Path,
		Exists:         h.Exists,
		Readable:       h.Readable,
		SchemaVersion:  h.SchemaVersion,
		IntegrityOK:    h.IntegrityOK,
		MissingColumns: h.MissingColumns,
		TotalWorkflows: h.TotalWorkflows,
		Error:          h.Error,
	}
}

// FromSummary converts aggregated store counts.
func FromSummary(h store.PhaseCounts) *WorkflowSummary {
	return &WorkflowSummary{
		Total:     h.Total,
		Pending:   h.Pending,
		InFlight:  h.InFlight,
		Completed: h.Completed,
		Failed:    h.Failed,
	}
}

// MergeCounts returns counts for every known status, including zeroes.
func MergeCounts(stats map[pipeline.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for _, status := range pipeline.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

func stageMap(in map[pipeline.Stage]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for stage, value := range in {
		if value != "" {
			out[string(stage)] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
