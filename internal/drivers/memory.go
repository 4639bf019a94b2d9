package drivers

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryDriver keeps jobs in process. Poll results are scripted per id; with
// auto-complete, unscripted jobs report done with a memory:// artifact.
type MemoryDriver struct {
	name         string
	autoComplete bool

	mu          sync.Mutex
	submissions []Job
	results     map[string]PollResult
	submitErr   error
	pollErr     error
	nextIDs     []string
}

// MemoryOption configures a MemoryDriver.
type MemoryOption func(*MemoryDriver)

// WithAutoComplete makes unscripted jobs complete on the first poll.
func WithAutoComplete() MemoryOption {
	return func(d *MemoryDriver) { d.autoComplete = true }
}

// NewMemoryDriver constructs an in-memory driver.
func NewMemoryDriver(name string, opts ...MemoryOption) *MemoryDriver {
	d := &MemoryDriver{name: name, results: map[string]PollResult{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit records the job and returns a fresh id.
func (d *MemoryDriver) Submit(ctx context.Context, job Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return "", d.submitErr
	}
	var id string
	if len(d.nextIDs) > 0 {
		id, d.nextIDs = d.nextIDs[0], d.nextIDs[1:]
	} else {
		id = fmt.Sprintf("%s-%s", d.name, uuid.NewString())
	}
	d.submissions = append(d.submissions, job)
	return id, nil
}

// PollStatus returns the scripted result for externalID.
func (d *MemoryDriver) PollStatus(ctx context.Context, externalID string) (PollResult, error) {
	if err := ctx.Err(); err != nil {
		return PollResult{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pollErr != nil {
		return PollResult{}, d.pollErr
	}
	if res, ok := d.results[externalID]; ok {
		return res, nil
	}
	if d.autoComplete {
		return PollResult{State: PollDone, ArtifactURL: "memory://" + d.name + "/" + externalID}, nil
	}
	return PollResult{State: PollPending}, nil
}

// HealthCheck always reports ready.
func (d *MemoryDriver) HealthCheck(context.Context) Health {
	return Healthy(d.name)
}

// SetResult scripts the poll result for an id.
func (d *MemoryDriver) SetResult(externalID string, res PollResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[externalID] = res
}

// QueueIDs fixes the ids returned by the next submissions.
func (d *MemoryDriver) QueueIDs(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextIDs = append(d.nextIDs, ids...)
}

// FailSubmissions makes Submit return err until cleared with nil.
func (d *MemoryDriver) FailSubmissions(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitErr = err
}

// FailPolls makes PollStatus return err until cleared with nil.
func (d *MemoryDriver) FailPolls(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pollErr = err
}

// Submissions returns a copy of every job submitted so far.
func (d *MemoryDriver) Submissions() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Job, len(d.submissions))
	copy(out, d.submissions)
	return out
}
