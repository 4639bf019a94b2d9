// Package engine applies pipeline events to stored workflows and performs the
// side effects they imply.
//
// Apply is the single write path: load the record, run pipeline.Transition,
// compare-and-swap the result, and on success submit the next stage through
// its driver. Lost races are retried from a fresh read. A failed side effect
// is returned to the caller but never rolled back; the failsafe scanner
// notices the workflow stalled and resubmits.
package engine
