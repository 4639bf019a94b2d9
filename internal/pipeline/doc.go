// Package pipeline defines the workflow record model and the pure state
// machine that drives it through render, caption, and publish.
//
// Transition is the only place that decides what an event means. Webhooks,
// driver submissions, the failsafe scanner, and operator commands all feed
// events into it and act on the returned Effect; none of them mutate a Record
// directly. Transition performs no I/O, so persistence and optimistic
// concurrency live in the store and engine packages.
//
// Invariants enforced here:
//   - Status only moves forward, or into failed from any active status.
//   - Events for a different stage, a terminal record, or a superseded
//     external id are stale and leave the record untouched.
//   - RetryCount is capped by Policy.MaxRetries and resets on stage advance.
//   - An artifact URL, once recorded, is never overwritten.
package pipeline
