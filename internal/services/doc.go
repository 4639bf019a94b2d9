// Package services defines shared utilities consumed by the engine, the
// stage drivers, and the webhook ingress.
//
// Key responsibilities:
//   - Context helpers that stamp workflow IDs, brands, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so infrastructure failures
//     can be classified (retryable or not) without string matching.
//
// Business outcomes such as stale webhooks are never errors; only failures of
// the machinery itself flow through these markers.
package services
