// Package preflight provides readiness checks for the filesystem paths and
// external services reelflow depends on.
//
// The daemon runs RunAll at startup and logs every failed check as a warning;
// the CLI status command renders the same results. Checks for features that
// are switched off (dry-run drivers, unsigned webhooks, non-NATS lock
// backends) are skipped.
package preflight
