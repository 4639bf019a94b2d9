// Package daemon coordinates the long-running reelflow process.
//
// It wires the workflow store, engine, failsafe scanner, webhook ingress, and
// cron locker into a single lifecycle with a flock-based instance lock so two
// daemons never share one data directory. The daemon owns the HTTP surface:
// vendor webhooks under /webhooks, the bearer-protected operator API under
// /api, and Prometheus metrics under /metrics.
//
// Maintenance jobs (the failsafe scan and receipt/dead-letter purging) run on
// tickers inside the daemon, but each run goes through the cron locker so
// that only one replica in a deployment executes a given job at a time.
//
// Keep orchestration logic here: recovery and transition rules live in the
// failsafe, engine, and pipeline packages.
package daemon
