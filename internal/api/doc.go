// Package api defines wire-format types and converters for the operator HTTP
// API and the CLI's JSON output. It translates workflow records, dead letters,
// and maintenance results into transport-friendly DTOs so consumers never
// couple to store or pipeline internals.
//
// # Key Types
//
// Workflow: transport representation of a workflow record with per-stage
// external ids and artifact URLs.
//
// DaemonStatus: running state, status counts, driver health, and the last
// failsafe and purge runs.
//
// CronRun: result of a lock-guarded maintenance job, ran or skipped.
//
// WorkflowService: read and write operations over the engine and failsafe
// scanner returning DTOs, shared by the daemon API and the CLI.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Statuses and stages are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds.
package api
