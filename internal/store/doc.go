// Package store persists workflow records in SQLite along with the
// supporting tables the ingress and cron lock need: webhook receipts, dead
// letters, and cron leases.
//
// Every workflow write is a compare-and-swap on the row version. The store
// has no business rules of its own; callers run pipeline.Transition and hand
// the result to CompareAndSwap, retrying on ErrConflict.
//
// Schema changes bump schemaVersion in schema.go; operators delete the
// database to adopt the new schema.
package store
