package store

import "errors"

var (
	// ErrNotFound is returned when a workflow or dead letter does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a compare-and-swap loses to a concurrent
	// writer. Callers re-read and retry.
	ErrConflict = errors.New("store: version conflict")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("store: schema version mismatch")
)
