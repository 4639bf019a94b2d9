package testsupport

import (
	"context"
	"testing"
	"time"

	"reelflow/internal/config"
	"reelflow/internal/pipeline"
	"reelflow/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewWorkflow inserts a pending workflow for brand created at the given time.
func NewWorkflow(t testing.TB, st *store.Store, id, brand string, createdAt time.Time) pipeline.Record {
	t.Helper()

	rec := pipeline.NewRecord(id, brand, pipeline.Brief{Title: "Test " + id, Script: "script"}, createdAt)
	created, err := st.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return created
}

// MustSave persists rec over the stored version and returns the saved record.
func MustSave(t testing.TB, st *store.Store, rec pipeline.Record) pipeline.Record {
	t.Helper()

	saved, err := st.CompareAndSwap(context.Background(), rec, rec.Version)
	if err != nil {
		t.Fatalf("store.CompareAndSwap: %v", err)
	}
	return saved
}

// MustGet reads a workflow or fails the test.
func MustGet(t testing.TB, st *store.Store, id string) pipeline.Record {
	t.Helper()

	rec, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Get(%s): %v", id, err)
	}
	return rec
}
