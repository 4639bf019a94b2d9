package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reelflow/internal/pipeline"
	"reelflow/internal/store"
	"reelflow/internal/testsupport"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestOpenCreatesSchemaAndRoundTripsRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := pipeline.NewRecord("wf-1", "carz", pipeline.Brief{
		Title:     "Weekend drive",
		Script:    "Hello",
		Platforms: []string{"youtube"},
		Metadata:  map[string]string{"listing": "42"},
	}, base)
	created, err := st.Create(ctx, rec)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}

	fetched := testsupport.MustGet(t, st, "wf-1")
	if fetched.Brand != "carz" || fetched.Status != pipeline.StatusPending || !fetched.AwaitingSubmission {
		t.Fatalf("unexpected fetched record: %+v", fetched)
	}
	if fetched.Brief.Title != "Weekend drive" || fetched.Brief.Metadata["listing"] != "42" {
		t.Fatalf("brief not round-tripped: %+v", fetched.Brief)
	}
	if !fetched.CreatedAt.Equal(base) || !fetched.UpdatedAt.Equal(base) {
		t.Fatalf("timestamps not round-tripped: %v %v", fetched.CreatedAt, fetched.UpdatedAt)
	}

	if _, err := st.Create(ctx, rec); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompareAndSwapDetectsConflicts(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	rec := testsupport.NewWorkflow(t, st, "wf-cas", "carz", base)

	first := pipeline.Transition(rec, pipeline.StageSubmitted{Stage: pipeline.StageRender, ExternalID: "vid-1", Attempt: 1}, pipeline.Policy{MaxRetries: 3}, base.Add(time.Minute))
	saved, err := st.CompareAndSwap(ctx, first.Record, rec.Version)
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if saved.Version != rec.Version+1 {
		t.Fatalf("expected version bump, got %d", saved.Version)
	}

	// A writer still holding the old version loses.
	if _, err := st.CompareAndSwap(ctx, first.Record, rec.Version); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	missing := first.Record.Clone()
	missing.ID = "ghost"
	if _, err := st.CompareAndSwap(ctx, missing, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	fetched := testsupport.MustGet(t, st, "wf-cas")
	if fetched.Status != pipeline.StatusRendering || fetched.ExternalID(pipeline.StageRender) != "vid-1" {
		t.Fatalf("unexpected stored record: %+v", fetched)
	}
}

func TestConcurrentCompareAndSwapHasOneWinner(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	rec := testsupport.NewWorkflow(t, st, "wf-race", "carz", base)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := rec.Clone()
			next.RetryCount = 1
			next.UpdatedAt = base.Add(time.Minute)
			_, err := st.CompareAndSwap(ctx, next, rec.Version)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d and %d", writers-1, wins, conflicts)
	}
}

func TestFindByExternalIDIsBrandScoped(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	rec := testsupport.NewWorkflow(t, st, "wf-ext", "carz", base)
	rec.ExternalIDs[pipeline.StageRender] = "vid-9"
	rec.Status = pipeline.StatusRendering
	rec.AwaitingSubmission = false
	testsupport.MustSave(t, st, rec)

	found, err := st.FindByExternalID(ctx, "carz", pipeline.StageRender, "vid-9")
	if err != nil || found.ID != "wf-ext" {
		t.Fatalf("expected to find wf-ext, got %+v (%v)", found, err)
	}
	if _, err := st.FindByExternalID(ctx, "bikez", pipeline.StageRender, "vid-9"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other brand to miss, got %v", err)
	}
	if _, err := st.FindByExternalID(ctx, "carz", pipeline.StageCaption, "vid-9"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other stage to miss, got %v", err)
	}
}

func TestStaleCandidatesHonorsCutoffAndLimit(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewWorkflow(t, st, "old-1", "carz", base)
	testsupport.NewWorkflow(t, st, "old-2", "carz", base.Add(time.Minute))
	testsupport.NewWorkflow(t, st, "fresh", "carz", base.Add(time.Hour))

	got, err := st.StaleCandidates(ctx, pipeline.StatusPending, base.Add(30*time.Minute), 10)
	if err != nil {
		t.Fatalf("StaleCandidates failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "old-1" || got[1].ID != "old-2" {
		t.Fatalf("unexpected candidates: %+v", got)
	}

	limited, err := st.StaleCandidates(ctx, pipeline.StatusPending, base.Add(30*time.Minute), 1)
	if err != nil {
		t.Fatalf("StaleCandidates failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "old-1" {
		t.Fatalf("expected oldest candidate only, got %+v", limited)
	}

	none, err := st.StaleCandidates(ctx, pipeline.StatusRendering, base.Add(2*time.Hour), 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no rendering candidates, got %+v (%v)", none, err)
	}
}

func TestStaleCandidatesComparesSubsecondTimestamps(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.NewWorkflow(t, st, "whole", "carz", base)
	testsupport.NewWorkflow(t, st, "fraction", "carz", base.Add(500*time.Millisecond))

	got, err := st.StaleCandidates(context.Background(), pipeline.StatusPending, base.Add(100*time.Millisecond), 10)
	if err != nil {
		t.Fatalf("StaleCandidates failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "whole" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestListFiltersByStatusAndBrand(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewWorkflow(t, st, "a", "carz", base)
	testsupport.NewWorkflow(t, st, "b", "bikez", base.Add(time.Minute))
	failed := testsupport.NewWorkflow(t, st, "c", "carz", base.Add(2*time.Minute))
	failed.Status = pipeline.StatusFailed
	failed.AwaitingSubmission = false
	failed.Error = "boom"
	testsupport.MustSave(t, st, failed)

	all, err := st.List(ctx, store.ListFilter{})
	if err != nil || len(all) != 3 || all[0].ID != "c" {
		t.Fatalf("unexpected list: %+v (%v)", all, err)
	}
	carz, err := st.List(ctx, store.ListFilter{Brand: "carz", Statuses: []pipeline.Status{pipeline.StatusPending}})
	if err != nil || len(carz) != 1 || carz[0].ID != "a" {
		t.Fatalf("unexpected filtered list: %+v (%v)", carz, err)
	}

	stats, err := st.Stats(ctx, "")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[pipeline.StatusPending] != 2 || stats[pipeline.StatusFailed] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
	health, err := st.Health(ctx)
	if err != nil || health.Total != 3 || health.Failed != 1 || health.Pending != 2 {
		t.Fatalf("unexpected health: %+v (%v)", health, err)
	}
}

func TestRecordArtifactOnlyForLiveSubmission(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	rec := testsupport.NewWorkflow(t, st, "wf-art", "carz", base)
	rec.Status = pipeline.StatusRendering
	rec.AwaitingSubmission = false
	rec.ExternalIDs[pipeline.StageRender] = "vid-1"
	rec = testsupport.MustSave(t, st, rec)

	ok, err := st.RecordArtifact(ctx, "wf-art", pipeline.StageRender, "vid-0", "https://cdn/old.mp4")
	if err != nil || ok {
		t.Fatalf("expected superseded id to be rejected, got %v %v", ok, err)
	}
	ok, err = st.RecordArtifact(ctx, "wf-art", pipeline.StageRender, "vid-1", "https://cdn/a.mp4")
	if err != nil || !ok {
		t.Fatalf("expected artifact recorded, got %v %v", ok, err)
	}
	ok, err = st.RecordArtifact(ctx, "wf-art", pipeline.StageRender, "vid-1", "https://cdn/b.mp4")
	if err != nil || ok {
		t.Fatalf("expected existing artifact to be kept, got %v %v", ok, err)
	}

	fetched := testsupport.MustGet(t, st, "wf-art")
	if fetched.ArtifactURL(pipeline.StageRender) != "https://cdn/a.mp4" {
		t.Fatalf("unexpected artifact %q", fetched.ArtifactURL(pipeline.StageRender))
	}
	if !fetched.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Fatal("recording an artifact must not touch updated_at")
	}
	if fetched.Version != rec.Version+1 {
		t.Fatalf("expected version bump, got %d", fetched.Version)
	}
	// The older snapshot can no longer overwrite the artifact.
	if _, err := st.CompareAndSwap(ctx, rec, rec.Version); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale writer, got %v", err)
	}
}

func TestReceiptsExpire(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	receipt := store.Receipt{
		Key:         "renderer:vid-1:carz:avatar_video.success",
		Vendor:      "renderer",
		Brand:       "carz",
		ExternalID:  "vid-1",
		Outcome:     "applied",
		ProcessedAt: base,
		ExpiresAt:   base.Add(24 * time.Hour),
	}
	if err := st.MarkReceipt(ctx, receipt); err != nil {
		t.Fatalf("MarkReceipt failed: %v", err)
	}
	if ok, err := st.HasReceipt(ctx, receipt.Key, base.Add(time.Hour)); err != nil || !ok {
		t.Fatalf("expected live receipt, got %v %v", ok, err)
	}
	if ok, err := st.HasReceipt(ctx, receipt.Key, base.Add(25*time.Hour)); err != nil || ok {
		t.Fatalf("expected expired receipt, got %v %v", ok, err)
	}
	purged, err := st.PurgeReceipts(ctx, base.Add(25*time.Hour))
	if err != nil || purged != 1 {
		t.Fatalf("expected one purged receipt, got %d (%v)", purged, err)
	}
}

func TestDeadLetterLifecycle(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	id, err := st.AddDeadLetter(ctx, store.DeadLetter{
		Vendor:    "captioner",
		Brand:     "carz",
		Body:      []byte(`{"projectId":"p1"}`),
		Error:     "database is locked",
		CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("AddDeadLetter failed: %v", err)
	}

	open, err := st.ListDeadLetters(ctx, false, 0)
	if err != nil || len(open) != 1 || string(open[0].Body) != `{"projectId":"p1"}` {
		t.Fatalf("unexpected dead letters: %+v (%v)", open, err)
	}

	if err := st.MarkDeadLetterReplayed(ctx, id, true, "", base.Add(time.Hour)); err != nil {
		t.Fatalf("MarkDeadLetterReplayed failed: %v", err)
	}
	dl, err := st.GetDeadLetter(ctx, id)
	if err != nil {
		t.Fatalf("GetDeadLetter failed: %v", err)
	}
	if !dl.Resolved || dl.ReplayCount != 1 || dl.ReplayedAt == nil || dl.Error != "database is locked" {
		t.Fatalf("unexpected dead letter after replay: %+v", dl)
	}
	if open, _ := st.ListDeadLetters(ctx, false, 0); len(open) != 0 {
		t.Fatalf("resolved entries should be hidden, got %d", len(open))
	}
	if purged, err := st.PurgeDeadLetters(ctx, base.Add(time.Minute)); err != nil || purged != 1 {
		t.Fatalf("expected one purged dead letter, got %d (%v)", purged, err)
	}
	if _, err := st.GetDeadLetter(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after purge, got %v", err)
	}
}

func TestLeasesAreExclusiveUntilExpiry(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	ttl := 30 * time.Minute

	ok, err := st.AcquireLease(ctx, "failsafe-scan", "a", base, ttl)
	if err != nil || !ok {
		t.Fatalf("expected a to acquire, got %v %v", ok, err)
	}
	ok, err = st.AcquireLease(ctx, "failsafe-scan", "b", base.Add(time.Minute), ttl)
	if err != nil || ok {
		t.Fatalf("expected b to be refused, got %v %v", ok, err)
	}
	// Releasing with the wrong holder is a no-op.
	if err := st.ReleaseLease(ctx, "failsafe-scan", "b"); err != nil {
		t.Fatalf("ReleaseLease failed: %v", err)
	}
	lease, err := st.GetLease(ctx, "failsafe-scan")
	if err != nil || lease.HolderID != "a" {
		t.Fatalf("expected lease held by a, got %+v (%v)", lease, err)
	}
	// A crashed holder's lease self-heals after expiry.
	ok, err = st.AcquireLease(ctx, "failsafe-scan", "b", base.Add(ttl), ttl)
	if err != nil || !ok {
		t.Fatalf("expected b to take over expired lease, got %v %v", ok, err)
	}
	if err := st.ReleaseLease(ctx, "failsafe-scan", "b"); err != nil {
		t.Fatalf("ReleaseLease failed: %v", err)
	}
	if _, err := st.GetLease(ctx, "failsafe-scan"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected lease removed, got %v", err)
	}
}

func TestCheckHealthReportsSchema(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.NewWorkflow(t, st, "wf-h", "carz", base)
	health, err := st.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.Exists || !health.Readable || !health.HasWorkflows || !health.IntegrityOK {
		t.Fatalf("unexpected health: %+v", health)
	}
	if len(health.MissingColumns) != 0 || health.TotalWorkflows != 1 || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health details: %+v", health)
	}
}

func TestOpenRejectsForeignSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.db")
	st, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	st, err = store.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen at current version failed: %v", err)
	}
	_ = st.Close()

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = raw.Close()

	if _, err := store.OpenPath(path); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
