package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reelflow/internal/api"
	"reelflow/internal/config"
	"reelflow/internal/cronlock"
	"reelflow/internal/daemon"
	"reelflow/internal/drivers"
	"reelflow/internal/engine"
	"reelflow/internal/failsafe"
	"reelflow/internal/logging"
	"reelflow/internal/metrics"
	"reelflow/internal/pipeline"
	"reelflow/internal/store"
	"reelflow/internal/testsupport"
	"reelflow/internal/webhooks"
)

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	daemon   *daemon.Daemon
	renderer *drivers.MemoryDriver
	server   *httptest.Server
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	st := testsupport.MustOpenStore(t, cfg)
	renderer := drivers.NewMemoryDriver(drivers.VendorRenderer)
	renderer.QueueIDs("vid-1", "vid-2", "vid-3")
	set := drivers.Set{
		Renderer:  renderer,
		Captioner: drivers.NewMemoryDriver(drivers.VendorCaptioner),
		Publisher: drivers.NewMemoryDriver(drivers.VendorPublisher),
	}
	logger := logging.NewNop()
	m := metrics.New(cfg.Metrics.Namespace)
	seq := 0
	eng := engine.New(cfg, st, set, logger,
		engine.WithMetrics(m),
		engine.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("wf-%d", seq)
		}),
	)
	locker, err := cronlock.New(context.Background(), cfg, st, logger, cronlock.WithMetrics(m))
	if err != nil {
		t.Fatalf("cronlock.New: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Components{
		Store:   st,
		Engine:  eng,
		Scanner: failsafe.New(cfg, eng, logger, failsafe.WithMetrics(m)),
		Ingress: webhooks.New(cfg, eng, logger, webhooks.WithMetrics(m)),
		Locker:  locker,
		Metrics: m,
	}, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return &fixture{cfg: cfg, store: st, daemon: d, renderer: renderer, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return out
}

func (f *fixture) launch(t *testing.T) api.Workflow {
	t.Helper()
	status, raw := f.do(t, http.MethodPost, "/api/workflows", "", api.LaunchRequest{
		Brand: "carz",
		Brief: pipeline.Brief{Title: "Weekend drive", Script: "Hello"},
	})
	if status != http.StatusCreated {
		t.Fatalf("launch status %d: %s", status, raw)
	}
	return decode[api.WorkflowResponse](t, raw).Item
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	addr := f.daemon.Addr()
	if addr == "" {
		t.Fatal("expected listener address")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	other := newFixture(t, func(cfg *config.Config) {
		cfg.Paths = f.cfg.Paths
		cfg.API.Bind = ""
	})
	if err := other.daemon.Start(ctx); err == nil {
		t.Fatal("expected a second daemon on the same data dir to be refused")
	}

	f.daemon.Stop()
	if f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.API.Token = "letmein" })

	if status, _ := f.do(t, http.MethodGet, "/api/status", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status, _ := f.do(t, http.MethodGet, "/api/status", "wrong", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", status)
	}
	status, raw := f.do(t, http.MethodGet, "/api/status", "letmein", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", status)
	}
	payload := decode[api.DaemonStatus](t, raw)
	if payload.LockBackend != config.LockBackendSQLite || payload.Holder != "test-holder" {
		t.Fatalf("unexpected lock info %+v", payload)
	}
	if len(payload.Drivers) != 3 || payload.Counts["pending"] != 0 {
		t.Fatalf("unexpected status payload %+v", payload)
	}
	if payload.Database == nil || !payload.Database.Readable || payload.Summary == nil {
		t.Fatalf("expected database health in status, got %+v", payload)
	}
	if status, _ := f.do(t, http.MethodGet, "/healthz", "", nil); status != http.StatusOK {
		t.Fatalf("healthz should not need a token, got %d", status)
	}
}

func TestWorkflowRoutes(t *testing.T) {
	f := newFixture(t, nil)
	item := f.launch(t)
	if item.ID != "wf-1" || item.Status != "rendering" || item.ExternalIDs["render"] != "vid-1" {
		t.Fatalf("unexpected launched workflow %+v", item)
	}

	status, raw := f.do(t, http.MethodGet, "/api/workflows/wf-1", "", nil)
	if status != http.StatusOK {
		t.Fatalf("describe status %d: %s", status, raw)
	}
	if got := decode[api.WorkflowResponse](t, raw).Item; got.Brief == nil || got.Brief.Script != "Hello" {
		t.Fatalf("expected brief in describe, got %+v", got)
	}

	status, raw = f.do(t, http.MethodGet, "/api/workflows?status=rendering&brand=carz", "", nil)
	if status != http.StatusOK {
		t.Fatalf("list status %d: %s", status, raw)
	}
	if items := decode[api.WorkflowListResponse](t, raw).Items; len(items) != 1 || items[0].ID != "wf-1" {
		t.Fatalf("unexpected list %+v", items)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing workflow", http.MethodGet, "/api/workflows/nope", nil, http.StatusNotFound},
		{"unknown status filter", http.MethodGet, "/api/workflows?status=exploded", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/workflows?limit=-1", nil, http.StatusBadRequest},
		{"unknown brand", http.MethodPost, "/api/workflows", api.LaunchRequest{Brand: "bikez", Brief: pipeline.Brief{Title: "x"}}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/workflows", "{", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/workflows", `{"brand":"carz","colour":"red"}`, http.StatusBadRequest},
		{"resubmit active workflow", http.MethodPost, "/api/workflows/wf-1/resubmit", nil, http.StatusBadRequest},
		{"heal missing workflow", http.MethodPost, "/api/workflows/nope/heal", nil, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/workflows/wf-1", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, raw := f.do(t, tt.method, tt.path, "", tt.body); status != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, status, raw)
			}
		})
	}
}

func TestResubmitRouteClonesFailedWorkflow(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Workflow.MaxRetries = 0 })
	f.launch(t)

	body := `{"event_type":"avatar_video.fail","event_data":{"video_id":"vid-1","msg":"avatar missing","callback_id":"wf-1"}}`
	if status, raw := f.do(t, http.MethodPost, "/webhooks/renderer/carz", "", body); status != http.StatusOK {
		t.Fatalf("webhook status %d: %s", status, raw)
	}
	if rec := testsupport.MustGet(t, f.store, "wf-1"); rec.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed workflow, got %s", rec.Status)
	}

	status, raw := f.do(t, http.MethodPost, "/api/workflows/wf-1/resubmit", "", nil)
	if status != http.StatusCreated {
		t.Fatalf("resubmit status %d: %s", status, raw)
	}
	clone := decode[api.WorkflowResponse](t, raw).Item
	if clone.ID != "wf-2" || clone.ResubmittedFrom != "wf-1" || clone.Status != "rendering" {
		t.Fatalf("unexpected clone %+v", clone)
	}
}

func TestWebhookAdvancesWorkflowThroughDaemon(t *testing.T) {
	f := newFixture(t, nil)
	f.launch(t)

	body := `{"event_type":"avatar_video.success","event_data":{"video_id":"vid-1","url":"https://cdn/v.mp4","callback_id":"wf-1"}}`
	status, raw := f.do(t, http.MethodPost, "/webhooks/renderer/carz", "", body)
	if status != http.StatusOK {
		t.Fatalf("webhook status %d: %s", status, raw)
	}
	if resp := decode[webhooks.Response](t, raw); resp.Outcome != "applied" {
		t.Fatalf("unexpected webhook response %+v", resp)
	}
	rec := testsupport.MustGet(t, f.store, "wf-1")
	if rec.Status != pipeline.StatusCaptioning || rec.ArtifactURL(pipeline.StageRender) != "https://cdn/v.mp4" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestHealRoute(t *testing.T) {
	f := newFixture(t, nil)
	f.launch(t)
	f.renderer.SetResult("vid-1", drivers.PollResult{State: drivers.PollDone, ArtifactURL: "https://cdn/v.mp4"})

	status, raw := f.do(t, http.MethodPost, "/api/workflows/wf-1/heal", "", nil)
	if status != http.StatusOK {
		t.Fatalf("heal status %d: %s", status, raw)
	}
	payload := decode[struct {
		Item   api.Workflow        `json:"item"`
		Report *api.FailsafeReport `json:"report"`
	}](t, raw)
	if payload.Item.Status != "captioning" || payload.Report == nil || payload.Report.Advanced != 1 {
		t.Fatalf("unexpected heal payload %+v %+v", payload.Item, payload.Report)
	}
}

func TestScanRouteHonoursClusterLease(t *testing.T) {
	f := newFixture(t, nil)

	status, raw := f.do(t, http.MethodPost, "/api/maintenance/failsafe-scan", "", nil)
	if status != http.StatusOK {
		t.Fatalf("scan status %d: %s", status, raw)
	}
	run := decode[api.CronRun](t, raw)
	if run.Outcome != string(cronlock.OutcomeRan) || run.Report == nil || run.Job != daemon.JobFailsafeScan {
		t.Fatalf("unexpected run %+v", run)
	}

	ok, err := f.store.AcquireLease(context.Background(), daemon.JobFailsafeScan, "other-replica", time.Now(), time.Hour)
	if err != nil || !ok {
		t.Fatalf("AcquireLease: %v %v", ok, err)
	}
	status, raw = f.do(t, http.MethodPost, "/api/maintenance/failsafe-scan", "", nil)
	if status != http.StatusOK {
		t.Fatalf("scan status %d: %s", status, raw)
	}
	run = decode[api.CronRun](t, raw)
	if run.Outcome != string(cronlock.OutcomeSkipped) || !run.Skipped || run.Report != nil {
		t.Fatalf("expected skipped run, got %+v", run)
	}
	if last := f.daemon.Status(context.Background()).LastScan; last == nil || last.Outcome != string(cronlock.OutcomeSkipped) {
		t.Fatalf("expected last scan to be recorded, got %+v", last)
	}
}

func TestPurgeRoute(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := f.store.MarkReceipt(ctx, store.Receipt{
		Key: "renderer:vid-0:carz:done", Vendor: "renderer", Brand: "carz", Outcome: "applied",
		ProcessedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour),
	}); err != nil {
		t.Fatalf("MarkReceipt: %v", err)
	}
	if err := f.store.MarkReceipt(ctx, store.Receipt{
		Key: "renderer:vid-1:carz:done", Vendor: "renderer", Brand: "carz", Outcome: "applied",
		ProcessedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("MarkReceipt: %v", err)
	}
	old, err := f.store.AddDeadLetter(ctx, store.DeadLetter{Vendor: "renderer", Brand: "carz", Body: []byte(`{}`), CreatedAt: now.AddDate(0, 0, -45)})
	if err != nil {
		t.Fatalf("AddDeadLetter: %v", err)
	}
	if err := f.store.MarkDeadLetterReplayed(ctx, old, true, "", now); err != nil {
		t.Fatalf("MarkDeadLetterReplayed: %v", err)
	}
	if _, err := f.store.AddDeadLetter(ctx, store.DeadLetter{Vendor: "renderer", Brand: "carz", Body: []byte(`{}`), CreatedAt: now.AddDate(0, 0, -45)}); err != nil {
		t.Fatalf("AddDeadLetter: %v", err)
	}

	status, raw := f.do(t, http.MethodPost, "/api/maintenance/purge", "", nil)
	if status != http.StatusOK {
		t.Fatalf("purge status %d: %s", status, raw)
	}
	run := decode[api.CronRun](t, raw)
	if run.Purged == nil || run.Purged.Receipts != 1 || run.Purged.DeadLetters != 1 {
		t.Fatalf("unexpected purge run %+v", run)
	}
	remaining, err := f.store.ListDeadLetters(ctx, true, 0)
	if err != nil || len(remaining) != 1 || remaining[0].Resolved {
		t.Fatalf("expected the unresolved dead letter to survive, got %+v %v", remaining, err)
	}
}

func TestDeadLetterRoutes(t *testing.T) {
	f := newFixture(t, nil)
	f.launch(t)
	ctx := context.Background()

	id, err := f.store.AddDeadLetter(ctx, store.DeadLetter{
		Vendor: "renderer",
		Brand:  "carz",
		Body:   []byte(`{"event_type":"avatar_video.success","event_data":{"video_id":"vid-1","url":"https://cdn/v.mp4","callback_id":"wf-1"}}`),
		Error:  "database is locked",
	})
	if err != nil {
		t.Fatalf("AddDeadLetter: %v", err)
	}

	status, raw := f.do(t, http.MethodGet, "/api/deadletters", "", nil)
	if status != http.StatusOK {
		t.Fatalf("list status %d: %s", status, raw)
	}
	if items := decode[api.DeadLetterListResponse](t, raw).Items; len(items) != 1 || items[0].ID != id || items[0].Resolved {
		t.Fatalf("unexpected dead letters %+v", items)
	}

	status, raw = f.do(t, http.MethodPost, fmt.Sprintf("/api/deadletters/%d/replay", id), "", nil)
	if status != http.StatusOK {
		t.Fatalf("replay status %d: %s", status, raw)
	}
	if resp := decode[api.ReplayResponse](t, raw); resp.Outcome != "applied" || resp.WorkflowID != "wf-1" {
		t.Fatalf("unexpected replay response %+v", resp)
	}
	if rec := testsupport.MustGet(t, f.store, "wf-1"); rec.Status != pipeline.StatusCaptioning {
		t.Fatalf("expected replay to advance workflow, got %s", rec.Status)
	}

	status, raw = f.do(t, http.MethodGet, "/api/deadletters", "", nil)
	if items := decode[api.DeadLetterListResponse](t, raw).Items; status != http.StatusOK || len(items) != 0 {
		t.Fatalf("expected resolved dead letter to be hidden, got %d %+v", status, items)
	}
	if status, _ := f.do(t, http.MethodPost, "/api/deadletters/999/replay", "", nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for missing dead letter, got %d", status)
	}
	if status, _ := f.do(t, http.MethodPost, "/api/deadletters/abc/replay", "", nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.launch(t)

	status, raw := f.do(t, http.MethodGet, "/metrics", "", nil)
	if status != http.StatusOK {
		t.Fatalf("metrics status %d", status)
	}
	if !strings.Contains(string(raw), "reelflow_workflows_launched_total") {
		t.Fatalf("expected launch counter in metrics output")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, nil)
	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}
