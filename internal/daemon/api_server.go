package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelflow/internal/api"
	"reelflow/internal/config"
	"reelflow/internal/logging"
	"reelflow/internal/services"
	"reelflow/internal/store"
)

const requestIDHeader = "X-Request-ID"

type apiServer struct {
	bind   string
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, nil
	}
	srv := &apiServer{bind: bind, logger: logger}
	srv.server = &http.Server{
		Handler:           newMux(cfg, d, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// handlers serves the operator API. Every route delegates to the daemon's
// workflow service or maintenance jobs.
type handlers struct {
	daemon  *Daemon
	service *api.WorkflowService
	logger  *slog.Logger
}

func newMux(cfg *config.Config, d *Daemon, logger *slog.Logger) http.Handler {
	h := &handlers{daemon: d, service: d.service, logger: logger}
	guard := requireToken(cfg.API.Token)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealthz)
	for pattern, fn := range map[string]http.HandlerFunc{
		"GET /api/status":                     h.handleStatus,
		"GET /api/workflows":                  h.handleListWorkflows,
		"POST /api/workflows":                 h.handleLaunch,
		"GET /api/workflows/{id}":             h.handleDescribe,
		"POST /api/workflows/{id}/resubmit":   h.handleResubmit,
		"POST /api/workflows/{id}/heal":       h.handleHeal,
		"POST /api/maintenance/failsafe-scan": h.handleScan,
		"POST /api/maintenance/purge":         h.handlePurge,
		"GET /api/deadletters":                h.handleDeadLetters,
		"POST /api/deadletters/{id}/replay":   h.handleReplay,
	} {
		mux.HandleFunc(pattern, guard(fn))
	}
	if cfg.Metrics.Enabled && d.metrics != nil {
		mux.Handle("GET /metrics", d.metrics.Handler())
	}
	// Webhook routes authenticate with vendor signatures, not the operator token.
	d.ingress.Register(mux)

	return withRequestID(mux)
}

// requireToken wraps operator routes with bearer-token checks. An empty
// token leaves the routes open.
func requireToken(token string) func(http.HandlerFunc) http.HandlerFunc {
	want := []byte(token)
	return func(next http.HandlerFunc) http.HandlerFunc {
		if len(want) == 0 {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if ok && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) == 1 {
				next(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="reelflow"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"unauthorized"}`+"\n")
		}
	}
}

// withRequestID tags every request with a correlation id, reusing the
// caller's when present.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}

func (h *handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.daemon.Status(r.Context()))
}

func (h *handlers) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := api.ListOptions{
		Statuses: query["status"],
		Brand:    query.Get("brand"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}
	items, err := h.service.List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.WorkflowListResponse{Items: items})
}

func (h *handlers) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req api.LaunchRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	item, err := h.service.Launch(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, api.WorkflowResponse{Item: item})
}

func (h *handlers) handleDescribe(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.WorkflowResponse{Item: item})
}

func (h *handlers) handleResubmit(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Resubmit(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, api.WorkflowResponse{Item: item})
}

func (h *handlers) handleHeal(w http.ResponseWriter, r *http.Request) {
	item, report, err := h.service.Heal(r.Context(), r.PathValue("id"))
	if err != nil && report == nil {
		h.writeServiceError(w, r, err)
		return
	}
	payload := struct {
		Item   api.Workflow        `json:"item"`
		Report *api.FailsafeReport `json:"report"`
		Error  string              `json:"error,omitempty"`
	}{Item: item, Report: report}
	if err != nil {
		payload.Error = err.Error()
	}
	h.writeJSON(w, http.StatusOK, payload)
}

func (h *handlers) handleScan(w http.ResponseWriter, r *http.Request) {
	run, err := h.daemon.RunScan(r.Context())
	h.writeCronRun(w, r, run, err)
}

func (h *handlers) handlePurge(w http.ResponseWriter, r *http.Request) {
	run, err := h.daemon.Purge(r.Context())
	h.writeCronRun(w, r, run, err)
}

func (h *handlers) writeCronRun(w http.ResponseWriter, r *http.Request, run api.CronRun, err error) {
	if err != nil {
		logging.WarnWithContext(logging.WithContext(r.Context(), h.logger), "manual maintenance run failed", "maintenance_failed",
			logging.String(logging.FieldJob, run.Job),
			logging.Error(err),
		)
		h.writeJSON(w, http.StatusInternalServerError, run)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *handlers) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	includeResolved := query.Get("all") == "1" || strings.EqualFold(query.Get("all"), "true")
	limit, _ := strconv.Atoi(query.Get("limit"))
	items, err := h.service.DeadLetters(r.Context(), includeResolved, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.DeadLetterListResponse{Items: items})
}

func (h *handlers) handleReplay(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid dead letter id")
		return
	}
	resp, err := h.service.Replay(r.Context(), id)
	if err != nil {
		status := statusForError(err)
		if resp.Error == "" {
			resp.Error = err.Error()
		}
		h.writeJSON(w, status, resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// statusForError maps error markers onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrTimeout), errors.Is(err, services.ErrExternalTool):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), h.logger), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	h.writeError(w, status, err.Error())
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
