package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelflow/internal/config"
	"reelflow/internal/drivers"
	"reelflow/internal/engine"
	"reelflow/internal/logging"
	"reelflow/internal/metrics"
	"reelflow/internal/pipeline"
	"reelflow/internal/services"
	"reelflow/internal/store"
)

// Outcome classifies a processed delivery in responses, receipts and metrics.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

// Response is the JSON body returned to vendors and replay callers.
type Response struct {
	Status     string `json:"status"`
	Outcome    string `json:"outcome,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Ingress turns vendor callbacks into state machine events.
type Ingress struct {
	cfg      *config.Config
	engine   *engine.Engine
	store    *store.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	limiters *limiterSet
}

// Option configures an Ingress.
type Option func(*Ingress)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingress) { i.metrics = m }
}

// New constructs an Ingress over eng.
func New(cfg *config.Config, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Ingress {
	i := &Ingress{
		cfg:      cfg,
		engine:   eng,
		store:    eng.Store(),
		logger:   logging.NewComponentLogger(logger, "webhooks"),
		limiters: newLimiterSet(cfg.Webhooks.RateLimit, cfg.Webhooks.RateBurst),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Register mounts the webhook route on mux.
func (i *Ingress) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/{vendor}/{brand}", i.handleDelivery)
}

// Handler returns a standalone handler serving only the webhook route.
func (i *Ingress) Handler() http.Handler {
	mux := http.NewServeMux()
	i.Register(mux)
	return mux
}

func (i *Ingress) handleDelivery(w http.ResponseWriter, r *http.Request) {
	vendor := strings.ToLower(r.PathValue("vendor"))
	brand := strings.ToLower(r.PathValue("brand"))
	requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx := services.WithRequestID(services.WithBrand(r.Context(), brand), requestID)
	logger := logging.WithContext(ctx, i.logger).With(logging.String(logging.FieldVendor, vendor))

	stage, ok := drivers.StageForVendor(vendor)
	if !ok {
		i.reply(w, vendor, http.StatusNotFound, Response{Status: "error", Error: "unknown vendor"})
		return
	}
	if _, ok := i.cfg.LookupBrand(brand); !ok {
		logger.Warn("webhook for unknown brand", logging.String(logging.FieldEventType, "webhook_unknown_brand"))
		i.reply(w, vendor, http.StatusNotFound, Response{Status: "error", Error: "unknown brand"})
		return
	}
	if !i.limiters.allow(vendor, brand) {
		w.Header().Set("Retry-After", "1")
		i.reply(w, vendor, http.StatusTooManyRequests, Response{Status: "error", Error: "rate limited"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, i.maxBody()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			i.reply(w, vendor, http.StatusRequestEntityTooLarge, Response{Status: "error", Error: "payload too large"})
			return
		}
		i.reply(w, vendor, http.StatusBadRequest, Response{Status: "error", Error: "read body"})
		return
	}

	if !i.authorized(vendor, r.Header, body) {
		logging.WarnWithContext(logger, "webhook signature rejected", "webhook_unauthorized",
			logging.Alert("webhook_signature"),
			logging.String(logging.FieldErrorHint, "check webhooks.secrets for this vendor"),
		)
		i.reply(w, vendor, http.StatusUnauthorized, Response{Status: "error", Error: "invalid signature"})
		return
	}

	status, resp, procErr := i.process(ctx, logger, vendor, brand, stage, body)
	if status >= http.StatusInternalServerError {
		i.deadLetter(ctx, logger, vendor, brand, body, procErr)
	}
	i.reply(w, vendor, status, resp)
}

func (i *Ingress) maxBody() int64 {
	if i.cfg.Webhooks.MaxBodyBytes > 0 {
		return i.cfg.Webhooks.MaxBodyBytes
	}
	return 1 << 20
}

func (i *Ingress) authorized(vendor string, h http.Header, body []byte) bool {
	secret := i.cfg.Webhooks.Secret(vendor)
	if secret == "" {
		return !i.cfg.Webhooks.RequireSignature
	}
	return verifySignature(secret, body, signatureFrom(h, vendor))
}

// process runs a verified body through parsing, dedupe, resolution and the
// state machine. The returned error explains 4xx/5xx statuses.
func (i *Ingress) process(ctx context.Context, logger *slog.Logger, vendor, brand string, stage pipeline.Stage, body []byte) (int, Response, error) {
	delivery, err := Parse(vendor, body)
	if err != nil {
		logger.Warn("webhook payload rejected",
			logging.String(logging.FieldEventType, "webhook_invalid"),
			logging.Error(err),
		)
		return http.StatusBadRequest, Response{Status: "error", Error: err.Error()}, err
	}
	delivery.Stage = stage
	ctx = services.WithStage(ctx, string(stage))
	logger = logger.With(logging.String(logging.FieldExternalID, delivery.ExternalID))

	key := receiptKey(vendor, brand, delivery)
	now := i.engine.Now()
	seen, err := i.store.HasReceipt(ctx, key, now)
	if err != nil {
		return http.StatusServiceUnavailable, Response{Status: "error", Error: "receipt store unavailable"}, err
	}
	if seen {
		logger.Debug("duplicate webhook delivery", logging.String("receipt", key))
		return http.StatusOK, Response{Status: "ok", Outcome: string(OutcomeDuplicate)}, nil
	}

	rec, err := i.resolve(ctx, brand, delivery)
	if errors.Is(err, store.ErrNotFound) {
		logging.WarnWithContext(logger, "webhook matches no workflow", "webhook_unmatched",
			logging.String(logging.FieldWorkflowID, delivery.WorkflowID),
			logging.String(logging.FieldErrorHint, "the job may belong to another brand or a deleted workflow"),
		)
		return http.StatusNotFound, Response{Status: "error", Error: "workflow not found"}, err
	}
	if err != nil {
		return http.StatusServiceUnavailable, Response{Status: "error", Error: "workflow lookup failed"}, err
	}
	ctx = services.WithWorkflowID(ctx, rec.ID)

	if delivery.Result == ResultDone && delivery.ArtifactURL != "" {
		if _, err := i.store.RecordArtifact(ctx, rec.ID, stage, delivery.ExternalID, delivery.ArtifactURL); err != nil {
			return http.StatusServiceUnavailable, Response{Status: "error", WorkflowID: rec.ID, Error: "record artifact failed"}, err
		}
	}

	res, err := i.engine.Apply(ctx, rec.ID, delivery.Event())
	if err != nil && !res.Applied() {
		return http.StatusServiceUnavailable, Response{Status: "error", WorkflowID: rec.ID, Error: "apply failed"}, err
	}
	if err != nil {
		// The transition landed; only the next submission failed and the
		// failsafe retries it.
		logger.Warn("follow-up submission failed after webhook",
			logging.String(logging.FieldEventType, "webhook_followup_failed"),
			logging.Error(err),
		)
	}

	outcome := Outcome(res.Outcome)
	if outcome == OutcomeStale {
		logger.Debug("stale webhook delivery", logging.String("reason", res.Reason))
	}
	receipt := store.Receipt{
		Key:         key,
		Vendor:      vendor,
		Brand:       brand,
		ExternalID:  delivery.ExternalID,
		Outcome:     string(outcome),
		ProcessedAt: now,
		ExpiresAt:   now.Add(i.receiptTTL()),
	}
	// Ignored deliveries are not remembered so a corrected resend is processed.
	if outcome != OutcomeIgnored {
		if err := i.store.MarkReceipt(ctx, receipt); err != nil {
			logger.Warn("failed to store webhook receipt", logging.Error(err))
		}
	}
	return http.StatusOK, Response{Status: "ok", Outcome: string(outcome), WorkflowID: rec.ID, Reason: res.Reason}, nil
}

func (i *Ingress) receiptTTL() time.Duration {
	if ttl := i.cfg.Webhooks.ReceiptTTL(); ttl > 0 {
		return ttl
	}
	return 24 * time.Hour
}

// resolve finds the workflow a delivery belongs to, by id when the vendor
// echoes it back and by external id otherwise.
func (i *Ingress) resolve(ctx context.Context, brand string, d Delivery) (pipeline.Record, error) {
	if d.WorkflowID != "" {
		rec, err := i.store.Get(ctx, d.WorkflowID)
		if err != nil {
			return pipeline.Record{}, err
		}
		if rec.Brand != brand {
			return pipeline.Record{}, fmt.Errorf("workflow %s belongs to brand %s: %w", rec.ID, rec.Brand, store.ErrNotFound)
		}
		return rec, nil
	}
	return i.store.FindByExternalID(ctx, brand, d.Stage, d.ExternalID)
}

func receiptKey(vendor, brand string, d Delivery) string {
	return strings.Join([]string{vendor, d.ExternalID, brand, d.EventKey}, ":")
}

func (i *Ingress) deadLetter(ctx context.Context, logger *slog.Logger, vendor, brand string, body []byte, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	id, err := i.store.AddDeadLetter(context.WithoutCancel(ctx), store.DeadLetter{
		Vendor:    vendor,
		Brand:     brand,
		Body:      body,
		Error:     msg,
		CreatedAt: i.engine.Now(),
	})
	if err != nil {
		logging.ErrorWithContext(logger, "webhook lost: dead letter write failed", "webhook_lost",
			logging.Alert("webhook_lost"),
			logging.String("cause", msg),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the vendor retries on 503; check database health"),
		)
		return
	}
	logging.WarnWithContext(logger, "webhook dead-lettered", "webhook_dead_letter",
		logging.Int64("dead_letter_id", id),
		logging.String("cause", msg),
		logging.String(logging.FieldErrorHint, "replay with 'reelflow deadletters replay'"),
	)
}

// Replay pushes a dead-lettered body through processing again. Signatures
// are not re-checked; the body was verified when it first arrived.
func (i *Ingress) Replay(ctx context.Context, id int64) (Response, error) {
	dl, err := i.store.GetDeadLetter(ctx, id)
	if err != nil {
		return Response{}, err
	}
	stage, ok := drivers.StageForVendor(dl.Vendor)
	if !ok {
		return Response{}, services.Wrap(services.ErrValidation, "webhooks", "replay", fmt.Sprintf("unknown vendor %q", dl.Vendor), nil)
	}
	ctx = services.WithBrand(ctx, dl.Brand)
	logger := logging.WithContext(ctx, i.logger).With(
		logging.String(logging.FieldVendor, dl.Vendor),
		logging.Int64("dead_letter_id", dl.ID),
	)

	status, resp, procErr := i.process(ctx, logger, dl.Vendor, dl.Brand, stage, dl.Body)
	i.metrics.Webhook(dl.Vendor, "replay_"+resultLabel(status, resp))
	resolved := status < http.StatusMultipleChoices
	errMsg := ""
	if !resolved {
		errMsg = resp.Error
		if procErr != nil {
			errMsg = procErr.Error()
		}
	}
	if err := i.store.MarkDeadLetterReplayed(ctx, dl.ID, resolved, errMsg, i.engine.Now()); err != nil {
		return resp, err
	}
	if !resolved {
		marker := services.ErrTransient
		if status < http.StatusInternalServerError {
			marker = services.ErrValidation
		}
		return resp, services.Wrap(marker, "webhooks", "replay", fmt.Sprintf("dead letter %d still failing (%d)", dl.ID, status), procErr)
	}
	logger.Info("dead letter replayed",
		logging.String(logging.FieldEventType, "dead_letter_replayed"),
		logging.String("outcome", resp.Outcome),
	)
	return resp, nil
}

func (i *Ingress) reply(w http.ResponseWriter, vendor string, status int, resp Response) {
	i.metrics.Webhook(vendor, resultLabel(status, resp))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func resultLabel(status int, resp Response) string {
	if status == http.StatusOK && resp.Outcome != "" {
		return resp.Outcome
	}
	return fmt.Sprintf("http_%d", status)
}
