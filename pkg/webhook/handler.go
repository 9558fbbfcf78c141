// Package webhook receives GitHub App deliveries, verifies them, and hands
// the translated events to the reconciler.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BoardAI/catalysst/pkg/engine"
	"github.com/BoardAI/catalysst/pkg/telemetry"
)

const defaultMaxBodyBytes = 5 << 20

// Delivery outcomes reported in responses and metrics.
const (
	OutcomeRejected   = "rejected"
	OutcomeMalformed  = "malformed"
	OutcomeIgnored    = "ignored"
	OutcomeReconciled = "reconciled"
	OutcomeFailed     = "failed"
)

// Reconciler applies one event.
type Reconciler interface {
	Reconcile(ctx context.Context, cp engine.ControlPlane, event *engine.Event) (*engine.Run, error)
}

// Options configures a Handler.
type Options struct {
	// Secret is the webhook secret deliveries are signed with.
	Secret []byte

	Factory    engine.ControlPlaneFactory
	Reconciler Reconciler
	Logger     zerolog.Logger
	Metrics    *telemetry.Metrics

	// MaxBodyBytes caps the accepted payload size. Zero means 5 MiB.
	MaxBodyBytes int64

	// Limiter counts deliveries that fail signature verification per
	// client. Once a client exceeds RejectedPerMinute its unsigned
	// deliveries answer 429. Signed deliveries are never counted.
	Limiter           RateLimiter
	RejectedPerMinute int
}

// Handler is the HTTP endpoint GitHub delivers webhooks to.
type Handler struct {
	secret     []byte
	factory    engine.ControlPlaneFactory
	reconciler Reconciler
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
	maxBody    int64

	limiter           RateLimiter
	rejectedPerMinute int
}

// NewHandler creates a webhook handler.
func NewHandler(opts Options) (*Handler, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("webhook secret is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("control plane factory is required")
	}
	if opts.Reconciler == nil {
		return nil, errors.New("reconciler is required")
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &Handler{
		secret:     opts.Secret,
		factory:    opts.Factory,
		reconciler: opts.Reconciler,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		maxBody:    maxBody,

		limiter:           opts.Limiter,
		rejectedPerMinute: opts.RejectedPerMinute,
	}, nil
}

// Response is the JSON body returned for every delivery.
type Response struct {
	DeliveryID string      `json:"delivery_id"`
	Event      string      `json:"event,omitempty"`
	Outcome    string      `json:"outcome"`
	Reason     string      `json:"reason,omitempty"`
	Error      string      `json:"error,omitempty"`
	Run        *engine.Run `json:"run,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	deliveryID := gh.DeliveryID(r)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	eventType := gh.WebHookType(r)

	// reqLog travels on the context; logger adds this component's fields.
	reqLog := telemetry.LoggerFrom(r.Context(), h.logger).With().
		Str("delivery_id", deliveryID).
		Str("event", eventType).
		Logger()
	logger := reqLog.With().Str("component", "webhook").Logger()
	resp := Response{DeliveryID: deliveryID, Event: eventType}

	payload, err := gh.ValidatePayload(r, h.secret)
	if err != nil {
		resp.Outcome = OutcomeRejected
		if h.throttled(w, r) {
			logger.Warn().Err(err).Str("client", clientKey(r)).Msg("Rejected delivery from throttled client")
			resp.Error = "too many rejected deliveries"
			h.respond(w, http.StatusTooManyRequests, resp)
			return
		}
		logger.Warn().Err(err).Msg("Rejected delivery with invalid signature")
		resp.Error = "invalid signature"
		h.respond(w, http.StatusUnauthorized, resp)
		return
	}

	event, err := Translate(eventType, deliveryID, payload)
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed delivery")
		resp.Outcome = OutcomeMalformed
		resp.Error = err.Error()
		h.respond(w, http.StatusBadRequest, resp)
		return
	}
	if event == nil {
		logger.Debug().Msg("Ignoring delivery")
		resp.Outcome = OutcomeIgnored
		resp.Reason = "event not handled"
		h.respond(w, http.StatusAccepted, resp)
		return
	}

	resp.Event = string(event.Kind)
	reqLog = reqLog.With().
		Str("kind", string(event.Kind)).
		Int64("installation_id", event.InstallationID).
		Logger()
	ctx := reqLog.WithContext(r.Context())
	logger = reqLog.With().
		Str("component", "webhook").
		Str("repo", event.Repository.FullName()).
		Logger()

	cp, err := h.factory.ForInstallation(ctx, event.InstallationID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to authenticate installation")
		resp.Outcome = OutcomeFailed
		resp.Error = err.Error()
		h.respond(w, statusForError(err), resp)
		return
	}

	run, err := h.reconciler.Reconcile(ctx, cp, event)
	if err != nil {
		logger.Error().Err(err).Str("error_class", engine.ErrorClassOf(err)).Msg("Reconciliation failed before any change")
		resp.Outcome = OutcomeFailed
		resp.Error = err.Error()
		h.respond(w, statusForError(err), resp)
		return
	}

	resp.Run = run
	resp.Reason = run.Reason
	if run.Err != nil {
		logger.Error().
			Err(run.Err).
			Str("run_id", run.ID).
			Str("status", string(run.Status)).
			Bool("retryable", run.Retryable()).
			Msg("Reconciliation failed")
		resp.Outcome = OutcomeFailed
		resp.Error = run.Err.Error()
		h.respond(w, statusForError(run.Err), resp)
		return
	}

	logger.Info().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("actions", run.Summary.Total).
		Msg("Delivery reconciled")
	resp.Outcome = OutcomeReconciled
	h.respond(w, http.StatusOK, resp)
}

// throttled counts a rejected delivery against its client and reports
// whether the client is over budget.
func (h *Handler) throttled(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil || h.rejectedPerMinute <= 0 {
		return false
	}
	decision := h.limiter.Allow(r.Context(), clientKey(r), h.rejectedPerMinute, time.Minute)
	applyRateHeaders(w, h.rejectedPerMinute, decision)
	if decision.Allowed {
		return false
	}

	h.metrics.RecordRateLimitHit("webhook")
	retryAfter := time.Until(decision.WindowEnd)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
	return true
}

// statusForError picks the response code GitHub records for the delivery.
// Retryable failures answer 502 so the delivery can be redelivered.
func statusForError(err error) int {
	switch {
	case engine.ErrorCodeOf(err) == engine.ErrCodeValidation && engine.IsPermanent(err):
		return http.StatusBadRequest
	case engine.IsRetryable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, resp Response) {
	h.metrics.RecordDelivery(resp.Event, resp.Outcome)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to write response")
	}
}
